package pipeline

import "encoding/json"

// Envelope is the normalized response shape every caller outside the core
// sees. Transport failures, authorization failures and remote domain errors
// all land here; pipeline operations never return anything else.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DecodeData unmarshals the payload into out.
func (e *Envelope) DecodeData(out any) error {
	return json.Unmarshal(e.Data, out)
}

func fail(reason string) *Envelope {
	return &Envelope{Success: false, Error: reason}
}
