package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/Consigna-Supply/gateway/pkg/model"
)

// --- mock types ---

type mockJetStream struct {
	nats.JetStreamContext
	published []*nats.Msg
	fail      bool
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "mock-stream", Sequence: 1}, nil
}

// --- helper ---

func newTestPublisher(fail bool) (*Publisher, *mockJetStream) {
	js := &mockJetStream{fail: fail}
	return &Publisher{
		js:      js,
		subject: "evt.session",
		service: "consigna-gateway",
	}, js
}

// --- tests ---

func TestPublishSessionExpired(t *testing.T) {
	pub, js := newTestPublisher(false)

	if err := pub.PublishSessionExpired(context.Background()); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(js.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(js.published))
	}

	msg := js.published[0]
	if msg.Subject != "evt.session.expired.v1" {
		t.Errorf("unexpected subject: %s", msg.Subject)
	}
	if got := msg.Header.Get("event_type"); got != model.EventSessionExpired {
		t.Errorf("unexpected event_type header: %s", got)
	}
	if got := msg.Header.Get("service"); got != "consigna-gateway" {
		t.Errorf("unexpected service header: %s", got)
	}

	var env model.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("envelope did not decode: %v", err)
	}
	if env.EventType != model.EventSessionExpired {
		t.Errorf("unexpected event type in envelope: %s", env.EventType)
	}
	if env.ID == env.CorrelationID {
		t.Errorf("expected distinct event and correlation ids")
	}
}

func TestPublishSessionLifecycleSubjects(t *testing.T) {
	pub, js := newTestPublisher(false)

	_ = pub.PublishSessionCreated(context.Background())
	_ = pub.PublishSessionEnded(context.Background())

	if len(js.published) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(js.published))
	}
	if js.published[0].Subject != "evt.session.created.v1" {
		t.Errorf("unexpected subject: %s", js.published[0].Subject)
	}
	if js.published[1].Subject != "evt.session.ended.v1" {
		t.Errorf("unexpected subject: %s", js.published[1].Subject)
	}
}

func TestPublishEnvelope_Failure(t *testing.T) {
	pub, _ := newTestPublisher(true)

	env := model.NewEnvelope("evt.session.expired.v1", model.EventSessionExpired)
	if err := pub.PublishEnvelope(context.Background(), "evt.session.expired.v1", env); err == nil {
		t.Fatal("expected publish error")
	}
}
