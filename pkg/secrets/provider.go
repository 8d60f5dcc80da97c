package secrets

import "context"

// Credentials is a service-account login for the Consigna core API.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Provider defines a generic secrets manager interface.
// Concrete implementations (AWS, GCP, etc.) can satisfy this.
type Provider interface {
	// GetSecret retrieves a secret by key/path and returns a key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}
