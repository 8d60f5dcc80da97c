package credstore

import (
	"context"
	"errors"
)

// ErrStorage wraps storage-medium failures so callers can treat them uniformly.
var ErrStorage = errors.New("credential storage failure")

// Pair is the live access/refresh credential pair for the current session.
// It is replaced atomically on every successful refresh: readers never observe
// an access token from one pair and a refresh token from another.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Store persists the credential pair across process restarts.
// Absence is reported as an empty string, not an error.
type Store interface {
	// Access returns the current access token, or "" when logged out.
	Access(ctx context.Context) (string, error)

	// Refresh returns the current refresh token, or "" when logged out.
	Refresh(ctx context.Context) (string, error)

	// SetPair persists both tokens together. A concurrent reader sees either
	// the old pair or the new pair, never a mix.
	SetPair(ctx context.Context, access, refresh string) error

	// Clear removes both tokens; used on logout and on unrecoverable refresh failure.
	Clear(ctx context.Context) error
}
