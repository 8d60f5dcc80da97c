package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Consigna-Supply/gateway/internal/credstore"
	"github.com/Consigna-Supply/gateway/internal/events"
	"github.com/Consigna-Supply/gateway/internal/pipeline"
	"github.com/Consigna-Supply/gateway/pkg/secrets"
)

// ErrLoginFailed is returned when the core rejects the presented credentials.
var ErrLoginFailed = errors.New("login rejected by core")

// Manager owns the session lifecycle around the request pipeline: it creates
// the credential pair on login/verification and removes it on logout. The
// refresh path never goes through here; that is the coordinator's job.
type Manager struct {
	logger *zap.Logger
	pipe   *pipeline.Pipeline
	store  credstore.Store
	events *events.Publisher // optional

	secretsProv secrets.Provider // optional, for headless deployments
	secretCache *secrets.Cache[secrets.Credentials]
	secretKey   string
}

// NewManager constructs the session manager. pub may be nil when no event
// stream is configured.
func NewManager(logger *zap.Logger, pipe *pipeline.Pipeline, store credstore.Store, pub *events.Publisher) *Manager {
	return &Manager{
		logger: logger,
		pipe:   pipe,
		store:  store,
		events: pub,
	}
}

// WithServiceAccount enables ServiceAccountLogin using the given secrets
// provider and Secrets Manager key.
func (m *Manager) WithServiceAccount(prov secrets.Provider, cache *secrets.Cache[secrets.Credentials], key string) *Manager {
	m.secretsProv = prov
	m.secretCache = cache
	m.secretKey = key
	return m
}

// Login authenticates against the core and persists the returned pair.
// The login call itself routes through the pipeline unauthenticated.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	env := m.pipe.Post(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	return m.adopt(ctx, env, "login")
}

// VerifyOTP completes first-login verification and persists the returned pair.
func (m *Manager) VerifyOTP(ctx context.Context, email, code string) error {
	env := m.pipe.Post(ctx, "/auth/verify-otp", map[string]string{
		"email": email,
		"otp":   code,
	})
	return m.adopt(ctx, env, "verify_otp")
}

// Logout tells the core best-effort, clears the stored pair and emits
// session.ended. A core failure does not keep the local session alive.
func (m *Manager) Logout(ctx context.Context) error {
	if env := m.pipe.Post(ctx, "/auth/logout", nil); !env.Success {
		m.logger.Warn("session.remote_logout_failed", zap.String("error", env.Error))
	}

	if err := m.store.Clear(ctx); err != nil {
		return err
	}

	if m.events != nil {
		if err := m.events.PublishSessionEnded(ctx); err != nil {
			m.logger.Warn("session.event_publish_failed", zap.Error(err))
		}
	}

	m.logger.Info("session.ended")
	return nil
}

// Authenticated reports whether a credential pair is currently stored.
func (m *Manager) Authenticated(ctx context.Context) (bool, error) {
	access, err := m.store.Access(ctx)
	if err != nil {
		return false, err
	}
	return access != "", nil
}

// ServiceAccountLogin resolves machine credentials from the secrets provider
// (TTL-cached) and logs in with them.
func (m *Manager) ServiceAccountLogin(ctx context.Context) error {
	if m.secretsProv == nil || m.secretKey == "" {
		return errors.New("service account not configured")
	}

	creds, ok := m.secretCache.Get(m.secretKey)
	if !ok {
		raw, err := m.secretsProv.GetSecret(ctx, m.secretKey)
		if err != nil {
			return fmt.Errorf("resolve service account: %w", err)
		}
		creds = secrets.Credentials{Email: raw["email"], Password: raw["password"]}
		m.secretCache.Put(m.secretKey, creds)
	}

	return m.Login(ctx, creds.Email, creds.Password)
}

// adopt stores the pair carried by a successful auth envelope.
func (m *Manager) adopt(ctx context.Context, env *pipeline.Envelope, flow string) error {
	if !env.Success {
		m.logger.Warn("session.auth_failed",
			zap.String("flow", flow),
			zap.String("error", env.Error))
		return fmt.Errorf("%w: %s", ErrLoginFailed, env.Error)
	}

	var pair credstore.Pair
	if err := env.DecodeData(&pair); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return errors.New("auth response missing tokens")
	}

	if err := m.store.SetPair(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return err
	}

	if m.events != nil {
		if err := m.events.PublishSessionCreated(ctx); err != nil {
			m.logger.Warn("session.event_publish_failed", zap.Error(err))
		}
	}

	m.logger.Info("session.created", zap.String("flow", flow))
	return nil
}
