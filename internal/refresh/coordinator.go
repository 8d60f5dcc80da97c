package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Consigna-Supply/gateway/internal/credstore"
	"github.com/Consigna-Supply/gateway/internal/metrics"
	"github.com/Consigna-Supply/gateway/internal/transport"
	"github.com/Consigna-Supply/gateway/pkg/utils"
)

// ErrSessionExpired signals that the refresh credential is no longer accepted
// and the surrounding application must force a return to an unauthenticated
// state. The coordinator has already cleared the credential store when this is
// returned.
var ErrSessionExpired = errors.New("session expired: re-authentication required")

const flightKey = "token_refresh"

// Coordinator performs single-flight credential renewal: no matter how many
// concurrent callers discover an expired access token, at most one refresh
// exchange runs, and every caller observes that one exchange's outcome.
type Coordinator struct {
	logger  *zap.Logger
	store   credstore.Store
	exec    *transport.Executor
	baseURL string
	timeout time.Duration
	group   singleflight.Group

	// onExpired, when set, is invoked once per failed exchange, after the
	// store has been cleared. Used to emit the session.expired event.
	onExpired func()
}

// NewCoordinator wires the coordinator to the store and transport executor.
func NewCoordinator(logger *zap.Logger, store credstore.Store, exec *transport.Executor, baseURL string, timeout time.Duration) *Coordinator {
	return &Coordinator{
		logger:  logger,
		store:   store,
		exec:    exec,
		baseURL: baseURL,
		timeout: timeout,
	}
}

// OnExpired registers a callback fired after a failed exchange clears the store.
func (c *Coordinator) OnExpired(fn func()) {
	c.onExpired = fn
}

// Refresh returns a valid access token, performing at most one refresh
// exchange system-wide. staleAccess is the token the caller just got a 401
// with: if the store already holds a different token, another caller has
// refreshed in the meantime and that token is returned without an exchange.
//
// A caller may abandon the wait via ctx; the in-flight exchange still runs to
// completion so every other waiter (and the store) is resolved.
func (c *Coordinator) Refresh(ctx context.Context, staleAccess string) (string, error) {
	if current, err := c.store.Access(ctx); err == nil && current != "" && current != staleAccess {
		metrics.IncRefresh("reused")
		return current, nil
	}

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return c.exchange()
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// exchange performs the one in-flight refresh. It deliberately runs on its own
// context so that an abandoning caller cannot cancel it out from under the
// other waiters.
func (c *Coordinator) exchange() (string, error) {
	ctx := context.Background()

	refreshToken, err := c.store.Refresh(ctx)
	if err != nil {
		metrics.IncRefresh("failure")
		return "", err
	}
	if refreshToken == "" {
		return "", c.fail(ctx, errors.New("no refresh token stored"))
	}

	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		metrics.IncRefresh("failure")
		return "", err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	res, err := c.exec.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/auth/refresh",
		Header:  header,
		Body:    body,
		Timeout: c.timeout,
	})
	if err != nil {
		return "", c.fail(ctx, err)
	}
	if res.Status < 200 || res.Status >= 300 {
		return "", c.fail(ctx, fmt.Errorf("refresh endpoint returned %d", res.Status))
	}

	pair, err := decodePair(res.Body)
	if err != nil {
		return "", c.fail(ctx, err)
	}

	// Persist before any waiter is released, so a reader woken by this
	// outcome always sees the new pair.
	if err := c.store.SetPair(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return "", c.fail(ctx, err)
	}

	c.logger.Info("refresh.exchange_success",
		zap.String("access", utils.MaskToken(pair.AccessToken)))
	metrics.IncRefresh("success")
	return pair.AccessToken, nil
}

// fail clears the stored pair, notifies listeners and maps the cause onto
// ErrSessionExpired. A failed refresh is the definitive end of the session.
func (c *Coordinator) fail(ctx context.Context, cause error) error {
	c.logger.Warn("refresh.exchange_failed", zap.Error(cause))
	metrics.IncRefresh("failure")

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("refresh.store_clear_failed", zap.Error(err))
	}
	if c.onExpired != nil {
		c.onExpired()
	}
	return fmt.Errorf("%w: %v", ErrSessionExpired, cause)
}

// decodePair accepts both the bare `{accessToken, refreshToken}` body and the
// enveloped `{success, data: {accessToken, refreshToken}}` form the core uses.
func decodePair(raw []byte) (credstore.Pair, error) {
	var wrapped struct {
		Success *bool          `json:"success"`
		Data    credstore.Pair `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Data.AccessToken != "" && wrapped.Data.RefreshToken != "" {
		return wrapped.Data, nil
	}

	var pair credstore.Pair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return credstore.Pair{}, fmt.Errorf("malformed refresh response: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return credstore.Pair{}, errors.New("refresh response missing tokens")
	}
	return pair, nil
}
