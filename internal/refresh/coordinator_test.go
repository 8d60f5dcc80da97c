package refresh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Consigna-Supply/gateway/internal/credstore"
	"github.com/Consigna-Supply/gateway/internal/transport"
)

func newTestStore(t *testing.T) credstore.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return credstore.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func newCoordinator(t *testing.T, store credstore.Store, baseURL string) *Coordinator {
	t.Helper()
	exec := transport.New(zap.NewNop(), &http.Client{})
	return NewCoordinator(zap.NewNop(), store, exec, baseURL, 5*time.Second)
}

// refreshServer counts exchanges and optionally delays or fails them.
func refreshServer(t *testing.T, delay time.Duration, fail bool, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(delay)
		if fail {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "R1", body["refreshToken"], "exchange must carry the stored refresh token")
		_ = json.NewEncoder(w).Encode(credstore.Pair{AccessToken: "A2", RefreshToken: "R2"})
	}))
}

func TestRefresh_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, 50*time.Millisecond, false, &calls)
	defer srv.Close()

	store := newTestStore(t)
	require.NoError(t, store.SetPair(context.Background(), "A1", "R1"))
	coord := newCoordinator(t, store, srv.URL)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = coord.Refresh(context.Background(), "A1")
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "at most one exchange in flight system-wide")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "waiter %d", i)
		assert.Equal(t, "A2", tokens[i], "every waiter observes the same new token")
	}

	access, err := store.Access(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", access)
	refreshTok, err := store.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "R2", refreshTok)
}

func TestRefresh_FailureRejectsAllAndClearsStore(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, 50*time.Millisecond, true, &calls)
	defer srv.Close()

	store := newTestStore(t)
	require.NoError(t, store.SetPair(context.Background(), "A1", "R1"))
	coord := newCoordinator(t, store, srv.URL)

	var expired atomic.Int32
	coord.OnExpired(func() { expired.Add(1) })

	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Refresh(context.Background(), "A1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.ErrorIs(t, errs[i], ErrSessionExpired, "waiter %d", i)
	}

	access, err := store.Access(context.Background())
	require.NoError(t, err)
	assert.Empty(t, access, "failed refresh clears the pair even with queued waiters")

	assert.GreaterOrEqual(t, expired.Load(), int32(1), "expiry must be signalled to listeners")
}

func TestRefresh_StaleAccessFastPath(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, 0, false, &calls)
	defer srv.Close()

	store := newTestStore(t)
	// Another caller already rotated the pair.
	require.NoError(t, store.SetPair(context.Background(), "A2", "R2"))
	coord := newCoordinator(t, store, srv.URL)

	token, err := coord.Refresh(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, "A2", token)
	assert.EqualValues(t, 0, calls.Load(), "no exchange when the stored token is already newer")
}

func TestRefresh_NoStoredRefreshToken(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, 0, false, &calls)
	defer srv.Close()

	store := newTestStore(t)
	coord := newCoordinator(t, store, srv.URL)

	_, err := coord.Refresh(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.EqualValues(t, 0, calls.Load())
}

func TestRefresh_AbandoningWaiterDoesNotDisturbOthers(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, 150*time.Millisecond, false, &calls)
	defer srv.Close()

	store := newTestStore(t)
	require.NoError(t, store.SetPair(context.Background(), "A1", "R1"))
	coord := newCoordinator(t, store, srv.URL)

	patient := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background(), "A1")
		patient <- err
	}()

	// Give the flight time to start, then join with a deadline that expires
	// long before the exchange completes.
	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := coord.Refresh(ctx, "A1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, <-patient, "remaining waiter still resolves")
	assert.EqualValues(t, 1, calls.Load())

	access, err := store.Access(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", access, "abandonment must not stop the exchange from completing")
}

func TestRefresh_AcceptsEnvelopedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"accessToken":"A2","refreshToken":"R2"}}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	require.NoError(t, store.SetPair(context.Background(), "A1", "R1"))
	coord := newCoordinator(t, store, srv.URL)

	token, err := coord.Refresh(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, "A2", token)
}

func TestRefresh_MalformedResponseFailsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	require.NoError(t, store.SetPair(context.Background(), "A1", "R1"))
	coord := newCoordinator(t, store, srv.URL)

	_, err := coord.Refresh(context.Background(), "A1")
	require.ErrorIs(t, err, ErrSessionExpired)

	access, _ := store.Access(context.Background())
	assert.Empty(t, access)
}
