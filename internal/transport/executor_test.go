package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDo_ReturnsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), srv.Client())
	res, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.JSONEq(t, `{"success":true}`, string(res.Body))
}

func TestDo_CarriesGivenHeaders(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer tok-1")

	exec := New(zap.NewNop(), srv.Client())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Header: header})

	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth.Load())
}

func TestDo_401ClassifiedAsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Body content must not matter for the classification.
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"error":"whatever"}`))
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), srv.Client())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestDo_Non401ErrorStatusIsNotUnauthorized(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		exec := New(zap.NewNop(), srv.Client())
		res, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
		srv.Close()

		require.NoError(t, err, "status %d is a completed exchange, not a transport failure", status)
		assert.Equal(t, status, res.Status)
	}
}

func TestDo_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), srv.Client())
	_, err := exec.Do(context.Background(), Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Timeout: 30 * time.Millisecond,
	})

	require.ErrorIs(t, err, ErrTimeout)
}

func TestDo_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	exec := New(zap.NewNop(), &http.Client{})
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestDo_ExactlyOneExchange(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := New(zap.NewNop(), srv.Client())
	res, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	assert.EqualValues(t, 1, count.Load(), "executor must never retry on its own")
}
