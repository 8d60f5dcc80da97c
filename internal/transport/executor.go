package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Consigna-Supply/gateway/pkg/utils"
)

var (
	// ErrUnauthorized is the distinguished authorization-expired classification.
	// Detection is status-based (HTTP 401), never body-based.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout is returned when the per-request timeout expires.
	ErrTimeout = errors.New("timeout")
)

// Request fully describes one HTTP exchange. It carries whatever headers it is
// given; authentication policy lives one layer up.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Result is a completed non-401 exchange: status plus raw body. Interpretation
// of the body (envelope decode, domain errors) is the pipeline's job.
type Result struct {
	Status int
	Body   []byte
}

// Executor performs exactly one network exchange per call. No retries, no
// credential knowledge.
type Executor struct {
	logger *zap.Logger
	http   *http.Client
}

// New creates an Executor on top of the given http.Client.
func New(logger *zap.Logger, httpClient *http.Client) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Executor{logger: logger, http: httpClient}
}

// Do executes req once and classifies the outcome:
//   - HTTP 401 → ErrUnauthorized
//   - network error, timeout, unreadable body → transport failure
//   - anything else → Result with status and raw body
func (e *Executor) Do(ctx context.Context, req Request) (*Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := e.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			e.logger.Warn("transport.timeout",
				zap.String("url", req.URL),
				zap.Duration("timeout", req.Timeout))
			return nil, ErrTimeout
		}
		e.logger.Warn("transport.exchange_failed",
			zap.String("url", req.URL),
			zap.Error(err))
		return nil, fmt.Errorf("exchange failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.logger.Warn("transport.body_read_failed",
			zap.String("url", req.URL),
			zap.Error(err))
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		e.logger.Debug("transport.unauthorized",
			zap.String("url", req.URL),
			zap.String("method", req.Method),
			zap.String("auth", utils.MaskBearer(httpReq.Header.Get("Authorization"))))
		return nil, ErrUnauthorized
	}

	e.logger.Debug("transport.exchange_done",
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return &Result{Status: resp.StatusCode, Body: raw}, nil
}
