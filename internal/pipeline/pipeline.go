package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Consigna-Supply/gateway/internal/credstore"
	"github.com/Consigna-Supply/gateway/internal/metrics"
	"github.com/Consigna-Supply/gateway/internal/refresh"
	"github.com/Consigna-Supply/gateway/internal/transport"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// Pipeline is the only component other subsystems call to reach the core API.
// It attaches the stored access token, executes the exchange, and on an
// authorization-expired signal refreshes (single-flight) and retries exactly
// once. Every operation terminates in an Envelope.
type Pipeline struct {
	logger    *zap.Logger
	store     credstore.Store
	exec      *transport.Executor
	refresher *refresh.Coordinator
	baseURL   string
	timeout   time.Duration
}

// New constructs the pipeline. baseURL has no trailing slash; timeout bounds
// each individual exchange, not the whole call chain.
func New(logger *zap.Logger, store credstore.Store, exec *transport.Executor, refresher *refresh.Coordinator, baseURL string, timeout time.Duration) *Pipeline {
	return &Pipeline{
		logger:    logger,
		store:     store,
		exec:      exec,
		refresher: refresher,
		baseURL:   baseURL,
		timeout:   timeout,
	}
}

// attempt is an immutable description of one exchange. A retry after refresh
// produces a new value with retried set; the flag caps the retry-after-refresh
// to exactly one per original request.
type attempt struct {
	method  string
	url     string
	header  http.Header
	body    []byte
	retried bool
}

func (a attempt) withRetry() attempt {
	next := a
	next.header = a.header.Clone()
	next.retried = true
	return next
}

// Get performs an authenticated GET.
func (p *Pipeline) Get(ctx context.Context, path string) *Envelope {
	return p.run(ctx, p.jsonAttempt(http.MethodGet, path, nil))
}

// GetPaginated performs a GET with page/limit query parameters. Page is
// clamped to a minimum of 1 and limit defaults to 20; the upper bound on
// limit is enforced by the core, not here.
func (p *Pipeline) GetPaginated(ctx context.Context, path string, page, limit int) *Envelope {
	if page < 1 {
		page = defaultPage
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	sep := "?"
	if u, err := url.Parse(path); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	paged := path + sep + "page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)

	return p.run(ctx, p.jsonAttempt(http.MethodGet, paged, nil))
}

// Post performs an authenticated POST with a JSON body.
func (p *Pipeline) Post(ctx context.Context, path string, body any) *Envelope {
	return p.jsonWithBody(ctx, http.MethodPost, path, body)
}

// Put performs an authenticated PUT with a JSON body.
func (p *Pipeline) Put(ctx context.Context, path string, body any) *Envelope {
	return p.jsonWithBody(ctx, http.MethodPut, path, body)
}

// Patch performs an authenticated PATCH with a JSON body.
func (p *Pipeline) Patch(ctx context.Context, path string, body any) *Envelope {
	return p.jsonWithBody(ctx, http.MethodPatch, path, body)
}

// Delete performs an authenticated DELETE.
func (p *Pipeline) Delete(ctx context.Context, path string) *Envelope {
	return p.run(ctx, p.jsonAttempt(http.MethodDelete, path, nil))
}

func (p *Pipeline) jsonWithBody(ctx context.Context, method, path string, body any) *Envelope {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fail(fmt.Sprintf("encode body: %v", err))
		}
	}
	return p.run(ctx, p.jsonAttempt(method, path, data))
}

func (p *Pipeline) jsonAttempt(method, path string, body []byte) attempt {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if len(body) > 0 {
		header.Set("Content-Type", "application/json")
	}
	header.Set("X-Request-ID", uuid.NewString())

	return attempt{
		method: method,
		url:    p.baseURL + path,
		header: header,
		body:   body,
	}
}

// run executes an attempt, handling the refresh-and-retry-once protocol.
func (p *Pipeline) run(ctx context.Context, att attempt) *Envelope {
	token, err := p.store.Access(ctx)
	if err != nil {
		p.logger.Error("pipeline.store_read_failed", zap.Error(err))
		return fail(err.Error())
	}
	return p.execute(ctx, att, token)
}

func (p *Pipeline) execute(ctx context.Context, att attempt, token string) *Envelope {
	header := att.header.Clone()
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := p.exec.Do(ctx, transport.Request{
		Method:  att.method,
		URL:     att.url,
		Header:  header,
		Body:    att.body,
		Timeout: p.timeout,
	})
	metrics.ObserveDuration(metrics.CoreRequestDuration, start, att.url, att.method)

	switch {
	case err == nil:
		metrics.IncCoreRequest(att.url, att.method, strconv.Itoa(res.Status))
		return p.toEnvelope(att, res)

	case errors.Is(err, transport.ErrUnauthorized):
		if att.retried {
			// The one-retry cap is exhausted: a 401 straight after a
			// successful refresh is surfaced, not retried again.
			metrics.IncCoreRequest(att.url, att.method, "unauthorized")
			return fail("unauthorized")
		}

		newToken, rerr := p.refresher.Refresh(ctx, token)
		if rerr != nil {
			// Credential clearing already happened inside the coordinator.
			metrics.IncCoreRequest(att.url, att.method, "unauthorized")
			return fail(rerr.Error())
		}

		p.logger.Debug("pipeline.replaying_request",
			zap.String("url", att.url),
			zap.String("method", att.method))
		return p.execute(ctx, att.withRetry(), newToken)

	case errors.Is(err, transport.ErrTimeout):
		metrics.IncCoreRequest(att.url, att.method, "timeout")
		return fail("timeout")

	default:
		metrics.IncCoreRequest(att.url, att.method, "transport_error")
		return fail(err.Error())
	}
}

// toEnvelope maps a completed exchange onto the caller-facing envelope. The
// core always replies in envelope form; a domain error (success=false) passes
// through unchanged with no retry.
func (p *Pipeline) toEnvelope(att attempt, res *transport.Result) *Envelope {
	if len(res.Body) == 0 {
		if res.Status >= 200 && res.Status < 300 {
			return &Envelope{Success: true}
		}
		return fail(fmt.Sprintf("core returned %d", res.Status))
	}

	var env Envelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		p.logger.Warn("pipeline.malformed_response",
			zap.String("url", att.url),
			zap.Int("status", res.Status),
			zap.Error(err))
		return fail("malformed response")
	}

	if !env.Success && env.Error == "" {
		env.Error = fmt.Sprintf("core returned %d", res.Status)
	}
	return &env
}
