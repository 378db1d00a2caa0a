// Package requester issues outbound API calls with a hard per-attempt timeout
// and adaptive exponential backoff between retries.
package requester

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/metrics"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 64 << 20
)

// Config tunes a Requester.
type Config struct {
	Timeout          time.Duration
	UserAgent        string
	SuccessThreshold int
	MaxDelay         time.Duration
	MaxBodyBytes     int64
}

// Policy describes how one class of request is retried.
type Policy struct {
	// Endpoint labels logs and metrics.
	Endpoint string
	// Retries is the number of retries after the first failed attempt. Zero retries forever.
	Retries int
	// Floor is the lowest delay a success streak may shrink the backoff to.
	Floor time.Duration
}

// Request is a single outbound call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Requester executes requests under a retry policy. It holds no backoff state of its own.
type Requester struct {
	client  *http.Client
	cfg     Config
	sleeper Sleeper
	logger  *zap.Logger
}

// New builds a Requester. Nil collaborators fall back to defaults.
func New(client *http.Client, cfg Config, sleeper Sleeper, logger *zap.Logger) *Requester {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Requester{client: client, cfg: cfg, sleeper: sleeper, logger: logger}
}

// Get issues a GET with query parameters.
func (r *Requester) Get(ctx context.Context, rawURL string, query url.Values, policy Policy, state Backoff) (Response, Backoff, error) {
	return r.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Query: query}, policy, state)
}

// Post issues a POST with a JSON body.
func (r *Requester) Post(ctx context.Context, rawURL string, header http.Header, body []byte, policy Policy, state Backoff) (Response, Backoff, error) {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	return r.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Header: h, Body: body}, policy, state)
}

// Do runs req until it succeeds, the retry budget is spent or ctx ends.
// It returns the updated backoff state in every case. Exhaustion wraps
// harvest.ErrRetriesExhausted; cancellation returns the context error.
func (r *Requester) Do(ctx context.Context, req Request, policy Policy, state Backoff) (Response, Backoff, error) {
	target, err := buildURL(req.URL, req.Query)
	if err != nil {
		return Response{}, state, err
	}

	failures := 0
	for {
		resp, err := r.attempt(ctx, req, target)
		if err == nil {
			metrics.ObserveRequest(policy.Endpoint, "ok")
			return resp, state.OnSuccess(policy.Floor, r.cfg.SuccessThreshold), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, state, fmt.Errorf("%s request aborted: %w", policy.Endpoint, ctxErr)
		}
		metrics.ObserveRequest(policy.Endpoint, "error")

		failures++
		state = state.OnFailure(r.cfg.MaxDelay)
		if policy.Retries > 0 && failures > policy.Retries {
			return Response{}, state, fmt.Errorf("%s after %d attempts: %w: %v",
				policy.Endpoint, failures, harvest.ErrRetriesExhausted, err)
		}

		r.logger.Warn("request failed, backing off",
			zap.String("endpoint", policy.Endpoint),
			zap.String("url", req.URL),
			zap.Int("attempt", failures),
			zap.Duration("delay", state.Current),
			zap.Error(err),
		)
		metrics.ObserveRetry(policy.Endpoint, state.Current)
		if err := r.sleeper.Sleep(ctx, state.Current); err != nil {
			return Response{}, state, fmt.Errorf("%s request aborted: %w", policy.Endpoint, err)
		}
	}
}

func (r *Requester) attempt(ctx context.Context, req Request, target string) (Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if r.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &StatusError{StatusCode: resp.StatusCode}
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

func buildURL(rawURL string, query url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("url must be absolute: " + rawURL)
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}
