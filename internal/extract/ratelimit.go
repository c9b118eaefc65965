package extract

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateState collects throttling signals observed by the HTTP transport during
// one provider call.
type rateState struct {
	mu         sync.Mutex
	limited    bool
	retryAfter time.Duration
}

func (s *rateState) mark(retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limited = true
	s.retryAfter = max(s.retryAfter, retryAfter)
}

func (s *rateState) get() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limited, s.retryAfter
}

type rateStateKey struct{}

func withRateState(ctx context.Context) (context.Context, *rateState) {
	st := &rateState{}
	return context.WithValue(ctx, rateStateKey{}, st), st
}

func rateStateFrom(ctx context.Context) *rateState {
	st, _ := ctx.Value(rateStateKey{}).(*rateState)
	return st
}

// RateLimitTransport marks 429 responses on the call state carried by the
// request context, so provider clients that only return opaque errors still
// surface a typed throttling signal.
type RateLimitTransport struct {
	Base http.RoundTripper
}

func (t *RateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if st := rateStateFrom(req.Context()); st != nil {
			st.mark(parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		}
	}
	return resp, nil
}

// NewHTTPClient returns a client whose transport detects throttling.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: &RateLimitTransport{}}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
