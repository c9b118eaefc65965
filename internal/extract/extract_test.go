package extract

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu      sync.Mutex
	results []error
	calls   int
	body    string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Submit(_ context.Context, _ image.Image, c Contract) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.results) && p.results[i] != nil {
		return Response{}, p.results[i]
	}
	return Response{Body: p.body, Format: c.Format, Prior: 0.9}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func testConfig() Config {
	return Config{Timeout: time.Second, MaxConcurrent: 2, MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
}

var blank = image.NewGray(image.Rect(0, 0, 4, 4))

func rateLimited(after time.Duration) error {
	return &rx.ProviderRateLimited{Provider: "scripted", RetryAfter: after, Err: errors.New("429")}
}

func TestExtractSuccess(t *testing.T) {
	p := &scriptedProvider{body: `{"medicines": []}`}
	raw, err := New(p, testConfig()).Extract(context.Background(), blank)
	require.NoError(t, err)
	assert.Equal(t, "scripted", raw.Provider)
	assert.Equal(t, rx.FormatJSON, raw.Format)
	assert.Equal(t, `{"medicines": []}`, raw.Body)
	assert.InDelta(t, 0.9, raw.Prior, 1e-9)
}

func TestExtractRetriesOnlyRateLimits(t *testing.T) {
	rec := &sleepRecorder{}
	p := &scriptedProvider{results: []error{rateLimited(0), rateLimited(500 * time.Millisecond)}, body: "[]"}
	raw, err := New(p, testConfig(), WithSleep(rec.sleep)).Extract(context.Background(), blank)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw.Body)
	assert.Equal(t, 3, p.calls)
	// Second wait honors the larger Retry-After.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}, rec.delays)
}

func TestExtractDoesNotRetryOtherErrors(t *testing.T) {
	rec := &sleepRecorder{}
	boom := &rx.ProviderError{Provider: "scripted", Err: errors.New("bad request")}
	p := &scriptedProvider{results: []error{boom}}
	_, err := New(p, testConfig(), WithSleep(rec.sleep)).Extract(context.Background(), blank)

	var failed *rx.ExtractionFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, rec.delays)
	assert.False(t, rx.IsRateLimited(err))
}

func TestExtractEscalatesExhaustedRetries(t *testing.T) {
	rec := &sleepRecorder{}
	p := &scriptedProvider{results: []error{rateLimited(0), rateLimited(0), rateLimited(0), rateLimited(0)}}
	_, err := New(p, testConfig(), WithSleep(rec.sleep)).Extract(context.Background(), blank)

	var failed *rx.ExtractionFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 4, failed.Attempts)
	assert.True(t, rx.IsRateLimited(err))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)
}

func TestBackoffIsCapped(t *testing.T) {
	e := New(&scriptedProvider{}, Config{Timeout: time.Second, MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	assert.Equal(t, time.Second, e.backoff(1, 0))
	assert.Equal(t, 4*time.Second, e.backoff(3, 0))
	assert.Equal(t, 5*time.Second, e.backoff(8, 0))
	assert.Equal(t, 9*time.Second, e.backoff(8, 9*time.Second))
}

type blockingProvider struct {
	release  chan struct{}
	finished chan error
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Submit(ctx context.Context, _ image.Image, _ Contract) (Response, error) {
	n := p.inFlight.Add(1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	defer p.inFlight.Add(-1)
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	if p.finished != nil {
		p.finished <- ctx.Err()
	}
	return Response{Body: "[]", Format: rx.FormatJSON}, ctx.Err()
}

func TestExtractTimeoutIsProviderFailure(t *testing.T) {
	p := &blockingProvider{release: make(chan struct{})}
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	_, err := New(p, cfg).Extract(context.Background(), blank)

	var failed *rx.ExtractionFailed
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, rx.IsRateLimited(err))
}

func TestExtractCallerCancelDetachesCall(t *testing.T) {
	p := &blockingProvider{release: make(chan struct{}), finished: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := New(p, testConfig()).Extract(ctx, blank)
		errc <- err
	}()
	require.Eventually(t, func() bool { return p.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("extract did not return after cancel")
	}

	// The provider call keeps running on its own context and completes.
	close(p.release)
	select {
	case err := <-p.finished:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("provider call did not complete")
	}
}

func TestExtractConcurrencyGate(t *testing.T) {
	p := &blockingProvider{release: make(chan struct{})}
	e := New(p, testConfig())

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Extract(context.Background(), blank)
		}()
	}
	require.Eventually(t, func() bool { return p.inFlight.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.release)
	wg.Wait()
	assert.Equal(t, int32(2), p.maxSeen.Load())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.MaxDelay = time.Millisecond
	assert.Error(t, cfg.Validate())
}
