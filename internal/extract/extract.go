// Package extract calls recognition providers for prescription images. The
// Extractor gates concurrency, bounds every call with a timeout and retries
// only on throttling.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/metrics"
	"github.com/MeKo-Tech/rxscan/internal/rx"
	"golang.org/x/sync/semaphore"
)

// Provider turns an image into a raw medicine description.
type Provider interface {
	Name() string
	Submit(ctx context.Context, img image.Image, contract Contract) (Response, error)
}

// Response is the unparsed answer of a provider.
type Response struct {
	Body             string
	Format           rx.Format
	EngineConfidence *float64
	// Prior is the confidence assumed for items without one.
	Prior            float64
	Structured       bool
	StructuringPrior float64
}

// Config controls call bounds and the throttling backoff.
type Config struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent" json:"max_concurrent"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay" yaml:"base_delay" json:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay" yaml:"max_delay" json:"max_delay"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:       60 * time.Second,
		MaxConcurrent: 4,
		MaxAttempts:   4,
		BaseDelay:     2 * time.Second,
		MaxDelay:      30 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return errors.New("extract timeout must be positive")
	case c.MaxConcurrent < 0:
		return errors.New("max_concurrent must be >= 0 (0 = unlimited)")
	case c.MaxAttempts < 1:
		return errors.New("max_attempts must be >= 1")
	case c.BaseDelay < 0 || c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("backoff delays must satisfy 0 <= base (%v) <= max (%v)", c.BaseDelay, c.MaxDelay)
	}
	return nil
}

// Extractor is safe for concurrent use.
type Extractor struct {
	provider Provider
	contract Contract
	cfg      Config
	sem      *semaphore.Weighted
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

func WithContract(c Contract) Option {
	return func(e *Extractor) { e.contract = c }
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Extractor) { e.sleep = fn }
}

func New(p Provider, cfg Config, opts ...Option) *Extractor {
	e := &Extractor{
		provider: p,
		contract: DefaultContract(),
		cfg:      cfg,
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	if cfg.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Provider returns the wrapped provider's name.
func (e *Extractor) Provider() string { return e.provider.Name() }

// Extract submits img to the provider. Throttled calls are retried with
// exponential backoff; every other failure, and exhausted retries, come back
// as *rx.ExtractionFailed. Caller cancellation returns ctx.Err().
func (e *Extractor) Extract(ctx context.Context, img image.Image) (rx.RawOutput, error) {
	name := e.provider.Name()
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		resp, err := e.call(ctx, img)
		if err == nil {
			metrics.ProviderCall(name, "ok")
			return rx.RawOutput{
				Provider:         name,
				Format:           resp.Format,
				Body:             resp.Body,
				Prior:            resp.Prior,
				EngineConfidence: resp.EngineConfidence,
				Structured:       resp.Structured,
				StructuringPrior: resp.StructuringPrior,
			}, nil
		}
		if ctx.Err() != nil {
			return rx.RawOutput{}, ctx.Err()
		}
		lastErr = err

		var rl *rx.ProviderRateLimited
		if !errors.As(err, &rl) {
			metrics.ProviderCall(name, "error")
			e.logger.Warn("provider call failed", "provider", name, "attempt", attempt, "error", err)
			return rx.RawOutput{}, &rx.ExtractionFailed{Provider: name, Attempts: attempt, Err: err}
		}
		metrics.ProviderCall(name, "rate_limited")
		if attempt == e.cfg.MaxAttempts {
			break
		}
		delay := e.backoff(attempt, rl.RetryAfter)
		e.logger.Info("provider rate limited, backing off",
			"provider", name, "attempt", attempt, "delay_ms", delay.Milliseconds())
		if err := e.sleep(ctx, delay); err != nil {
			return rx.RawOutput{}, err
		}
	}
	e.logger.Warn("provider still rate limited, giving up", "provider", name, "attempts", e.cfg.MaxAttempts)
	return rx.RawOutput{}, &rx.ExtractionFailed{Provider: name, Attempts: e.cfg.MaxAttempts, Err: lastErr}
}

// call runs one provider call. The call itself is detached from caller
// cancellation and bounded by the timeout: a caller that gives up gets
// ctx.Err() at once while the call finishes and its result is dropped.
func (e *Extractor) call(ctx context.Context, img image.Image) (Response, error) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return Response{}, err
		}
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer cancel()
		if e.sem != nil {
			defer e.sem.Release(1)
		}
		start := time.Now()
		resp, err := e.provider.Submit(callCtx, img, e.contract)
		if err == nil && callCtx.Err() != nil {
			err = callCtx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &rx.ProviderError{Provider: e.provider.Name(), Err: fmt.Errorf("timed out after %v: %w", e.cfg.Timeout, err)}
		}
		metrics.ObserveStage(metrics.StageExtract, time.Since(start))
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// backoff doubles BaseDelay per attempt, capped at MaxDelay, and never waits
// less than the provider asked for.
func (e *Extractor) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := e.cfg.BaseDelay
	for i := 1; i < attempt && d < e.cfg.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, e.cfg.MaxDelay)
	return max(d, retryAfter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
