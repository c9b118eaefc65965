package rx

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by stores when no prescription has the id.
	ErrNotFound = errors.New("prescription not found")
	// ErrAlreadyResolved is returned for transitions out of approved or rejected.
	ErrAlreadyResolved = errors.New("prescription already resolved")
	// ErrInvalidTransition is returned when a transition's precondition fails,
	// e.g. auto-admitting a prescription that needs review.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ImageDecodeError reports an input that no decoder in the fallback chain could
// read. It is the only request-fatal failure.
type ImageDecodeError struct {
	Source   string
	Attempts []string
	Err      error
}

func (e *ImageDecodeError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("decode image %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

// ProviderRateLimited is the distinguishable throttling signal from a
// recognition provider.
type ProviderRateLimited struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderRateLimited) Error() string {
	return fmt.Sprintf("provider %s rate limited: %v", e.Provider, e.Err)
}

func (e *ProviderRateLimited) Unwrap() error { return e.Err }

// ProviderError is any non-throttling provider failure. Never retried.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ExtractionFailed is the escalation of provider failures for one image.
type ExtractionFailed struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ExtractionFailed) Error() string {
	return fmt.Sprintf("extraction failed after %d attempt(s) with %s: %v", e.Attempts, e.Provider, e.Err)
}

func (e *ExtractionFailed) Unwrap() error { return e.Err }

// ParseError describes malformed provider content. The normalizer recovers it
// as an empty candidate list.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse provider output %q: %v", e.Snippet, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a ProviderRateLimited.
func IsRateLimited(err error) bool {
	var rl *ProviderRateLimited
	return errors.As(err, &rl)
}
