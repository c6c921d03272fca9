package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sony/gobreaker"
)

// FailureKind is the uniform error classification of a send attempt.
type FailureKind string

const (
	// KindTransient failures are retryable: timeouts, 5xx responses,
	// provider-side rate limiting.
	KindTransient FailureKind = "transient"

	// KindPermanent failures are not retryable: invalid recipient
	// address, template rejected by the provider, auth failure.
	KindPermanent FailureKind = "permanent"

	// KindUnknown failures could not be classified. The retry
	// controller treats them as transient, conservatively.
	KindUnknown FailureKind = "unknown"
)

// Retryable reports whether the retry controller may schedule another
// attempt for this kind.
func (k FailureKind) Retryable() bool {
	return k == KindTransient || k == KindUnknown
}

// ProviderError is a typed failure returned by channel transports,
// carrying enough detail for uniform classification.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Failure wraps a send error with its classification. It is the only
// error type the dispatcher returns.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify maps an arbitrary transport error onto the failure taxonomy.
//
//   - deadline/timeout errors and circuit breaker rejections: transient
//   - provider 429 and 5xx: transient
//   - provider 4xx (other than 429): permanent
//   - everything else: unknown
func Classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrSendTimeout) {
		return KindTransient
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindTransient
	}
	if errors.Is(err, ErrUnsupportedChannel) {
		return KindPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch {
		case provErr.StatusCode == http.StatusTooManyRequests:
			return KindTransient
		case provErr.StatusCode >= 500:
			return KindTransient
		case provErr.StatusCode >= 400:
			return KindPermanent
		default:
			return KindUnknown
		}
	}

	return KindUnknown
}
