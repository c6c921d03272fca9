// Package dispatch routes notifications to their channel transport and
// normalizes every outcome into a provider result or a classified
// failure. Each transport owns its own auth and wire format; the
// dispatcher owns channel selection, the bounded per-attempt timeout,
// circuit breaking, and error classification.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"schoolbell/internal/domain/entity"
)

const defaultSendTimeout = 15 * time.Second

// SendResult is the successful outcome of one delivery attempt.
type SendResult struct {
	Provider          string
	ProviderMessageID string
}

// Transport is one channel implementation (SMTP relay, SMS gateway,
// push service, WhatsApp Business API, in-app inbox).
//
// Implementations must respect context cancellation and return
// *ProviderError for provider-reported failures so that classification
// stays uniform across channels.
type Transport interface {
	// Channel returns the channel variant this transport serves.
	Channel() entity.Channel

	// Send performs one delivery attempt.
	Send(ctx context.Context, n *entity.Notification, msg *entity.RenderedMessage) (*SendResult, error)
}

// Dispatcher selects the transport for a notification's channel and
// executes the attempt behind a per-channel circuit breaker.
type Dispatcher struct {
	transports map[entity.Channel]Transport
	breakers   map[entity.Channel]*gobreaker.CircuitBreaker
	timeout    time.Duration
}

// NewDispatcher builds a dispatcher over the given transports. A
// non-positive timeout falls back to 15s. Duplicate channels are a
// programming error and the later transport wins.
func NewDispatcher(transports []Transport, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	d := &Dispatcher{
		transports: make(map[entity.Channel]Transport, len(transports)),
		breakers:   make(map[entity.Channel]*gobreaker.CircuitBreaker, len(transports)),
		timeout:    timeout,
	}
	for _, tr := range transports {
		ch := tr.Channel()
		d.transports[ch] = tr
		d.breakers[ch] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(ch),
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("channel circuit breaker state change",
					slog.String("channel", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
				if to == gobreaker.StateOpen {
					RecordBreakerOpen(name)
				}
			},
		})
	}
	return d
}

// Send performs a single bounded delivery attempt for the notification.
// On failure it returns a *Failure carrying the classification; callers
// hand transient/unknown failures to the retry controller.
func (d *Dispatcher) Send(ctx context.Context, n *entity.Notification, msg *entity.RenderedMessage) (*SendResult, *Failure) {
	transport, ok := d.transports[n.Channel]
	if !ok {
		return nil, &Failure{
			Kind: KindPermanent,
			Err:  fmt.Errorf("%w: %s", ErrUnsupportedChannel, n.Channel),
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	RecordDispatch(string(n.Channel))

	res, err := d.breakers[n.Channel].Execute(func() (interface{}, error) {
		return transport.Send(attemptCtx, n, msg)
	})
	duration := time.Since(start)

	if err != nil {
		// A missed deadline is a timeout regardless of how the
		// transport surfaced it.
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrSendTimeout, d.timeout, err)
		}
		kind := Classify(err)
		RecordFailure(string(n.Channel), string(kind), duration)
		return nil, &Failure{Kind: kind, Err: err}
	}

	result, ok := res.(*SendResult)
	if !ok || result == nil {
		// Transports must return a result on success.
		RecordFailure(string(n.Channel), string(KindUnknown), duration)
		return nil, &Failure{
			Kind: KindUnknown,
			Err:  fmt.Errorf("transport %s returned no result", n.Channel),
		}
	}

	RecordSuccess(string(n.Channel), duration)
	return result, nil
}

// Channels returns the channel variants this dispatcher can serve.
func (d *Dispatcher) Channels() []entity.Channel {
	channels := make([]entity.Channel, 0, len(d.transports))
	for ch := range d.transports {
		channels = append(channels, ch)
	}
	return channels
}
