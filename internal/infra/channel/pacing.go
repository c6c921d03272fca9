// Package channel implements the delivery transports: sendgrid mail,
// HTTP gateways for sms/push/whatsapp, and the in-app inbox. Transports
// perform exactly one attempt per call; retries and timeouts are owned
// by the dispatcher and the retry controller.
package channel

import (
	"context"

	"golang.org/x/time/rate"
)

// pacer is a token bucket that keeps a transport under its provider's
// request budget. Wait blocks until a token is available or the context
// is cancelled, so the dispatcher's per-attempt deadline still bounds
// the wait.
type pacer struct {
	limiter *rate.Limiter
}

// newPacer builds a pacer allowing requestsPerSecond sustained with the
// given burst. A non-positive rate disables pacing.
func newPacer(requestsPerSecond float64, burst int) *pacer {
	if requestsPerSecond <= 0 {
		return &pacer{}
	}
	return &pacer{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (p *pacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
