package channel

import (
	"context"
	"net/http"
	"time"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/usecase/dispatch"
)

// PushConfig configures the push notification transport.
type PushConfig struct {
	Endpoint  string
	ServerKey string

	RequestsPerSecond float64
	Burst             int
	HTTPTimeout       time.Duration
}

// PushTransport delivers push notifications to a device token through
// the push service's JSON API.
type PushTransport struct {
	gateway *gateway
}

type pushPayload struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NewPushTransport builds the push transport.
func NewPushTransport(config PushConfig) *PushTransport {
	return &PushTransport{
		gateway: &gateway{
			provider:   "push-service",
			endpoint:   config.Endpoint,
			authHeader: "Authorization",
			authValue:  "key=" + config.ServerKey,
			httpClient: &http.Client{Timeout: config.HTTPTimeout},
			pacer:      newPacer(config.RequestsPerSecond, config.Burst),
		},
	}
}

// Channel implements dispatch.Transport.
func (t *PushTransport) Channel() entity.Channel { return entity.ChannelPush }

// Send implements dispatch.Transport. The notification's address is the
// device push token.
func (t *PushTransport) Send(ctx context.Context, n *entity.Notification, msg *entity.RenderedMessage) (*dispatch.SendResult, error) {
	if err := requireAddress("push-service", n.Address); err != nil {
		return nil, err
	}

	messageID, err := t.gateway.post(ctx, pushPayload{
		Token: n.Address,
		Title: msg.Subject,
		Body:  msg.Body,
	})
	if err != nil {
		return nil, err
	}
	return &dispatch.SendResult{Provider: "push-service", ProviderMessageID: messageID}, nil
}
