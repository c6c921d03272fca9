package channel

import (
	"context"
	"net/http"
	"time"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/usecase/dispatch"
)

// SMSConfig configures the SMS gateway transport.
type SMSConfig struct {
	Endpoint string
	APIKey   string
	Sender   string

	RequestsPerSecond float64
	Burst             int
	HTTPTimeout       time.Duration
}

// SMSTransport delivers text messages through a JSON SMS gateway.
type SMSTransport struct {
	sender  string
	gateway *gateway
}

type smsPayload struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Body   string `json:"body"`
	Source string `json:"source"`
}

// NewSMSTransport builds the SMS transport.
func NewSMSTransport(config SMSConfig) *SMSTransport {
	return &SMSTransport{
		sender: config.Sender,
		gateway: &gateway{
			provider:   "sms-gateway",
			endpoint:   config.Endpoint,
			authHeader: "Authorization",
			authValue:  "Bearer " + config.APIKey,
			httpClient: &http.Client{Timeout: config.HTTPTimeout},
			pacer:      newPacer(config.RequestsPerSecond, config.Burst),
		},
	}
}

// Channel implements dispatch.Transport.
func (t *SMSTransport) Channel() entity.Channel { return entity.ChannelSMS }

// Send implements dispatch.Transport. SMS has no subject line; only the
// rendered body is sent.
func (t *SMSTransport) Send(ctx context.Context, n *entity.Notification, msg *entity.RenderedMessage) (*dispatch.SendResult, error) {
	if err := requireAddress("sms-gateway", n.Address); err != nil {
		return nil, err
	}

	messageID, err := t.gateway.post(ctx, smsPayload{
		To:     n.Address,
		From:   t.sender,
		Body:   msg.Body,
		Source: "schoolbell",
	})
	if err != nil {
		return nil, err
	}
	return &dispatch.SendResult{Provider: "sms-gateway", ProviderMessageID: messageID}, nil
}
