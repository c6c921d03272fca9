package channel

import (
	"context"
	"net/http"
	"time"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/usecase/dispatch"
)

// WhatsAppConfig configures the WhatsApp Business API transport.
type WhatsAppConfig struct {
	Endpoint    string
	AccessToken string

	RequestsPerSecond float64
	Burst             int
	HTTPTimeout       time.Duration
}

// WhatsAppTransport delivers messages through the WhatsApp Business API.
// It reuses the recipient's phone number as the address.
type WhatsAppTransport struct {
	gateway *gateway
}

type whatsAppPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppText struct {
	Body string `json:"body"`
}

// NewWhatsAppTransport builds the WhatsApp transport.
func NewWhatsAppTransport(config WhatsAppConfig) *WhatsAppTransport {
	return &WhatsAppTransport{
		gateway: &gateway{
			provider:   "whatsapp",
			endpoint:   config.Endpoint,
			authHeader: "Authorization",
			authValue:  "Bearer " + config.AccessToken,
			httpClient: &http.Client{Timeout: config.HTTPTimeout},
			pacer:      newPacer(config.RequestsPerSecond, config.Burst),
		},
	}
}

// Channel implements dispatch.Transport.
func (t *WhatsAppTransport) Channel() entity.Channel { return entity.ChannelWhatsApp }

// Send implements dispatch.Transport.
func (t *WhatsAppTransport) Send(ctx context.Context, n *entity.Notification, msg *entity.RenderedMessage) (*dispatch.SendResult, error) {
	if err := requireAddress("whatsapp", n.Address); err != nil {
		return nil, err
	}

	messageID, err := t.gateway.post(ctx, whatsAppPayload{
		MessagingProduct: "whatsapp",
		To:               n.Address,
		Type:             "text",
		Text:             whatsAppText{Body: msg.Body},
	})
	if err != nil {
		return nil, err
	}
	return &dispatch.SendResult{Provider: "whatsapp", ProviderMessageID: messageID}, nil
}
