package channel

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/usecase/dispatch"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// MailConfig configures the sendgrid mail transport.
type MailConfig struct {
	APIKey    string
	FromName  string
	FromEmail string

	// RequestsPerSecond paces calls to the sendgrid API. Zero disables
	// pacing.
	RequestsPerSecond float64
	Burst             int
}

// MailTransport delivers mail notifications through sendgrid.
type MailTransport struct {
	config MailConfig
	from   *sgmail.Email
	pacer  *pacer
}

// NewMailTransport builds the mail transport.
func NewMailTransport(config MailConfig) *MailTransport {
	return &MailTransport{
		config: config,
		from:   sgmail.NewEmail(config.FromName, config.FromEmail),
		pacer:  newPacer(config.RequestsPerSecond, config.Burst),
	}
}

// Channel implements dispatch.Transport.
func (t *MailTransport) Channel() entity.Channel { return entity.ChannelMail }

// Send implements dispatch.Transport.
func (t *MailTransport) Send(ctx context.Context, n *entity.Notification, msg *entity.RenderedMessage) (*dispatch.SendResult, error) {
	if err := requireAddress("sendgrid", n.Address); err != nil {
		return nil, err
	}
	if err := t.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("sendgrid pacing: %w", err)
	}

	m := t.build(n.Address, msg)

	req := sendgrid.GetRequest(t.config.APIKey, sendgridEndpoint, sendgridHost)
	req.Method = "POST"
	req.Body = sgmail.GetRequestBody(m)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, providerError("sendgrid", resp.StatusCode, []byte(resp.Body))
	}

	result := &dispatch.SendResult{Provider: "sendgrid"}
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		result.ProviderMessageID = ids[0]
	}
	return result, nil
}

func (t *MailTransport) build(address string, msg *entity.RenderedMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail("", address))

	m := sgmail.NewV3Mail()
	m.SetFrom(t.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	return m
}
