package channel

import (
	"context"
	"fmt"
	"strconv"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/pkg/clock"
	"schoolbell/internal/repository"
	"schoolbell/internal/usecase/dispatch"
)

// SystemTransport delivers in-app notifications by inserting an inbox
// row. It needs no external provider and no recipient address.
type SystemTransport struct {
	inbox repository.InboxRepository
	clock clock.Clock
}

// NewSystemTransport builds the in-app transport. A nil clock falls
// back to the system clock.
func NewSystemTransport(inbox repository.InboxRepository, clk clock.Clock) *SystemTransport {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &SystemTransport{inbox: inbox, clock: clk}
}

// Channel implements dispatch.Transport.
func (t *SystemTransport) Channel() entity.Channel { return entity.ChannelSystem }

// Send implements dispatch.Transport. The inbox row id doubles as the
// provider message id.
func (t *SystemTransport) Send(ctx context.Context, n *entity.Notification, msg *entity.RenderedMessage) (*dispatch.SendResult, error) {
	id, err := t.inbox.Insert(ctx, n.TenantID, n.RecipientID, msg.Subject, msg.Body, t.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("insert inbox row: %w", err)
	}
	return &dispatch.SendResult{
		Provider:          "inbox",
		ProviderMessageID: strconv.FormatInt(id, 10),
	}, nil
}
