package entity

// Channel identifies a delivery medium for a notification.
// Channel selection is a pure function of Notification.Channel; each
// channel has its own transport implementation in internal/infra/channel.
type Channel string

const (
	ChannelMail     Channel = "mail"
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSystem   Channel = "system"
)

// Valid reports whether c is one of the known channel variants.
func (c Channel) Valid() bool {
	switch c {
	case ChannelMail, ChannelSMS, ChannelPush, ChannelWhatsApp, ChannelSystem:
		return true
	}
	return false
}

// ChannelAddresses holds the per-channel delivery addresses of a recipient.
// The system channel needs no address: it delivers to the in-app inbox.
type ChannelAddresses struct {
	Email     string
	Phone     string
	PushToken string
}

// For returns the address used by the given channel and whether the
// recipient is reachable on it. WhatsApp reuses the phone number.
func (a ChannelAddresses) For(c Channel) (string, bool) {
	switch c {
	case ChannelMail:
		return a.Email, a.Email != ""
	case ChannelSMS, ChannelWhatsApp:
		return a.Phone, a.Phone != ""
	case ChannelPush:
		return a.PushToken, a.PushToken != ""
	case ChannelSystem:
		return "", true
	}
	return "", false
}
