package entity

// VarType declares how a template variable is validated before
// substitution. Unknown placeholders default to plain strings.
type VarType string

const (
	VarString VarType = "string"
	VarNumber VarType = "number"
	VarDate   VarType = "date" // 2006-01-02
	VarTime   VarType = "time" // 15:04
)

// MessageTemplate is a tenant-scoped message definition keyed by
// (tenant, code, channel). Tenant 0 holds the system-wide fallback
// templates. Templates are read-only to the pipeline.
type MessageTemplate struct {
	ID       int64
	TenantID int64
	Code     string
	Channel  Channel

	// Subject is empty for channels without a subject line (sms, push
	// body-only providers, system).
	Subject string
	Body    string

	// Required lists placeholders that must be supplied by the caller.
	// A referenced-but-missing required placeholder is a render error;
	// optional placeholders render as the empty string.
	Required []string

	// VarTypes maps placeholder names to their validation type.
	VarTypes map[string]VarType
}

// RenderedMessage is the channel-ready output of the template renderer.
type RenderedMessage struct {
	Subject string
	Body    string
}
