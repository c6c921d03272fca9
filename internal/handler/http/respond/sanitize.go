package respond

import (
	"regexp"
)

var (
	// SendGrid API keys ("SG.<id>.<secret>").
	sendgridKeyPattern = regexp.MustCompile(`SG\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)

	// Bearer tokens echoed into gateway error bodies.
	bearerTokenPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`)

	// Passwords inside database DSNs.
	dbPasswordPattern = regexp.MustCompile(`://([^:/]+):([^@]+)@`)
)

// SanitizeError masks credentials in an error message so it can be
// logged safely. Transport errors routinely embed the request that
// failed, which is where keys and DSNs sneak in.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = sendgridKeyPattern.ReplaceAllString(msg, "SG.****")
	msg = bearerTokenPattern.ReplaceAllString(msg, "Bearer ****")
	msg = dbPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
