package channel

import (
	"fmt"

	"schoolbell/internal/usecase/dispatch"
)

// providerError wraps a non-2xx provider response into the typed
// failure the dispatcher classifies.
func providerError(provider string, statusCode int, body []byte) error {
	const maxBodyInError = 512
	msg := string(body)
	if len(msg) > maxBodyInError {
		msg = msg[:maxBodyInError]
	}
	return &dispatch.ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    msg,
	}
}

// requireAddress guards transports that cannot deliver without one.
func requireAddress(provider, address string) error {
	if address == "" {
		return &dispatch.ProviderError{
			Provider:   provider,
			StatusCode: 400,
			Message:    fmt.Sprintf("%s transport requires a recipient address", provider),
		}
	}
	return nil
}
