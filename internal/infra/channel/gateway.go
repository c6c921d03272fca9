package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// gateway is the shared HTTP client for JSON provider APIs (sms, push,
// whatsapp). Non-2xx responses become *dispatch.ProviderError via
// providerError so classification stays uniform across channels.
type gateway struct {
	provider   string
	endpoint   string
	authHeader string
	authValue  string
	httpClient *http.Client
	pacer      *pacer
}

// gatewayResponse is the subset of the provider reply the transports
// care about.
type gatewayResponse struct {
	MessageID string `json:"message_id"`
}

// post sends one JSON request and decodes the provider's message id.
// The caller's context carries the attempt deadline.
func (g *gateway) post(ctx context.Context, payload any) (string, error) {
	if err := g.pacer.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s pacing: %w", g.provider, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", g.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", g.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.authHeader != "" {
		req.Header.Set(g.authHeader, g.authValue)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute %s request: %w", g.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", providerError(g.provider, resp.StatusCode, respBody)
	}

	var decoded gatewayResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		// Some providers reply with an empty body on success; the
		// message id is then unavailable but the send succeeded.
		return "", nil
	}
	return decoded.MessageID, nil
}
