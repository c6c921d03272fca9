package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/usecase/dispatch"
)

func testNotification(ch entity.Channel, address string) *entity.Notification {
	return &entity.Notification{
		ID:          1,
		TenantID:    1,
		RecipientID: 42,
		Channel:     ch,
		Address:     address,
		Status:      entity.StatusSending,
	}
}

func TestSMSTransport_Send(t *testing.T) {
	var received smsPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(gatewayResponse{MessageID: "sms-123"})
	}))
	defer server.Close()

	transport := NewSMSTransport(SMSConfig{
		Endpoint:    server.URL,
		APIKey:      "test-key",
		Sender:      "SchoolBell",
		HTTPTimeout: 5 * time.Second,
	})

	result, err := transport.Send(context.Background(),
		testNotification(entity.ChannelSMS, "+351900000001"),
		&entity.RenderedMessage{Body: "Training at 18:00"})
	require.NoError(t, err)

	assert.Equal(t, "sms-gateway", result.Provider)
	assert.Equal(t, "sms-123", result.ProviderMessageID)
	assert.Equal(t, "+351900000001", received.To)
	assert.Equal(t, "SchoolBell", received.From)
	assert.Equal(t, "Training at 18:00", received.Body)
}

func TestSMSTransport_ProviderErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer server.Close()

	transport := NewSMSTransport(SMSConfig{Endpoint: server.URL, HTTPTimeout: 5 * time.Second})

	_, err := transport.Send(context.Background(),
		testNotification(entity.ChannelSMS, "+351900000001"),
		&entity.RenderedMessage{Body: "hi"})
	require.Error(t, err)

	var provErr *dispatch.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, http.StatusTooManyRequests, provErr.StatusCode)
	assert.Equal(t, dispatch.KindTransient, dispatch.Classify(err))
}

func TestSMSTransport_MissingAddressIsPermanent(t *testing.T) {
	transport := NewSMSTransport(SMSConfig{Endpoint: "http://unused", HTTPTimeout: time.Second})

	_, err := transport.Send(context.Background(),
		testNotification(entity.ChannelSMS, ""),
		&entity.RenderedMessage{Body: "hi"})
	require.Error(t, err)
	assert.Equal(t, dispatch.KindPermanent, dispatch.Classify(err))
}

func TestWhatsAppTransport_PayloadShape(t *testing.T) {
	var received whatsAppPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(gatewayResponse{MessageID: "wamid.1"})
	}))
	defer server.Close()

	transport := NewWhatsAppTransport(WhatsAppConfig{
		Endpoint:    server.URL,
		AccessToken: "token",
		HTTPTimeout: 5 * time.Second,
	})

	result, err := transport.Send(context.Background(),
		testNotification(entity.ChannelWhatsApp, "+351900000001"),
		&entity.RenderedMessage{Body: "Match tomorrow"})
	require.NoError(t, err)

	assert.Equal(t, "wamid.1", result.ProviderMessageID)
	assert.Equal(t, "whatsapp", received.MessagingProduct)
	assert.Equal(t, "text", received.Type)
	assert.Equal(t, "Match tomorrow", received.Text.Body)
}

func TestPushTransport_EmptySuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	transport := NewPushTransport(PushConfig{
		Endpoint:    server.URL,
		ServerKey:   "key",
		HTTPTimeout: 5 * time.Second,
	})

	result, err := transport.Send(context.Background(),
		testNotification(entity.ChannelPush, "device-token-1"),
		&entity.RenderedMessage{Subject: "Reminder", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "push-service", result.Provider)
	assert.Empty(t, result.ProviderMessageID, "no message id without a response body")
}

func TestGateway_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel the request context.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	transport := NewSMSTransport(SMSConfig{Endpoint: server.URL, HTTPTimeout: 30 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := transport.Send(ctx,
		testNotification(entity.ChannelSMS, "+351900000001"),
		&entity.RenderedMessage{Body: "hi"})
	require.Error(t, err)
	assert.NotEqual(t, dispatch.KindPermanent, dispatch.Classify(err))
}
