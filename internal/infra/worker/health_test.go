package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"
)

func startHealthServer(t *testing.T, addr string) (*HealthServer, context.CancelFunc) {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewHealthServer(addr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
			t.Errorf("unexpected server error: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	return server, cancel
}

func getStatus(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("failed to call %s: %v", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Errorf("failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var response healthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp.StatusCode, response.Status
}

func TestHealthServer_Liveness(t *testing.T) {
	_, cancel := startHealthServer(t, "localhost:19091")
	defer cancel()

	code, status := getStatus(t, "http://localhost:19091/health")
	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", status)
	}
}

func TestHealthServer_Readiness_NotReady(t *testing.T) {
	_, cancel := startHealthServer(t, "localhost:19092")
	defer cancel()

	code, status := getStatus(t, "http://localhost:19092/health/ready")
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if status != "not ready" {
		t.Errorf("expected status 'not ready', got '%s'", status)
	}
}

func TestHealthServer_Readiness_Transition(t *testing.T) {
	server, cancel := startHealthServer(t, "localhost:19093")
	defer cancel()

	if code, _ := getStatus(t, "http://localhost:19093/health/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 initially, got %d", code)
	}

	server.SetReady(true)
	if code, _ := getStatus(t, "http://localhost:19093/health/ready"); code != http.StatusOK {
		t.Errorf("expected status 200 after SetReady(true), got %d", code)
	}

	server.SetReady(false)
	if code, _ := getStatus(t, "http://localhost:19093/health/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 after SetReady(false), got %d", code)
	}
}

func TestHealthServer_GracefulShutdown(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewHealthServer("localhost:19094", logger)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:19094/health")
	if err != nil {
		t.Fatalf("server not running: %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Errorf("failed to close response body: %v", err)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			t.Errorf("expected http.ErrServerClosed, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown timeout")
	}

	if _, err = http.Get("http://localhost:19094/health"); err == nil {
		t.Error("expected connection error after shutdown, but got success")
	}
}

func TestNewHealthServer_StartsNotReady(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	server := NewHealthServer(":9091", logger)

	if server.addr != ":9091" {
		t.Errorf("expected addr ':9091', got '%s'", server.addr)
	}
	if server.isReady.Load() {
		t.Error("expected isReady to be false initially")
	}

	server.SetReady(true)
	if !server.isReady.Load() {
		t.Error("expected isReady to be true after SetReady(true)")
	}
}
