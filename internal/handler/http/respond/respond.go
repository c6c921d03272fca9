// Package respond provides utilities for sending HTTP responses in
// JSON format, with error sanitization so provider credentials and
// database DSNs never leak into responses or logs.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already sent; log and move on.
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// Error writes a JSON error response with the given status code and
// the error's message verbatim. Use SafeError for errors that may
// carry internal detail.
func Error(w http.ResponseWriter, code int, err error) {
	JSON(w, code, map[string]string{"error": err.Error()})
}

// safeFragments are markers of errors whose messages are written for
// the caller (validation, lookup failures) rather than describing
// internals.
var safeFragments = []string{
	"required",
	"invalid",
	"not found",
	"already",
	"must be",
	"cannot be",
	"unknown job type",
	"terminal",
	"unauthorized",
	"forbidden",
	"method not allowed",
	"rate limited",
}

// SafeError sanitizes error messages before returning them to callers.
// Validation-style errors pass through; everything else, and any 5xx,
// is logged (with credentials masked) and replaced by a generic
// message.
func SafeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}

	msg := err.Error()
	isSafe := false
	lowerMsg := strings.ToLower(msg)
	for _, fragment := range safeFragments {
		if strings.Contains(lowerMsg, fragment) {
			isSafe = true
			break
		}
	}
	if code >= 500 {
		isSafe = false
	}

	if isSafe {
		JSON(w, code, map[string]string{"error": msg})
		return
	}

	slog.Default().Error("internal server error",
		slog.String("status", http.StatusText(code)),
		slog.Int("code", code),
		slog.String("error", SanitizeError(err)))
	JSON(w, code, map[string]string{"error": "internal server error"})
}
