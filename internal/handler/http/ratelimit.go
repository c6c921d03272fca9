package http

import (
	"context"
	"errors"
	"net/http"

	"schoolbell/internal/handler/http/respond"
	"schoolbell/internal/usecase/ratelimit"
)

// RateLimitStatus reads window counters for a scope. Satisfied by
// *ratelimit.Limiter.
type RateLimitStatus interface {
	Status(ctx context.Context, scope string) ([]ratelimit.WindowStatus, error)
}

// RateLimitStatusHandler serves GET /api/ratelimit/status?scope=. The
// scope is either a recipient scope ("user:{tenant}:{recipient}") or a
// tenant scope ("tenant:{tenant}").
type RateLimitStatusHandler struct{ Limiter RateLimitStatus }

func (h RateLimitStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		respond.SafeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		respond.SafeError(w, http.StatusBadRequest, errors.New("scope parameter is required"))
		return
	}

	windows, err := h.Limiter.Status(r.Context(), scope)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"scope":   scope,
		"windows": windows,
	})
}
