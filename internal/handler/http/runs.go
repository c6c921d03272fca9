package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"schoolbell/internal/handler/http/respond"
	"schoolbell/internal/repository"
	"schoolbell/internal/usecase/pipeline"
	"schoolbell/internal/usecase/ratelimit"
)

// RunTrigger starts one processing run. Satisfied by *pipeline.Runner.
type RunTrigger interface {
	Run(ctx context.Context, tenantID int64, jobType pipeline.JobType) (*pipeline.RunStats, error)
}

// TriggerRunHandler serves POST /api/runs/{jobType}. An optional
// tenant_id query parameter restricts the run to one tenant; without it
// the run covers all tenants.
type TriggerRunHandler struct{ Runner RunTrigger }

func (h TriggerRunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respond.SafeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	jobType, err := pipeline.ParseJobType(strings.TrimPrefix(r.URL.Path, "/api/runs/"))
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}

	tenantID, err := parseTenantID(r.URL.Query().Get("tenant_id"))
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := h.Runner.Run(r.Context(), tenantID, jobType)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrLockContention):
			respond.SafeError(w, http.StatusConflict, errors.New("run already in progress"))
		case errors.Is(err, ratelimit.ErrRateLimited):
			w.Header().Set("Retry-After", "60")
			respond.SafeError(w, http.StatusTooManyRequests, errors.New("rate limited, try again later"))
		default:
			respond.SafeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	respond.JSON(w, http.StatusOK, stats)
}

// parseTenantID parses an optional tenant_id query value. Empty means
// all tenants.
func parseTenantID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("tenant_id must be a positive integer")
	}
	return id, nil
}
