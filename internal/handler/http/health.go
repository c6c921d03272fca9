package http

import (
	"context"
	"errors"
	"net/http"

	"schoolbell/internal/handler/http/respond"
	"schoolbell/internal/usecase/health"
)

// HealthSnapshots reads the daily per-tenant aggregates. Satisfied by
// *health.Aggregator.
type HealthSnapshots interface {
	CurrentSnapshot(ctx context.Context, tenantID int64) (*health.Snapshot, error)
}

// HealthzHandler answers liveness probes.
type HealthzHandler struct{}

func (HealthzHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthSnapshotHandler serves GET /api/health/snapshot?tenant_id=
// with today's delivery aggregates for one tenant.
type HealthSnapshotHandler struct{ Health HealthSnapshots }

func (h HealthSnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		respond.SafeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	tenantID, err := parseTenantID(r.URL.Query().Get("tenant_id"))
	if err != nil || tenantID == 0 {
		respond.SafeError(w, http.StatusBadRequest, errors.New("tenant_id must be a positive integer"))
		return
	}

	snapshot, err := h.Health.CurrentSnapshot(r.Context(), tenantID)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	respond.JSON(w, http.StatusOK, snapshot)
}
