package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/handler/http/pathutil"
	"schoolbell/internal/handler/http/respond"
	"schoolbell/internal/pkg/clock"
	"schoolbell/internal/repository"
)

const notificationsPrefix = "/api/notifications/"

type notificationDTO struct {
	ID               int64             `json:"id"`
	TenantID         int64             `json:"tenant_id"`
	RecipientID      int64             `json:"recipient_id"`
	Channel          string            `json:"channel"`
	Address          string            `json:"address"`
	Category         string            `json:"category"`
	TemplateCode     string            `json:"template_code"`
	Variables        map[string]string `json:"variables,omitempty"`
	Status           string            `json:"status"`
	ScheduledAt      time.Time         `json:"scheduled_at"`
	SentAt           *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time        `json:"delivered_at,omitempty"`
	ReadAt           *time.Time        `json:"read_at,omitempty"`
	FailedAt         *time.Time        `json:"failed_at,omitempty"`
	Provider         string            `json:"provider,omitempty"`
	ProviderMessage  string            `json:"provider_message_id,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	RetryCount       int               `json:"retry_count"`
	NextRetryAt      *time.Time        `json:"next_retry_at,omitempty"`
	RetryExhausted   bool              `json:"retry_exhausted"`
	ReminderTargetID *int64            `json:"reminder_target_id,omitempty"`
}

func toNotificationDTO(n *entity.Notification) notificationDTO {
	return notificationDTO{
		ID:               n.ID,
		TenantID:         n.TenantID,
		RecipientID:      n.RecipientID,
		Channel:          string(n.Channel),
		Address:          n.Address,
		Category:         string(n.Category),
		TemplateCode:     n.TemplateCode,
		Variables:        n.Variables,
		Status:           string(n.Status),
		ScheduledAt:      n.ScheduledAt,
		SentAt:           n.SentAt,
		DeliveredAt:      n.DeliveredAt,
		ReadAt:           n.ReadAt,
		FailedAt:         n.FailedAt,
		Provider:         n.Provider,
		ProviderMessage:  n.ProviderMessageID,
		ErrorMessage:     n.ErrorMessage,
		RetryCount:       n.RetryCount,
		NextRetryAt:      n.NextRetryAt,
		RetryExhausted:   n.RetryExhausted,
		ReminderTargetID: n.ReminderTargetID,
	}
}

// NotificationsHandler serves the /api/notifications/ subtree:
//
//	GET  /api/notifications/{id}         load one delivery record
//	POST /api/notifications/{id}/cancel  cancel a non-terminal one
type NotificationsHandler struct {
	Repo  repository.NotificationRepository
	Clock clock.Clock
}

func (h NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, notificationsPrefix)

	if idPart, ok := strings.CutSuffix(rest, "/cancel"); ok {
		h.cancel(w, r, idPart)
		return
	}
	h.get(w, r)
}

func (h NotificationsHandler) get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		respond.SafeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	id, err := pathutil.ExtractID(r.URL.Path, notificationsPrefix)
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("invalid notification id"))
		return
	}

	n, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			respond.SafeError(w, http.StatusNotFound, errors.New("notification not found"))
			return
		}
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	respond.JSON(w, http.StatusOK, toNotificationDTO(n))
}

func (h NotificationsHandler) cancel(w http.ResponseWriter, r *http.Request, idPart string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respond.SafeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	id, err := pathutil.ExtractID(idPart, "")
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, errors.New("invalid notification id"))
		return
	}

	if err := h.Repo.Cancel(r.Context(), id, h.now()); err != nil {
		switch {
		case errors.Is(err, entity.ErrNotFound):
			respond.SafeError(w, http.StatusNotFound, errors.New("notification not found"))
		case errors.Is(err, entity.ErrInvalidTransition):
			respond.SafeError(w, http.StatusConflict, errors.New("notification is already terminal"))
		default:
			respond.SafeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h NotificationsHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return clock.SystemClock{}.Now()
}
