package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/portal/internal/middleware"
	"github.com/hitoshi/portal/internal/model"
	"github.com/hitoshi/portal/internal/notify"
)

// NotificationHandler は表示中の通知のHTTPハンドラー。
type NotificationHandler struct {
	notifier Notifier
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

type notificationResponse struct {
	ID         string    `json:"id"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toNotificationResponse(n notify.Notification) notificationResponse {
	return notificationResponse{
		ID:         n.ID,
		Severity:   string(n.Severity),
		Message:    n.Message,
		DurationMs: n.Duration.Milliseconds(),
		CreatedAt:  n.CreatedAt,
	}
}

// List は表示中の通知を古い順に返す。
// GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.notifier.Active()
	items := make([]notificationResponse, len(active))
	for i, n := range active {
		items[i] = toNotificationResponse(n)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

// Dismiss は通知を閉じる。
// DELETE /api/notifications/{id}
func (h *NotificationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.notifier.Dismiss(r.Context(), id) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotificationNotFoundError(id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
