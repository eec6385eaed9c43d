package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/schoolpush/internal/auth"
)

type NotificationHandler struct {
	coord    Coordinator
	vapidKey string
	logger   *slog.Logger
}

func NewNotificationHandler(coord Coordinator, vapidKey string, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{coord: coord, vapidKey: vapidKey, logger: logger}
}

// State handles GET /api/notifications/state
func (h *NotificationHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Snapshot())
}

// Enable handles POST /api/notifications/enable
func (h *NotificationHandler) Enable(w http.ResponseWriter, r *http.Request) {
	res := h.coord.Enable(r.Context())
	h.logger.Info("enable notifications", "user_id", auth.UserID(r.Context()), "granted", res.Granted, "registered", res.Registered)
	writeJSON(w, http.StatusOK, res)
}

type dismissRequest struct {
	Permanent bool `json:"permanent"`
}

// Dismiss handles POST /api/notifications/dismiss
func (h *NotificationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}
	h.coord.Dismiss(req.Permanent)
	writeJSON(w, http.StatusOK, h.coord.Snapshot().Prompt)
}

// DismissToast handles POST /api/toasts/{id}/dismiss
func (h *NotificationHandler) DismissToast(w http.ResponseWriter, r *http.Request) {
	h.coord.DismissToast(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// ClickToast handles POST /api/toasts/{id}/click
func (h *NotificationHandler) ClickToast(w http.ResponseWriter, r *http.Request) {
	navigated := h.coord.ClickToast(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"navigated": navigated})
}

// VAPIDKey handles GET /api/notifications/vapid-key
func (h *NotificationHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}
