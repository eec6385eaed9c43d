package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/schoolpush/internal/model"
	"github.com/dukerupert/schoolpush/internal/prompt"
	"github.com/dukerupert/schoolpush/internal/session"
)

// Coordinator is what the HTTP API drives.
type Coordinator interface {
	OnLogin(ctx context.Context, sess model.Session)
	OnLogout()
	Snapshot() model.Snapshot
	Enable(ctx context.Context) prompt.EnableResult
	Dismiss(permanent bool)
	DismissToast(id string)
	ClickToast(id string) bool
}

type SessionHandler struct {
	coord  Coordinator
	logger *slog.Logger
}

func NewSessionHandler(coord Coordinator, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{coord: coord, logger: logger}
}

type loginRequest struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	AccessToken string `json:"access_token"`
}

// Login handles POST /api/session/login. The web app calls it after its own
// login succeeds, passing either the identity or the backend access token.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	var (
		sess model.Session
		err  error
	)
	if req.UserID == "" && req.AccessToken != "" {
		sess, err = session.FromAccessToken(req.AccessToken, time.Now())
	} else {
		sess, err = session.New(req.UserID, req.Role, req.AccessToken, time.Now())
	}
	if errors.Is(err, session.ErrMissingUser) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	if err != nil {
		h.logger.Warn("login rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid access token"})
		return
	}

	h.coord.OnLogin(r.Context(), sess)
	writeJSON(w, http.StatusOK, h.coord.Snapshot())
}

// Logout handles POST /api/session/logout.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.coord.OnLogout()
	writeJSON(w, http.StatusOK, h.coord.Snapshot())
}
