package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/schoolpush/internal/logging"
	"github.com/dukerupert/schoolpush/internal/model"
	"github.com/dukerupert/schoolpush/internal/prompt"
)

type fakeCoordinator struct {
	sess      *model.Session
	dismissed []bool
	toasts    []string
	clicked   []string
	prompt    model.PromptState
}

func (f *fakeCoordinator) OnLogin(ctx context.Context, sess model.Session) { f.sess = &sess }
func (f *fakeCoordinator) OnLogout()                                       { f.sess = nil }

func (f *fakeCoordinator) Snapshot() model.Snapshot {
	snap := model.Snapshot{Permission: model.PermissionDefault, Prompt: f.prompt}
	if f.sess != nil {
		snap.Authenticated = true
		snap.UserID = f.sess.UserID
		snap.Role = f.sess.Role
	}
	return snap
}

func (f *fakeCoordinator) Enable(ctx context.Context) prompt.EnableResult {
	return prompt.EnableResult{Granted: true, Registered: true, Message: "Notifications enabled."}
}

func (f *fakeCoordinator) Dismiss(permanent bool) {
	f.dismissed = append(f.dismissed, permanent)
	f.prompt = model.PromptState{DismissedPermanently: permanent}
}

func (f *fakeCoordinator) DismissToast(id string) { f.toasts = append(f.toasts, id) }

func (f *fakeCoordinator) ClickToast(id string) bool {
	f.clicked = append(f.clicked, id)
	return id == "linked"
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginWithIdentity(t *testing.T) {
	coord := &fakeCoordinator{}
	h := NewSessionHandler(coord, logging.Discard())

	req := httptest.NewRequest("POST", "/api/session/login", strings.NewReader(`{"user_id":"4","role":"teacher"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	snap := decode[model.Snapshot](t, rec)
	if !snap.Authenticated || snap.UserID != "4" || snap.Role != "teacher" {
		t.Errorf("snapshot = %+v", snap)
	}
	if coord.sess.Token == "" {
		t.Error("expected session token")
	}
}

func TestLoginWithAccessToken(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "9", "role": "parent"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	coord := &fakeCoordinator{}
	h := NewSessionHandler(coord, logging.Discard())

	body, _ := json.Marshal(map[string]string{"access_token": raw})
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest("POST", "/api/session/login", strings.NewReader(string(body))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if coord.sess.UserID != "9" || coord.sess.AccessToken != raw {
		t.Errorf("session = %+v", coord.sess)
	}
}

func TestLoginRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing user", `{"role":"teacher"}`},
		{"bad token", `{"access_token":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &fakeCoordinator{}
			h := NewSessionHandler(coord, logging.Discard())
			rec := httptest.NewRecorder()
			h.Login(rec, httptest.NewRequest("POST", "/api/session/login", strings.NewReader(tt.body)))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if coord.sess != nil {
				t.Error("session started for a rejected login")
			}
		})
	}
}

func TestLogout(t *testing.T) {
	coord := &fakeCoordinator{sess: &model.Session{UserID: "1"}}
	h := NewSessionHandler(coord, logging.Discard())

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest("POST", "/api/session/logout", nil))

	snap := decode[model.Snapshot](t, rec)
	if snap.Authenticated {
		t.Error("still authenticated after logout")
	}
}

func TestEnable(t *testing.T) {
	h := NewNotificationHandler(&fakeCoordinator{}, "pub", logging.Discard())
	rec := httptest.NewRecorder()
	h.Enable(rec, httptest.NewRequest("POST", "/api/notifications/enable", nil))

	res := decode[prompt.EnableResult](t, rec)
	if !res.Granted || !res.Registered {
		t.Errorf("result = %+v", res)
	}
}

func TestDismiss(t *testing.T) {
	coord := &fakeCoordinator{}
	h := NewNotificationHandler(coord, "pub", logging.Discard())

	rec := httptest.NewRecorder()
	h.Dismiss(rec, httptest.NewRequest("POST", "/api/notifications/dismiss", strings.NewReader(`{"permanent":true}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	ps := decode[model.PromptState](t, rec)
	if !ps.DismissedPermanently {
		t.Errorf("prompt = %+v", ps)
	}

	rec = httptest.NewRecorder()
	h.Dismiss(rec, httptest.NewRequest("POST", "/api/notifications/dismiss", nil))
	if len(coord.dismissed) != 2 || coord.dismissed[1] {
		t.Errorf("dismissals = %v, want [true false]", coord.dismissed)
	}
}

func TestToastActions(t *testing.T) {
	coord := &fakeCoordinator{}
	h := NewNotificationHandler(coord, "pub", logging.Discard())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/toasts/{id}/dismiss", h.DismissToast)
	mux.HandleFunc("POST /api/toasts/{id}/click", h.ClickToast)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/toasts/t-1/dismiss", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("dismiss status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/toasts/linked/click", nil))
	got := decode[map[string]bool](t, rec)
	if !got["navigated"] {
		t.Error("expected navigation")
	}
	if len(coord.toasts) != 1 || coord.toasts[0] != "t-1" {
		t.Errorf("dismissed toasts = %v", coord.toasts)
	}
}

func TestVAPIDKey(t *testing.T) {
	h := NewNotificationHandler(&fakeCoordinator{}, "pub-key", logging.Discard())
	rec := httptest.NewRecorder()
	h.VAPIDKey(rec, httptest.NewRequest("GET", "/api/notifications/vapid-key", nil))

	got := decode[map[string]string](t, rec)
	if got["public_key"] != "pub-key" {
		t.Errorf("public_key = %q, want %q", got["public_key"], "pub-key")
	}
}
