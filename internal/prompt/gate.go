// Package prompt decides when to invite the user to enable notifications.
package prompt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dukerupert/schoolpush/internal/metrics"
	"github.com/dukerupert/schoolpush/internal/model"
)

const (
	DefaultDebounce = 3 * time.Second

	// permissionTimeout bounds a permission prompt the user never answers.
	permissionTimeout = 2 * time.Minute
)

// ShouldShow is the banner visibility rule.
func ShouldShow(authenticated bool, perm model.PermissionState, dismissedPermanently bool, sinceLogin, debounce time.Duration) bool {
	return authenticated &&
		perm == model.PermissionDefault &&
		!dismissedPermanently &&
		sinceLogin >= debounce
}

// Banner shows or hides the invitation.
type Banner interface {
	SetBanner(visible bool)
}

// Store persists the permanent dismissal. The Gate is its only writer.
type Store interface {
	PromptDismissed() (bool, error)
	SetPromptDismissed(dismissed bool) error
}

type Permission interface {
	Current() model.PermissionState
	Request(ctx context.Context) model.PermissionState
}

type Tokens interface {
	EnsureToken(ctx context.Context) (*model.DeviceToken, error)
	RegisterWithBackend(ctx context.Context, sess model.Session, token string)
	IsRegistered(userID, token string) bool
}

// EnableResult acknowledges an explicit enable action.
type EnableResult struct {
	Granted    bool   `json:"granted"`
	Registered bool   `json:"registered"`
	Message    string `json:"message"`
}

type Gate struct {
	banner   Banner
	store    Store
	perm     Permission
	tokens   Tokens
	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex
	sessionCtx context.Context
	sess       model.Session
	armed      bool
	loginAt    time.Time
	dismissed  bool
	hidden     bool
	visible    bool
	timer      *clock.Timer
}

func NewGate(banner Banner, store Store, perm Permission, tokens Tokens, debounce time.Duration, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Gate {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{
		banner:   banner,
		store:    store,
		perm:     perm,
		tokens:   tokens,
		debounce: debounce,
		clock:    clk,
		logger:   logger.With("component", "prompt"),
		metrics:  m,
	}
}

// Arm starts the debounce for a freshly logged-in session. ctx lives as long
// as the session and bounds registrations started from Enable.
func (g *Gate) Arm(ctx context.Context, sess model.Session) {
	dismissed, err := g.store.PromptDismissed()
	if err != nil {
		g.logger.Warn("load prompt dismissal", "error", err)
	}

	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.sessionCtx = ctx
	g.sess = sess
	g.armed = true
	g.loginAt = g.clock.Now()
	g.dismissed = dismissed
	g.hidden = false
	g.timer = g.clock.AfterFunc(g.debounce, g.Refresh)
	g.mu.Unlock()

	g.Refresh()
}

// Disarm hides the banner and forgets the session.
func (g *Gate) Disarm() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.armed = false
	g.hidden = false
	g.sessionCtx = nil
	g.sess = model.Session{}
	g.mu.Unlock()

	g.Refresh()
}

// Refresh re-evaluates visibility and pushes changes to the banner.
func (g *Gate) Refresh() {
	perm := g.perm.Current()

	g.mu.Lock()
	visible := !g.hidden && ShouldShow(g.armed, perm, g.dismissed, g.clock.Now().Sub(g.loginAt), g.debounce)
	changed := visible != g.visible
	g.visible = visible
	g.mu.Unlock()

	if !changed {
		return
	}
	g.metrics.PromptVisible(visible)
	g.banner.SetBanner(visible)
}

// State returns the current prompt state.
func (g *Gate) State() model.PromptState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return model.PromptState{Visible: g.visible, DismissedPermanently: g.dismissed}
}

// Dismiss hides the banner for the rest of the session, or for good when
// permanent is set. Without an armed session it does nothing.
func (g *Gate) Dismiss(permanent bool) {
	g.mu.Lock()
	if !g.armed {
		g.mu.Unlock()
		return
	}
	g.hidden = true
	if permanent {
		g.dismissed = true
	}
	g.mu.Unlock()

	if permanent {
		if err := g.store.SetPromptDismissed(true); err != nil {
			g.logger.Error("persist prompt dismissal", "error", err)
		}
	}
	g.Refresh()
}

// Enable asks for permission and, when granted, acquires and registers the
// device token. It never returns an error; the result says what happened.
func (g *Gate) Enable(ctx context.Context) EnableResult {
	g.mu.Lock()
	armed, sess, sessionCtx := g.armed, g.sess, g.sessionCtx
	g.mu.Unlock()
	if !armed {
		return EnableResult{Message: "Sign in to enable notifications."}
	}

	reqCtx, cancel := context.WithTimeout(ctx, permissionTimeout)
	state := g.perm.Request(reqCtx)
	cancel()

	if state != model.PermissionGranted {
		g.mu.Lock()
		g.hidden = true
		g.mu.Unlock()
		g.Refresh()
		return EnableResult{Message: "Notifications are blocked. You can allow them from your browser settings."}
	}
	g.Refresh()

	tok, err := g.tokens.EnsureToken(sessionCtx)
	if err != nil || tok == nil {
		return EnableResult{Granted: true, Message: "Notifications are on, but this device could not be set up yet."}
	}

	g.tokens.RegisterWithBackend(sessionCtx, sess, tok.Value)
	if !g.tokens.IsRegistered(sess.UserID, tok.Value) {
		return EnableResult{Granted: true, Message: "Notifications are on, but this device could not be registered yet."}
	}
	return EnableResult{Granted: true, Registered: true, Message: "Notifications enabled."}
}
