// Package coordinator binds the notification components to the login session.
package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/schoolpush/internal/model"
	"github.com/dukerupert/schoolpush/internal/multiplex"
	"github.com/dukerupert/schoolpush/internal/permission"
	"github.com/dukerupert/schoolpush/internal/present"
	"github.com/dukerupert/schoolpush/internal/prompt"
	"github.com/dukerupert/schoolpush/internal/relay"
	"github.com/dukerupert/schoolpush/internal/token"
)

// Deps are the components a Coordinator drives.
type Deps struct {
	Tracker    *permission.Tracker
	Tokens     *token.Manager
	Mux        *multiplex.Multiplexer
	Dispatcher *present.Dispatcher
	Gate       *prompt.Gate
	Foreground multiplex.Foreground
	Relay      <-chan relay.Message
}

// scope holds everything that lives exactly as long as one login.
type scope struct {
	session model.Session
	ctx     context.Context
	cancel  context.CancelFunc
	sub     permission.Disposable
	muxDone chan struct{}
}

// Coordinator is the only entry point consumers use. Nothing it starts on
// login blocks the caller, and logout tears all of it down.
type Coordinator struct {
	deps   Deps
	logger *slog.Logger

	// lifecycle serializes OnLogin and OnLogout so one scope is torn down
	// before the next is built.
	lifecycle sync.Mutex

	mu       sync.Mutex
	active   *scope
	listener func(model.Snapshot)
}

func New(deps Deps, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		deps:   deps,
		logger: logger.With("component", "coordinator"),
	}
}

// OnChange registers fn to receive a snapshot after every state change.
func (c *Coordinator) OnChange(fn func(model.Snapshot)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// OnLogin starts the session. Any previous session is logged out first. The
// session outlives ctx's cancellation but keeps its values.
func (c *Coordinator) OnLogin(ctx context.Context, sess model.Session) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.logout()

	if sess.Token == "" {
		sess.Token = uuid.NewString()
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &scope{
		session: sess,
		ctx:     sctx,
		cancel:  cancel,
		muxDone: make(chan struct{}),
	}

	c.deps.Tracker.Start()
	s.sub = c.deps.Tracker.Subscribe(func(state model.PermissionState) {
		c.onPermission(s, state)
	})
	c.deps.Tokens.BindSession(sess)

	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	go func() {
		defer close(s.muxDone)
		c.deps.Mux.Run(sctx, c.deps.Foreground, c.deps.Relay)
	}()

	c.deps.Gate.Arm(sctx, sess)

	perm := c.deps.Tracker.Current()
	c.logger.Info("session started", "user_id", sess.UserID, "role", sess.Role, "permission", perm)
	if perm == model.PermissionGranted {
		go c.sync(s)
	}
	c.publish()
}

// OnLogout ends the current session, if any. Registrations still in flight
// are cancelled and their results discarded.
func (c *Coordinator) OnLogout() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.logout()
}

func (c *Coordinator) logout() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	s.sub.Dispose()
	c.deps.Tracker.Stop()
	c.deps.Tokens.ClearOnLogout()
	c.deps.Gate.Disarm()
	<-s.muxDone
	c.deps.Mux.Reset()
	c.deps.Dispatcher.Reset()

	c.logger.Info("session ended", "user_id", s.session.UserID)
	c.publish()
}

// sync makes sure the device token is registered for the session without
// the user doing anything.
func (c *Coordinator) sync(s *scope) {
	tok, err := c.deps.Tokens.EnsureToken(s.ctx)
	if err != nil || tok == nil {
		return
	}
	c.deps.Tokens.RegisterWithBackend(s.ctx, s.session, tok.Value)
	if s.ctx.Err() == nil {
		c.publish()
	}
}

func (c *Coordinator) onPermission(s *scope, state model.PermissionState) {
	if !c.isActive(s) {
		return
	}
	c.deps.Gate.Refresh()
	if state == model.PermissionGranted {
		go c.sync(s)
	}
	c.publish()
}

func (c *Coordinator) isActive(s *scope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == s
}

// Session returns the active session, if any.
func (c *Coordinator) Session() (model.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return model.Session{}, false
	}
	return c.active.session, true
}

// Snapshot returns the read-only view of the subsystem.
func (c *Coordinator) Snapshot() model.Snapshot {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	snap := model.Snapshot{
		Permission: c.deps.Tracker.Current(),
		Prompt:     c.deps.Gate.State(),
		LastEvent:  c.deps.Mux.Current(),
	}
	if s != nil {
		snap.Authenticated = true
		snap.UserID = s.session.UserID
		snap.Role = s.session.Role
	}
	if tok, ok := c.deps.Tokens.Status(); ok {
		snap.TokenStatus = tok.RegistrationStatus
	}
	return snap
}

// Enable handles the banner's enable action.
func (c *Coordinator) Enable(ctx context.Context) prompt.EnableResult {
	res := c.deps.Gate.Enable(ctx)
	c.publish()
	return res
}

// Dismiss handles the banner's dismiss actions. It is ignored while signed out.
func (c *Coordinator) Dismiss(permanent bool) {
	if _, ok := c.Session(); !ok {
		return
	}
	c.deps.Gate.Dismiss(permanent)
	c.publish()
}

func (c *Coordinator) DismissToast(id string) {
	if _, ok := c.Session(); !ok {
		return
	}
	c.deps.Dispatcher.Dismiss(id)
}

func (c *Coordinator) ClickToast(id string) bool {
	if _, ok := c.Session(); !ok {
		return false
	}
	return c.deps.Dispatcher.Click(id)
}

func (c *Coordinator) publish() {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(c.Snapshot())
	}
}
