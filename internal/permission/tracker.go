// Package permission observes the platform's notification permission.
package permission

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukerupert/schoolpush/internal/model"
)

var (
	// ErrUnavailable means the platform exposes no notification permission API.
	ErrUnavailable = errors.New("notification permission unavailable")
	// ErrDenied is reported alongside a denied request outcome.
	ErrDenied = errors.New("notification permission denied")
)

// Platform is the host's permission API.
type Platform interface {
	Supported() bool
	State() model.PermissionState
	// RequestPermission asks the user. It may never resolve.
	RequestPermission(ctx context.Context) (model.PermissionState, error)
	// Watch reports externally made changes until the returned func is called.
	Watch(fn func(model.PermissionState)) (stop func())
}

// Disposable cancels a subscription. Dispose may be called more than once.
type Disposable interface {
	Dispose()
}

type subscription struct {
	once sync.Once
	fn   func()
}

func (s *subscription) Dispose() {
	s.once.Do(s.fn)
}

// Tracker holds the last observed permission state and fans changes out to
// subscribers. It never moves granted or denied back to default by itself.
type Tracker struct {
	platform Platform
	logger   *slog.Logger

	mu      sync.Mutex
	current model.PermissionState
	subs    map[int]func(model.PermissionState)
	nextID  int
	stop    func()
}

func NewTracker(platform Platform, logger *slog.Logger) *Tracker {
	t := &Tracker{
		platform: platform,
		logger:   logger.With("component", "permission"),
		subs:     make(map[int]func(model.PermissionState)),
	}
	t.current = t.read()
	return t
}

func (t *Tracker) read() model.PermissionState {
	if t.platform == nil || !t.platform.Supported() {
		return model.PermissionUnknown
	}
	return t.platform.State()
}

// Current returns the last observed state.
func (t *Tracker) Current() model.PermissionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Start refreshes the state from the platform and begins watching for
// external changes. Calling Start twice is a no-op. Unknown stays unknown.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	if t.current != model.PermissionUnknown {
		t.current = t.read()
	}
	if t.current == model.PermissionUnknown {
		t.stop = func() {}
		t.mu.Unlock()
		t.logger.Info("permission api unavailable")
		return
	}
	t.mu.Unlock()

	stop := t.platform.Watch(t.observe)

	t.mu.Lock()
	t.stop = stop
	t.mu.Unlock()
}

// Stop detaches the platform watch.
func (t *Tracker) Stop() {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Subscribe registers fn for state changes.
func (t *Tracker) Subscribe(fn func(model.PermissionState)) Disposable {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return &subscription{fn: func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}}
}

// Request prompts the user when the state is still default. It only ever
// returns granted or denied; errors and unresolved prompts count as denied.
func (t *Tracker) Request(ctx context.Context) model.PermissionState {
	switch cur := t.Current(); cur {
	case model.PermissionGranted, model.PermissionDenied:
		return cur
	case model.PermissionUnknown:
		t.logger.Warn("permission request skipped", "error", ErrUnavailable)
		return model.PermissionDenied
	}

	type outcome struct {
		state model.PermissionState
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := t.platform.RequestPermission(ctx)
		done <- outcome{s, err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		t.logger.Warn("permission request did not resolve", "error", ctx.Err())
		return model.PermissionDenied
	}
	if res.err != nil {
		t.logger.Warn("permission request failed", "error", res.err)
		return model.PermissionDenied
	}

	switch res.state {
	case model.PermissionGranted, model.PermissionDenied:
		t.set(res.state)
		return res.state
	default:
		t.logger.Warn("permission request returned unexpected state", "state", res.state)
		return model.PermissionDenied
	}
}

// observe applies an external change event. A platform that loses its
// permission API reports unknown, which is terminal.
func (t *Tracker) observe(s model.PermissionState) {
	t.set(s)
}

func (t *Tracker) set(s model.PermissionState) {
	t.mu.Lock()
	if t.current == s || t.current == model.PermissionUnknown {
		t.mu.Unlock()
		return
	}
	prev := t.current
	t.current = s
	fns := make([]func(model.PermissionState), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	t.logger.Info("permission changed", "from", prev, "to", s)
	for _, fn := range fns {
		fn(s)
	}
}
