// Package present turns notification events into toasts and platform notifications.
package present

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dukerupert/schoolpush/internal/metrics"
	"github.com/dukerupert/schoolpush/internal/model"
	"github.com/dukerupert/schoolpush/internal/push"
)

const DefaultToastDuration = 5 * time.Second

// Toaster renders in-app toasts.
type Toaster interface {
	ShowToast(t model.Toast)
	DismissToast(id string)
}

// Notifier raises an OS-level notification.
type Notifier interface {
	Notify(ctx context.Context, n model.PlatformNotification) error
}

// Focus reports whether the host application is focused.
type Focus interface {
	Focused() bool
}

// Navigator opens an in-app route.
type Navigator interface {
	Navigate(url string)
}

type PermissionSource interface {
	Current() model.PermissionState
}

// Deps are the collaborators of a Dispatcher. OnExpired is called when the
// push service reports the device's subscription gone.
type Deps struct {
	Toaster    Toaster
	Notifier   Notifier
	Focus      Focus
	Permission PermissionSource
	Navigator  Navigator
	OnExpired  func()
	Duration   time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type activeToast struct {
	toast model.Toast
	timer *clock.Timer
}

// Dispatcher shows exactly what it is given. De-duplication happens upstream.
type Dispatcher struct {
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeToast
}

func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Duration <= 0 {
		deps.Duration = DefaultToastDuration
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Dispatcher{
		deps:   deps,
		logger: deps.Logger.With("component", "present"),
		active: make(map[string]*activeToast),
	}
}

// StyleFor picks the toast treatment for a source type.
func StyleFor(st model.SourceType) model.ToastStyle {
	switch st {
	case model.SourceAttendance:
		return model.ToastStyle{Icon: "calendar-check", Tone: "warning"}
	case model.SourceHomework:
		return model.ToastStyle{Icon: "book-open", Tone: "info"}
	case model.SourceExam:
		return model.ToastStyle{Icon: "clipboard-list", Tone: "accent"}
	case model.SourceBroadcast:
		return model.ToastStyle{Icon: "megaphone", Tone: "primary"}
	case model.SourceSystem:
		return model.ToastStyle{Icon: "bell", Tone: "neutral"}
	default:
		return model.ToastStyle{Icon: "bell", Tone: "neutral"}
	}
}

// Present shows one toast for ev and, when the app is unfocused and
// permission is granted, one platform notification.
func (d *Dispatcher) Present(ctx context.Context, ev model.NotificationEvent) {
	toast := model.Toast{
		ID:         ev.ID,
		Title:      ev.Title,
		Body:       ev.Body,
		SourceType: ev.SourceType,
		URL:        ev.DeepLinkURL,
		Style:      StyleFor(ev.SourceType),
		DurationMS: d.deps.Duration.Milliseconds(),
	}

	d.mu.Lock()
	a := &activeToast{toast: toast}
	d.active[toast.ID] = a
	a.timer = d.deps.Clock.AfterFunc(d.deps.Duration, func() { d.Dismiss(toast.ID) })
	d.mu.Unlock()

	d.deps.Toaster.ShowToast(toast)
	d.deps.Metrics.Toast(string(ev.SourceType))

	if d.deps.Focus.Focused() || d.deps.Permission.Current() != model.PermissionGranted {
		return
	}

	tag := ev.MessageID
	if tag == "" {
		tag = ev.ID
	}
	err := d.deps.Notifier.Notify(ctx, model.PlatformNotification{
		Title:     ev.Title,
		Body:      ev.Body,
		URL:       ev.DeepLinkURL,
		Tag:       tag,
		MessageID: ev.MessageID,
		Type:      ev.SourceType,
	})
	switch {
	case err == nil:
		d.deps.Metrics.PlatformNotification("ok")
	case errors.Is(err, push.ErrExpired):
		d.deps.Metrics.PlatformNotification("expired")
		d.logger.Warn("push subscription expired")
		if d.deps.OnExpired != nil {
			d.deps.OnExpired()
		}
	default:
		d.deps.Metrics.PlatformNotification("error")
		d.logger.Warn("platform notification failed", "error", err)
	}
}

// Dismiss removes a toast early. Unknown ids are ignored.
func (d *Dispatcher) Dismiss(id string) {
	d.mu.Lock()
	a, ok := d.active[id]
	if ok {
		delete(d.active, id)
		a.timer.Stop()
	}
	d.mu.Unlock()

	if ok {
		d.deps.Toaster.DismissToast(id)
	}
}

// Click navigates to the toast's deep link, if it has one, and dismisses it.
// It reports whether navigation happened.
func (d *Dispatcher) Click(id string) bool {
	d.mu.Lock()
	a, ok := d.active[id]
	d.mu.Unlock()
	if !ok || a.toast.URL == "" {
		return false
	}

	d.deps.Navigator.Navigate(a.toast.URL)
	d.Dismiss(id)
	return true
}

// Active returns the ids of toasts still on screen.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	return ids
}

// Reset dismisses every toast.
func (d *Dispatcher) Reset() {
	for _, id := range d.Active() {
		d.Dismiss(id)
	}
}
