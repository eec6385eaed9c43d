// Package surface renders notification UI by broadcasting frames to every
// connected page.
package surface

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/schoolpush/internal/model"
	"github.com/dukerupert/schoolpush/internal/websocket"
)

const (
	FrameToast                = "toast"
	FrameToastDismiss         = "toast_dismiss"
	FrameBanner               = "banner"
	FrameNavigate             = "navigate"
	FramePlatformNotification = "platform_notification"
	FrameState                = "state"
)

// ErrNoAudience is returned when no page is connected to show a notification.
var ErrNoAudience = errors.New("no connected page")

type Broadcaster interface {
	Broadcast(msg websocket.Message)
	ClientCount() int
}

// BannerData is the banner frame body. The page wires its buttons to the
// prompt_enable and prompt_dismiss frames.
type BannerData struct {
	Visible bool `json:"visible"`
}

// PlatformNotificationData is the platform_notification frame body. Data goes
// into the browser notification's data so a click relays it back.
type PlatformNotificationData struct {
	model.PlatformNotification
	Data map[string]string `json:"data"`
}

type Surface struct {
	hub    Broadcaster
	logger *slog.Logger
}

func New(hub Broadcaster, logger *slog.Logger) *Surface {
	return &Surface{hub: hub, logger: logger.With("component", "surface")}
}

func (s *Surface) ShowToast(t model.Toast) {
	s.send(FrameToast, t)
}

func (s *Surface) DismissToast(id string) {
	s.send(FrameToastDismiss, map[string]string{"id": id})
}

func (s *Surface) SetBanner(visible bool) {
	s.send(FrameBanner, BannerData{Visible: visible})
}

func (s *Surface) Navigate(url string) {
	s.send(FrameNavigate, map[string]string{"url": url})
}

// Notify asks the pages to raise the notification through the browser's
// Notification API. Used when the device token is not a web-push subscription.
func (s *Surface) Notify(ctx context.Context, n model.PlatformNotification) error {
	if s.hub.ClientCount() == 0 {
		return ErrNoAudience
	}
	s.send(FramePlatformNotification, PlatformNotificationData{PlatformNotification: n, Data: n.Data()})
	return nil
}

// PublishSnapshot pushes the coordinator state to the pages.
func (s *Surface) PublishSnapshot(snap model.Snapshot) {
	s.send(FrameState, snap)
}

func (s *Surface) send(typ string, data any) {
	msg, err := websocket.NewMessage(typ, "", data)
	if err != nil {
		s.logger.Error("encode frame", "type", typ, "error", err)
		return
	}
	s.hub.Broadcast(msg)
}
