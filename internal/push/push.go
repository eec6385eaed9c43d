package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/schoolpush/internal/model"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// ErrNoSubscription means there is nowhere to deliver a platform notification.
var ErrNoSubscription = errors.New("no push subscription")

// Payload is the JSON sent to the push service. The service worker reads
// data.url when the notification is clicked.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Tag   string            `json:"tag,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// Service handles sending web push notifications.
type Service struct {
	cfg        Config
	httpClient *http.Client
}

func NewService(cfg Config) *Service {
	if cfg.Subscriber == "" {
		cfg.Subscriber = "mailto:noreply@schoolpush.app"
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// ParseSubscription reads a device token that holds a web-push subscription.
// Opaque provider tokens report false.
func ParseSubscription(token string) (*webpush.Subscription, bool) {
	if !strings.HasPrefix(strings.TrimSpace(token), "{") {
		return nil, false
	}
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return nil, false
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, false
	}
	return &sub, true
}

// Send sends a push notification to a subscription.
func (s *Service) Send(ctx context.Context, sub *webpush.Subscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, sub, &webpush.Options{
		HTTPClient:      s.httpClient,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             3600,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate P-256 key: %w", err)
	}

	publicKey = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	privateKey = base64.RawURLEncoding.EncodeToString(key.Bytes())

	return publicKey, privateKey, nil
}

// TokenSource exposes the current device token.
type TokenSource interface {
	Status() (model.DeviceToken, bool)
}

// Fallback raises a notification some other way, e.g. through the open page.
type Fallback interface {
	Notify(ctx context.Context, n model.PlatformNotification) error
}

// Notifier delivers platform notifications through web push when the device
// token is a push subscription, and through the fallback otherwise.
type Notifier struct {
	service  *Service
	tokens   TokenSource
	fallback Fallback
	logger   *slog.Logger
}

func NewNotifier(service *Service, tokens TokenSource, fallback Fallback, logger *slog.Logger) *Notifier {
	return &Notifier{
		service:  service,
		tokens:   tokens,
		fallback: fallback,
		logger:   logger.With("component", "push"),
	}
}

func (n *Notifier) Notify(ctx context.Context, pn model.PlatformNotification) error {
	if tok, ok := n.tokens.Status(); ok && n.service != nil {
		if sub, ok := ParseSubscription(tok.Value); ok {
			payload := Payload{Title: pn.Title, Body: pn.Body, Tag: pn.Tag, Data: pn.Data()}
			err := n.service.Send(ctx, sub, payload)
			if err != nil {
				return err
			}
			n.logger.Debug("web push sent", "tag", pn.Tag)
			return nil
		}
	}
	if n.fallback == nil {
		return ErrNoSubscription
	}
	return n.fallback.Notify(ctx, pn)
}
