// Package multiplex merges the foreground and relay channels into a single
// de-duplicated stream of notification events.
package multiplex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dukerupert/schoolpush/internal/metrics"
	"github.com/dukerupert/schoolpush/internal/model"
	"github.com/dukerupert/schoolpush/internal/relay"
)

// ErrMalformedPayload is returned by Normalize for payloads with nothing to show.
var ErrMalformedPayload = errors.New("malformed push payload")

const DefaultWindow = 5 * time.Second

// Foreground delivers messages that arrive while the page is open.
type Foreground interface {
	OnForegroundMessage(fn func(model.RawPayload)) (unsubscribe func())
}

// Sink receives each distinct event exactly once.
type Sink interface {
	Present(ctx context.Context, ev model.NotificationEvent)
}

type inbound struct {
	raw     model.RawPayload
	channel model.Channel
}

type Multiplexer struct {
	sink    Sink
	window  time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	seen    map[string]time.Time
	current *model.NotificationEvent
}

func New(sink Sink, window time.Duration, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Multiplexer {
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Multiplexer{
		sink:    sink,
		window:  window,
		clock:   clk,
		logger:  logger.With("component", "multiplex"),
		metrics: m,
		seen:    make(map[string]time.Time),
	}
}

// Normalize converts a raw payload into an event. Payloads without a title
// and body fail with ErrMalformedPayload.
func (m *Multiplexer) Normalize(raw model.RawPayload, ch model.Channel) (model.NotificationEvent, error) {
	title := strings.TrimSpace(raw.Title)
	body := strings.TrimSpace(raw.Body)
	if title == "" && body == "" {
		return model.NotificationEvent{}, fmt.Errorf("%w: empty title and body", ErrMalformedPayload)
	}

	receivedAt := raw.Timestamp
	if receivedAt.IsZero() {
		receivedAt = m.clock.Now().UTC()
	}

	return model.NotificationEvent{
		ID:          uuid.NewString(),
		MessageID:   firstOf(raw.Data, raw.MessageID, "message_id", "messageId", "fcmMessageId"),
		Title:       title,
		Body:        body,
		SourceType:  model.ParseSourceType(strings.ToUpper(raw.Data["type"])),
		DeepLinkURL: firstOf(raw.Data, "", "url", "click_action", "link"),
		ReceivedAt:  receivedAt,
		Channel:     ch,
	}, nil
}

func firstOf(data map[string]string, preferred string, keys ...string) string {
	if preferred != "" {
		return preferred
	}
	for _, k := range keys {
		if v := strings.TrimSpace(data[k]); v != "" {
			return v
		}
	}
	return ""
}

// DedupKey identifies the underlying push message. The provider message id
// wins; otherwise title, body and the receive time truncated to the second.
func DedupKey(ev model.NotificationEvent) string {
	if ev.MessageID != "" {
		return "id:" + ev.MessageID
	}
	return fmt.Sprintf("%s|%s|%d", ev.Title, ev.Body, ev.ReceivedAt.Unix())
}

// Run consumes both channels until ctx is cancelled. It is the only goroutine
// that calls the sink.
func (m *Multiplexer) Run(ctx context.Context, fg Foreground, relayC <-chan relay.Message) {
	in := make(chan inbound, 32)

	var unsubscribe func()
	if fg != nil {
		unsubscribe = fg.OnForegroundMessage(func(raw model.RawPayload) {
			select {
			case in <- inbound{raw: raw, channel: model.ChannelForeground}:
			case <-ctx.Done():
			}
		})
	}

	var wg sync.WaitGroup
	if relayC != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case msg, ok := <-relayC:
					if !ok {
						return
					}
					select {
					case in <- inbound{raw: msg.Payload(), channel: model.ChannelRelay}:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	defer func() {
		if unsubscribe != nil {
			unsubscribe()
		}
		wg.Wait()
	}()

	for {
		select {
		case msg := <-in:
			m.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Multiplexer) handle(ctx context.Context, msg inbound) {
	ev, err := m.Normalize(msg.raw, msg.channel)
	if err != nil {
		m.metrics.InboundMessage(string(msg.channel), "malformed")
		m.logger.Debug("dropping payload", "channel", msg.channel, "error", err)
		return
	}
	if !m.admit(ev) {
		m.metrics.InboundMessage(string(msg.channel), "duplicate")
		m.logger.Debug("duplicate notification suppressed", "channel", msg.channel, "title", ev.Title)
		return
	}
	m.metrics.InboundMessage(string(msg.channel), "delivered")
	m.sink.Present(ctx, ev)
}

// admit records ev and reports whether it is new within the window.
func (m *Multiplexer) admit(ev model.NotificationEvent) bool {
	now := m.clock.Now()
	key := DedupKey(ev)

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, at := range m.seen {
		if now.Sub(at) >= m.window {
			delete(m.seen, k)
		}
	}
	if _, ok := m.seen[key]; ok {
		return false
	}
	m.seen[key] = now
	m.current = &ev
	return true
}

// Current returns the most recent distinct event.
func (m *Multiplexer) Current() *model.NotificationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	ev := *m.current
	return &ev
}

// Reset forgets the window and the current event.
func (m *Multiplexer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = make(map[string]time.Time)
	m.current = nil
}
