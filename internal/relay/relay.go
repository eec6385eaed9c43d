// Package relay receives messages forwarded by the background service worker.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/schoolpush/internal/model"
)

// TypeNotificationClicked is the only message type the service worker posts.
const TypeNotificationClicked = "NOTIFICATION_CLICKED"

const bufferSize = 32

// ErrMalformed is returned by Decode for frames that are not relay messages.
var ErrMalformed = errors.New("malformed relay message")

// Notification is the push payload as the service worker saw it.
type Notification struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// Message is one relay post.
type Message struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification"`
}

// Decode parses a relay frame.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.Type != TypeNotificationClicked {
		return Message{}, fmt.Errorf("%w: unexpected type %q", ErrMalformed, msg.Type)
	}
	if msg.Notification == nil {
		return Message{}, fmt.Errorf("%w: missing notification", ErrMalformed)
	}
	return msg, nil
}

// Payload converts the message for normalization. Data values are
// stringified; the timestamp is epoch milliseconds.
func (m Message) Payload() model.RawPayload {
	if m.Notification == nil {
		return model.RawPayload{}
	}
	n := m.Notification
	raw := model.RawPayload{
		Title: n.Title,
		Body:  n.Body,
	}
	if len(n.Data) > 0 {
		raw.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			switch v := v.(type) {
			case string:
				raw.Data[k] = v
			case nil:
			default:
				raw.Data[k] = fmt.Sprint(v)
			}
		}
	}
	if n.Timestamp > 0 {
		raw.Timestamp = time.UnixMilli(n.Timestamp).UTC()
	}
	return raw
}

// Receiver turns relay posts into a typed channel. The channel is the only
// thing shared with the consumer.
type Receiver struct {
	ch     chan Message
	logger *slog.Logger
}

func NewReceiver(logger *slog.Logger) *Receiver {
	return &Receiver{
		ch:     make(chan Message, bufferSize),
		logger: logger.With("component", "relay"),
	}
}

// C returns the receive side of the relay channel.
func (r *Receiver) C() <-chan Message {
	return r.ch
}

// Post enqueues msg without blocking. It reports false when the buffer is full.
func (r *Receiver) Post(msg Message) bool {
	select {
	case r.ch <- msg:
		return true
	default:
		r.logger.Warn("relay buffer full, dropping message")
		return false
	}
}

// Handler accepts the service worker's websocket and posts every frame it sends.
func (r *Receiver) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := ws.Accept(w, req, &ws.AcceptOptions{
			InsecureSkipVerify: true, // service worker shares the page origin on localhost
		})
		if err != nil {
			r.logger.Error("accept relay connection", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx := req.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			msg, err := Decode(data)
			if err != nil {
				r.logger.Debug("dropping relay frame", "error", err)
				continue
			}
			r.Post(msg)
		}
	}
}
