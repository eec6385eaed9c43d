package model

import "time"

// SourceType classifies a notification by the school workflow that produced it.
type SourceType string

const (
	SourceAttendance SourceType = "ATTENDANCE"
	SourceHomework   SourceType = "HOMEWORK"
	SourceExam       SourceType = "EXAM"
	SourceBroadcast  SourceType = "BROADCAST"
	SourceSystem     SourceType = "SYSTEM"
)

// ParseSourceType maps a payload "type" value onto a SourceType. Unknown and
// empty values fall back to SourceSystem.
func ParseSourceType(s string) SourceType {
	switch SourceType(s) {
	case SourceAttendance, SourceHomework, SourceExam, SourceBroadcast:
		return SourceType(s)
	default:
		return SourceSystem
	}
}

// Channel identifies the delivery path a message arrived on.
type Channel string

const (
	ChannelForeground Channel = "foreground"
	ChannelRelay      Channel = "relay"
)

// RawPayload is a provider message before normalization.
type RawPayload struct {
	MessageID string            `json:"messageId,omitempty"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
}

// NotificationEvent is the canonical, de-duplicated form of an inbound message.
type NotificationEvent struct {
	ID          string     `json:"id"`
	MessageID   string     `json:"message_id,omitempty"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	SourceType  SourceType `json:"source_type"`
	DeepLinkURL string     `json:"deep_link_url,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	Channel     Channel    `json:"channel"`
}

// ToastStyle is the visual treatment for a toast.
type ToastStyle struct {
	Icon string `json:"icon"`
	Tone string `json:"tone"`
}

// Toast is what the toast renderer receives.
type Toast struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	SourceType SourceType `json:"source_type"`
	URL        string     `json:"url,omitempty"`
	Style      ToastStyle `json:"style"`
	DurationMS int64      `json:"duration_ms"`
}

// PlatformNotification is an OS-level notification raised while the app lacks focus.
type PlatformNotification struct {
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	URL       string     `json:"url,omitempty"`
	Tag       string     `json:"tag,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Type      SourceType `json:"type,omitempty"`
}

// Data is the notification's data block. The service worker echoes it back
// in the relay message when the notification is clicked, so the click
// carries the same message id as the original push.
func (n PlatformNotification) Data() map[string]string {
	data := make(map[string]string, 3)
	if n.URL != "" {
		data["url"] = n.URL
	}
	if n.MessageID != "" {
		data["message_id"] = n.MessageID
	}
	if n.Type != "" {
		data["type"] = string(n.Type)
	}
	return data
}
