package model

import "time"

// Session is the identity supplied at login. Token is generated per login and
// lets late results be matched against the session that started them.
type Session struct {
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	AccessToken string    `json:"-"`
	Token       string    `json:"-"`
	LoginAt     time.Time `json:"login_at"`
}

// PromptState describes the "enable notifications" banner.
type PromptState struct {
	Visible              bool `json:"visible"`
	DismissedPermanently bool `json:"dismissed_permanently"`
}

// Snapshot is the read-only view of the notification subsystem handed to consumers.
type Snapshot struct {
	Authenticated bool               `json:"authenticated"`
	UserID        string             `json:"user_id,omitempty"`
	Role          string             `json:"role,omitempty"`
	Permission    PermissionState    `json:"permission"`
	TokenStatus   RegistrationStatus `json:"token_status,omitempty"`
	LastEvent     *NotificationEvent `json:"last_event,omitempty"`
	Prompt        PromptState        `json:"prompt"`
}
