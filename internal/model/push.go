package model

import "time"

// RegistrationStatus tracks where a device token stands with the backend.
type RegistrationStatus string

const (
	RegistrationUnregistered RegistrationStatus = "unregistered"
	RegistrationPending      RegistrationStatus = "pending"
	RegistrationRegistered   RegistrationStatus = "registered"
	RegistrationFailed       RegistrationStatus = "failed"
)

// DeviceToken is the push registration token for this device. It is stored
// per device and outlives any single login.
type DeviceToken struct {
	Value              string             `json:"value"`
	AcquiredAt         time.Time          `json:"acquired_at"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
}

// Redact shortens a token for log output.
func Redact(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:12] + "..."
}
