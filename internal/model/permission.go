package model

// PermissionState mirrors the platform's notification permission.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionDefault PermissionState = "default"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// ParsePermission maps a platform-reported value onto a PermissionState.
// Anything unrecognized, including "unsupported", is reported as unknown.
func ParsePermission(s string) PermissionState {
	switch PermissionState(s) {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return PermissionState(s)
	default:
		return PermissionUnknown
	}
}
