package domain

import "time"

// Event kinds published on the shared user-events channel and pushed to
// clients as {event, data} frames.
const (
	EventConnected              = "connected"
	EventNewDeviceDetected      = "new_device_detected"
	EventTwoFactorRequired      = "two_factor_required"
	EventLoginSuccess           = "login_success"
	EventLoginFailure           = "login_failure"
	EventDeviceVerified         = "device_verified"
	EventDeviceVerifyFailed     = "device_verification_failed"
	EventTwoFactorVerifyFailed  = "two_factor_verification_failed"
	systemEventPrefix           = "system_"
)

// AuthEvent is the envelope published on the pub/sub channel. Events carrying
// a ConnectionID are delivered to exactly that connection; events without one
// are broadcast only when Broadcastable reports true.
type AuthEvent struct {
	Type         string         `json:"type"`
	UserID       string         `json:"userId,omitempty"`
	DeviceID     string         `json:"deviceId,omitempty"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    string         `json:"timestamp"`
}

// NewAuthEvent builds an event stamped with the current time.
func NewAuthEvent(kind, userID, deviceID, connectionID string) AuthEvent {
	return AuthEvent{
		Type:         kind,
		UserID:       userID,
		DeviceID:     deviceID,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

// Broadcastable reports whether an event without a target connection may be
// delivered system-wide. Anything else without a connectionId is dropped.
func (e AuthEvent) Broadcastable() bool {
	if len(e.Type) > len(systemEventPrefix) && e.Type[:len(systemEventPrefix)] == systemEventPrefix {
		return true
	}
	return e.Type == EventLoginFailure
}
