package domain

import "time"

// LoginIntent is a validated login buffered for asynchronous processing.
// It is created by intake, lives in the batch accumulator, is serialized once
// into a queue message and then discarded.
type LoginIntent struct {
	Email        string    `json:"email"`
	DeviceID     string    `json:"deviceId"`
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// SameRequest reports whether two intents describe the same in-flight login.
// Duplicate detection compares email, device and connection only; timestamps
// are ignored.
func (i LoginIntent) SameRequest(other LoginIntent) bool {
	return i.Email == other.Email &&
		i.DeviceID == other.DeviceID &&
		i.ConnectionID == other.ConnectionID
}

// BatchRecord is the wire shape of one intent inside a queue message.
// The batch message is a JSON array of these.
type BatchRecord struct {
	Data LoginIntent `json:"data"`
}

// TwoFactorSession is the temporary state bridging the consumer's
// two_factor_required outcome and the synchronous verify-2fa completion.
// Stored under temp:2fa:{email} with a TTL.
type TwoFactorSession struct {
	UserID       string `json:"userId"`
	DeviceID     string `json:"deviceId"`
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

// DeadLetterEnvelope wraps a message whose handler failed, published to the
// dead-letter queue for out-of-band recovery.
type DeadLetterEnvelope struct {
	OriginalMessage any            `json:"originalMessage"`
	Error           DeadLetterInfo `json:"error"`
	Timestamp       string         `json:"timestamp"`
}

// DeadLetterInfo carries structured error metadata alongside the original
// message.
type DeadLetterInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}
