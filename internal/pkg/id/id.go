package id

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable by
// creation time and are used for user ids.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewConnectionID generates the opaque identifier assigned to a live socket.
// UUIDv4: random and unguessable, never derived from client input.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewCorrelationID generates the id used to match request/reply messages on
// the broker.
func NewCorrelationID() string {
	return uuid.NewString()
}
