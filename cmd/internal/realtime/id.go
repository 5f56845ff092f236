package realtime

import (
	"time"

	"cupid/cmd/identity/ids"
)

// NewSessionID returns a ULID used as watch session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULIDs sort by time, which keeps logs ordered.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
