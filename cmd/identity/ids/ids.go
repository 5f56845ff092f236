// Package ids provides identifier primitives shared by the server and the device client.
//
// Invitation ids and admin tokens are minted on the device before any network write,
// so links can be shown immediately.
package ids

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// AdminTokenBytes is the entropy of a freshly minted admin token.
const AdminTokenBytes = 32

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, used for activity entries and webhook receipts.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewInvitationID returns a random (v4) UUID, the public handle of an invitation.
func NewInvitationID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewAdminToken returns a URL-safe opaque secret.
// Only its hash is stored server-side.
func NewAdminToken() (string, error) {
	b := make([]byte, AdminTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IsInvitationID reports whether s is a canonical UUID string.
func IsInvitationID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
