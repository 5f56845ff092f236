// Package v1 defines the invitation watch protocol v1.
//
// Shared between the server gateway and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "cupid.watch.v1"

// Type constants (wire-stable).
const (
	// TypeHello subscribes to one invitation (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms the subscription (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeRefresh asks for a fresh snapshot (client -> server).
	TypeRefresh = "refresh"

	// TypeSnapshot carries the full current status (server -> client).
	TypeSnapshot = "snapshot"
	// TypeStatus carries one effective change (server -> subscribers).
	TypeStatus = "status"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRefresh,
		TypeSnapshot,
		TypeStatus,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload subscribes to an invitation. AdminToken may be omitted when it was
// sent as a header on the upgrade request.
type HelloPayload struct {
	InvitationID string `json:"invitation_id"`
	AdminToken   string `json:"admin_token,omitempty"`
}

// HelloAckPayload must carry SessionID (used by watch-smoke + server logic).
type HelloAckPayload struct {
	SessionID    string `json:"session_id"`
	InvitationID string `json:"invitation_id"`
}

// StatusPayload is the owner's view of an invitation. Field names the change
// that produced a status envelope and is empty on snapshots.
type StatusPayload struct {
	InvitationID  string     `json:"invitation_id"`
	PaymentStatus string     `json:"payment_status"`
	GameStatus    string     `json:"game_status"`
	Attempts      int        `json:"attempts"`
	ViewedAt      *time.Time `json:"viewed_at,omitempty"`
	AnsweredAt    *time.Time `json:"answered_at,omitempty"`
	Field         string     `json:"field,omitempty"`
}

// Terminal reports whether the game status can no longer change.
func (p StatusPayload) Terminal() bool {
	return p.GameStatus == "accepted" || p.GameStatus == "rejected"
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
