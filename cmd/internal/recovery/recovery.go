// Package recovery encodes the compact state token carried on the payment return URL.
//
// The token lets a device that lost its local cache (another browser, cleared storage)
// recover the admin token for an invitation. It is only trusted when its embedded id
// matches the explicit id parameter beside it.
package recovery

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed  = errors.New("recovery: malformed token")
	ErrIDMismatch = errors.New("recovery: token id does not match reference")
)

// Query parameters on the return URLs.
const (
	ParamSuccess   = "success"
	ParamCanceled  = "canceled"
	ParamID        = "id"
	ParamState     = "state"
	ParamSessionID = "session_id"
)

// Payload is the recovery token body. Keys are short to keep return URLs compact.
type Payload struct {
	AdminToken string `json:"t"`
	ID         string `json:"id"`
	Sender     string `json:"s"`
	Recipient  string `json:"v"`
	Plan       string `json:"p"`
}

// Encode returns the URL-safe, unpadded base64 form of the JSON payload.
func Encode(p Payload) (string, error) {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.AdminToken) == "" {
		return "", fmt.Errorf("%w: id and admin token are required", ErrMalformed)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Decode parses a token produced by Encode. Standard and URL alphabets are accepted,
// padded or not, since some redirect layers rewrite the query string.
func Decode(token string) (Payload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Payload{}, ErrMalformed
	}

	raw, err := decodeAny(token)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.ID = strings.ToLower(strings.TrimSpace(p.ID))
	p.AdminToken = strings.TrimSpace(p.AdminToken)
	if p.ID == "" || p.AdminToken == "" {
		return Payload{}, fmt.Errorf("%w: missing id or admin token", ErrMalformed)
	}
	return p, nil
}

// DecodeFor decodes token and checks it belongs to explicitID.
func DecodeFor(token, explicitID string) (Payload, error) {
	p, err := Decode(token)
	if err != nil {
		return Payload{}, err
	}
	if p.ID != strings.ToLower(strings.TrimSpace(explicitID)) {
		return Payload{}, ErrIDMismatch
	}
	return p, nil
}

func decodeAny(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
