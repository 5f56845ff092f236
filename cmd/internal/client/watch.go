package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	v1 "cupid/shared/contracts/watch/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const maxWatchFrameBytes = 64 << 10

// WatchError is an error frame sent by the server before it closes the watch.
type WatchError struct {
	Code    string
	Message string
}

func (e *WatchError) Error() string { return "client: watch: " + e.Code + ": " + e.Message }

// Watch subscribes to one invitation's status as its owner. onStatus receives the
// initial snapshot and every change; returning false ends the watch cleanly.
// A not_found error frame maps to ErrNotFound.
func (c *Client) Watch(ctx context.Context, id, adminToken string, onStatus func(typ string, p v1.StatusPayload) bool) error {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/watch"
	u.RawQuery = url.Values{"id": []string{id}}.Encode()

	h := http.Header{}
	h.Set(AdminTokenHeader, adminToken)

	conn, res, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("client: watch dial: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()

	if conn.Subprotocol() != v1.Subprotocol {
		return fmt.Errorf("client: watch subprotocol mismatch: %q", conn.Subprotocol())
	}
	conn.SetReadLimit(maxWatchFrameBytes)

	for {
		var env v1.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("client: watch read: %w", err)
		}

		switch env.Type {
		case v1.TypeSnapshot, v1.TypeStatus:
			var p v1.StatusPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("client: watch payload: %w", err)
			}
			if !onStatus(env.Type, p) {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return nil
			}
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			if p.Code == "not_found" {
				return ErrNotFound
			}
			return &WatchError{Code: p.Code, Message: p.Message}
		case v1.TypeHelloAck:
		default:
			// Unknown frames from a newer server are skipped.
		}
	}
}
