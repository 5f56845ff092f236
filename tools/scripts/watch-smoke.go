// Package main provides a CI-friendly websocket smoke test for the cupid watch endpoint.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack subscription with an admin token
//   - snapshot of the owner's status
//   - refresh -> snapshot
//   - a wrong admin token gets the not_found error frame
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "cupid/shared/contracts/watch/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 64 << 10

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/v1/watch", "watch endpoint URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like handshake)")
		id      = flag.String("id", "", "invitation id (required)")
		token   = flag.String("token", "", "admin token of the invitation (required)")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*token) == "" {
		fatalf("-id and -token are required")
	}

	root := context.Background()

	conn := mustConnect(root, *wsURL, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	mustWrite(root, conn, v1.TypeHello, v1.HelloPayload{InvitationID: *id, AdminToken: *token}, *timeout)

	ack := mustReadType(root, conn, v1.TypeHelloAck, *timeout)
	var ap v1.HelloAckPayload
	mustUnmarshal(ack, &ap)
	if strings.TrimSpace(ap.SessionID) == "" {
		fatalf("hello_ack missing session_id")
	}
	if !strings.EqualFold(ap.InvitationID, *id) {
		fatalf("hello_ack invitation_id mismatch: got=%q want=%q", ap.InvitationID, *id)
	}

	first := mustSnapshot(root, conn, *id, *timeout)
	if *verbose {
		fmt.Printf("snapshot: session=%s payment=%s game=%s attempts=%d\n", ap.SessionID, first.PaymentStatus, first.GameStatus, first.Attempts)
	}

	mustWrite(root, conn, v1.TypeRefresh, struct{}{}, *timeout)
	second := mustSnapshot(root, conn, *id, *timeout)
	if second.PaymentStatus != first.PaymentStatus && first.PaymentStatus == "paid" {
		fatalf("payment status went backwards: %q -> %q", first.PaymentStatus, second.PaymentStatus)
	}

	mustRejectWrongToken(root, *wsURL, *origin, *id, *timeout)

	fmt.Printf("OK: session=%s invitation_id=%s payment=%s game=%s\n", ap.SessionID, *id, second.PaymentStatus, second.GameStatus)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustSnapshot(parent context.Context, conn *websocket.Conn, id string, stepTimeout time.Duration) v1.StatusPayload {
	env := mustReadType(parent, conn, v1.TypeSnapshot, stepTimeout)
	var p v1.StatusPayload
	mustUnmarshal(env, &p)
	if !strings.EqualFold(p.InvitationID, id) {
		fatalf("snapshot invitation_id mismatch: got=%q want=%q", p.InvitationID, id)
	}
	if p.PaymentStatus == "" || p.GameStatus == "" {
		fatalf("snapshot missing statuses: %+v", p)
	}
	if p.Field != "" {
		fatalf("snapshot carries a change field: %q", p.Field)
	}
	return p
}

func mustRejectWrongToken(parent context.Context, wsURL, origin, id string, stepTimeout time.Duration) {
	conn := mustConnect(parent, wsURL, origin, stepTimeout)
	defer func() { _ = conn.CloseNow() }()

	mustWrite(parent, conn, v1.TypeHello, v1.HelloPayload{InvitationID: id, AdminToken: "not-the-token"}, stepTimeout)
	env := mustRead(parent, conn, stepTimeout)
	if env.Type != v1.TypeError {
		fatalf("wrong token: expected error frame, got %q", env.Type)
	}
	var p v1.ErrorPayload
	mustUnmarshal(env, &p)
	if p.Code != "not_found" {
		fatalf("wrong token: expected not_found, got %q", p.Code)
	}
}

func mustReadType(parent context.Context, conn *websocket.Conn, want string, stepTimeout time.Duration) v1.Envelope {
	for {
		env := mustRead(parent, conn, stepTimeout)
		switch env.Type {
		case want:
			return env
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			fatalf("server error: code=%q msg=%q", p.Code, p.Message)
		case v1.TypeStatus:
			// A live change may interleave; keep waiting.
		default:
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, want)
		}
	}
}

func mustRead(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("bad json: %v", err)
	}
	if err := env.Validate(); err != nil {
		fatalf("bad envelope: %v", err)
	}
	return env
}

func mustWrite(parent context.Context, conn *websocket.Conn, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%s-%d", typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: raw,
	})
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", typ, err)
	}
}

func mustUnmarshal(env v1.Envelope, dst any) {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		fatalf("unmarshal %s payload: %v", env.Type, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
