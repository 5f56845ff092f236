package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"cupid/cmd/internal/invitation"
	v1 "cupid/shared/contracts/watch/v1"

	"github.com/coder/websocket"
)

// AdminTokenHeader may carry the admin token on the upgrade request.
const AdminTokenHeader = "X-Admin-Token"

const (
	wsDefaultSendQueueSize = 32
	wsMinSendQueueSize     = 8

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// Owners is the privileged read the gateway authorizes subscriptions with.
type Owners interface {
	ReadPrivileged(ctx context.Context, id, adminToken string) (invitation.PrivilegedView, error)
}

// GatewayConfig controls origin policy, timeouts and limits.
type GatewayConfig struct {
	// OriginRequired rejects upgrades without an Origin header. Device clients send none.
	OriginRequired bool
	AllowedOrigins []string
	// DevInsecure disables websocket.Accept's own origin verification. Dev only.
	DevInsecure bool

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	HelloTimeout     time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	RateEvents       int
	RateWindow       time.Duration
}

// WatchGateway is the websocket entrypoint for live invitation status.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// authorizes each subscription with the admin token and relays Hub envelopes.
type WatchGateway struct {
	log    *slog.Logger
	hub    *Hub
	owners Owners
	cfg    GatewayConfig

	// Derived for websocket.Accept origin checks.
	originPatterns []string
}

// NewWatchGateway constructs a gateway, filling zero config fields with defaults.
func NewWatchGateway(log *slog.Logger, hub *Hub, owners Owners, cfg GatewayConfig) *WatchGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = wsDefaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = wsDefaultReadIdle
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = helloTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = wsDefaultSendQueueSize
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}
	if cfg.RateEvents <= 0 {
		cfg.RateEvents = rateLimitEvents
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = rateLimitWindow
	}

	return &WatchGateway{
		log:    log,
		hub:    hub,
		owners: owners,
		cfg:    cfg,
		// websocket.Accept authorizes same-host origins by default; cross-origin
		// needs OriginPatterns, derived from the allowlist so both layers agree.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WatchGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a watch session.
func (g *WatchGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if g.owners == nil {
		http.Error(w, "watch unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("watch.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("watch.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("watch.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("watch.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(sessionID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once

		// Set once by subscribe; read by the loop and shutdown.
		subMu      sync.Mutex
		subscribed string
		subToken   string
	)
	current := func() (string, string) {
		subMu.Lock()
		defer subMu.Unlock()
		return subscribed, subToken
	}

	// shutdown is idempotent. It leaves the topic before closing the client so a
	// concurrent Publish never holds a client that is being torn down.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if id, _ := current(); id != "" {
				g.hub.Unsubscribe(id, sessionID)
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// reject writes a final error synchronously, then closes with a policy violation.
	reject := func(code, msg string) {
		if env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Time{}); err == nil {
			_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
		}
		shutdown(websocket.StatusPolicyViolation, code)
	}

	subscribe := func(id, adminToken string) error {
		invitationID, err := g.subscribe(ctx, client, id, adminToken)
		if err != nil {
			return err
		}
		subMu.Lock()
		subscribed, subToken = invitationID, adminToken
		subMu.Unlock()
		return nil
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("watch.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("watch.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	headerToken := strings.TrimSpace(r.Header.Get(AdminTokenHeader))
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" && headerToken != "" {
		if err := subscribe(id, headerToken); err != nil {
			g.logSubscribeFail(sessionID, id, err)
			reject("not_found", "invitation not found")
		}
	}

readLoop:
	for {
		activeID, activeToken := current()
		active := activeID != ""

		idle := g.cfg.ReadIdleTimeout
		if !active {
			idle = g.cfg.HelloTimeout
		}
		readCtx, readCancel := context.WithTimeout(ctx, idle)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("watch.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if active {
				g.trySendError(ctx, client, "already_subscribed", "one invitation per session")
				continue readLoop
			}
			var p v1.HelloPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(ctx, client, "bad_payload", "invalid hello payload")
				continue readLoop
			}
			adminToken := strings.TrimSpace(p.AdminToken)
			if adminToken == "" {
				adminToken = headerToken
			}
			if err := subscribe(p.InvitationID, adminToken); err != nil {
				g.logSubscribeFail(sessionID, p.InvitationID, err)
				reject("not_found", "invitation not found")
				break readLoop
			}

		case v1.TypeRefresh:
			if !active {
				g.trySendError(ctx, client, "not_subscribed", "hello first")
				continue readLoop
			}
			if err := g.sendSnapshot(ctx, client, activeID, activeToken); err != nil {
				g.log.Info("watch.refresh.fail", "session_id", sessionID, "invitation_id", activeID, "err", err)
				g.trySendError(ctx, client, "refresh_failed", "could not read status")
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- subscription ----

// subscribe authorizes the admin token, joins the topic and queues hello_ack plus a
// snapshot. The snapshot is read after joining so no change falls between the two.
func (g *WatchGateway) subscribe(ctx context.Context, client *Client, id, adminToken string) (string, error) {
	view, err := g.owners.ReadPrivileged(ctx, id, adminToken)
	if err != nil {
		return "", err
	}

	g.hub.Subscribe(view.ID, client)

	ack, err := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{SessionID: client.SessionID, InvitationID: view.ID}, time.Time{})
	if err != nil {
		g.hub.Unsubscribe(view.ID, client.SessionID)
		return "", err
	}
	if !g.enqueue(ctx, client, ack) {
		g.hub.Unsubscribe(view.ID, client.SessionID)
		return "", errors.New("backpressure: hello_ack")
	}
	if err := g.sendSnapshot(ctx, client, view.ID, adminToken); err != nil {
		g.hub.Unsubscribe(view.ID, client.SessionID)
		return "", err
	}

	g.log.Info("watch.subscribed", "session_id", client.SessionID, "invitation_id", view.ID)
	return view.ID, nil
}

func (g *WatchGateway) sendSnapshot(ctx context.Context, client *Client, id, adminToken string) error {
	view, err := g.owners.ReadPrivileged(ctx, id, adminToken)
	if err != nil {
		return err
	}
	env, err := newEnvelope(v1.TypeSnapshot, snapshotPayload(view), time.Time{})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, env) {
		return errors.New("backpressure: snapshot")
	}
	return nil
}

func (g *WatchGateway) logSubscribeFail(sessionID, id string, err error) {
	if errors.Is(err, invitation.ErrNotFound) {
		g.log.Info("watch.subscribe.denied", "session_id", sessionID, "invitation_id", id)
		return
	}
	g.log.Error("watch.subscribe.fail", "session_id", sessionID, "invitation_id", id, "err", err)
}

// ---- send helpers ----

func (g *WatchGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Time{})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WatchGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	if ctx.Err() != nil {
		return false
	}
	return client.Offer(env)
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WatchGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, de-duplicated hosts of
// the allowlist; websocket.Accept matches them with filepath.Match.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
