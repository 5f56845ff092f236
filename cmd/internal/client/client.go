// Package client talks to the cupid server from a device: the invitation API, the
// acceptance beacon and the live status watch.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cupid/cmd/internal/invitation"
)

// AdminTokenHeader carries the admin token on privileged reads and watch upgrades.
const AdminTokenHeader = "X-Admin-Token"

const (
	defaultTimeout       = 10 * time.Second
	defaultBeaconTimeout = 3 * time.Second
	maxResponseBytes     = 1 << 20
)

var (
	// ErrNotFound is returned for any 404: unknown id, unpaid invitation on a public read,
	// or a wrong admin token. The server makes these indistinguishable on purpose.
	ErrNotFound = errors.New("client: invitation not found")
	ErrConflict = errors.New("client: conflict")
)

// APIError is a non-2xx response carrying the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: http %d %s: %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// Client is an HTTP client of the cupid API.
type Client struct {
	base *url.URL
	http *http.Client

	beaconTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBeaconTimeout bounds the detached beacon request.
func WithBeaconTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.beaconTimeout = d
		}
	}
}

// New returns a client for the server at baseURL (http or https).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("client: base url missing host")
	}

	c := &Client{
		base:          u,
		http:          &http.Client{Timeout: defaultTimeout},
		beaconTimeout: defaultBeaconTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateRequest is the optimistic create; id and admin token come from the device.
type CreateRequest struct {
	ID            string `json:"id"`
	AdminToken    string `json:"admin_token"`
	Sender        string `json:"sender"`
	RecipientName string `json:"recipient_name"`
	Plan          string `json:"plan"`
}

// Created is the server's view of a freshly stored invitation.
type Created struct {
	ID            string                   `json:"id"`
	Plan          invitation.Plan          `json:"plan"`
	PaymentStatus invitation.PaymentStatus `json:"payment_status"`
	GameStatus    invitation.GameStatus    `json:"game_status"`
	CreatedAt     time.Time                `json:"created_at"`
}

// RPCResult is returned by the recipient procedures.
type RPCResult struct {
	ID         string                `json:"id"`
	GameStatus invitation.GameStatus `json:"game_status"`
	Changed    bool                  `json:"changed"`
}

// CheckoutRequest asks the server to open a hosted checkout for an owned invitation.
type CheckoutRequest struct {
	ID         string `json:"id"`
	AdminToken string `json:"admin_token"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
}

// CheckoutSession is where to send the sender next.
type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

type answerBody struct {
	TargetID string `json:"target_id"`
	Answer   string `json:"answer"`
}

type targetBody struct {
	TargetID string `json:"target_id"`
}

// Create persists an invitation. Replays of the same create succeed.
func (c *Client) Create(ctx context.Context, req CreateRequest) (Created, error) {
	var out Created
	err := c.do(ctx, http.MethodPost, "/v1/invitations", nil, req, &out)
	return out, err
}

// GetPublic reads the business fields of a paid invitation.
func (c *Client) GetPublic(ctx context.Context, id string) (invitation.PublicView, error) {
	var out invitation.PublicView
	err := c.do(ctx, http.MethodGet, "/v1/invitations/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// GetPrivileged reads the owner's view, paid or not.
func (c *Client) GetPrivileged(ctx context.Context, id, adminToken string) (invitation.PrivilegedView, error) {
	var out invitation.PrivilegedView
	h := http.Header{}
	h.Set(AdminTokenHeader, adminToken)
	err := c.do(ctx, http.MethodGet, "/v1/invitations/"+url.PathEscape(id), h, nil, &out)
	return out, err
}

// Answer calls the answer procedure. An already answered invitation is a success with Changed=false.
func (c *Client) Answer(ctx context.Context, id string, verdict invitation.Verdict) (RPCResult, error) {
	var out RPCResult
	err := c.do(ctx, http.MethodPost, "/v1/rpc/answer", nil, answerBody{TargetID: id, Answer: string(verdict)}, &out)
	return out, err
}

// MarkViewed calls the mark_viewed procedure.
func (c *Client) MarkViewed(ctx context.Context, id string) (RPCResult, error) {
	var out RPCResult
	err := c.do(ctx, http.MethodPost, "/v1/rpc/mark_viewed", nil, targetBody{TargetID: id}, &out)
	return out, err
}

// RecordAttempt counts one dodged "no".
func (c *Client) RecordAttempt(ctx context.Context, id string) (RPCResult, error) {
	var out RPCResult
	err := c.do(ctx, http.MethodPost, "/v1/rpc/record_attempt", nil, targetBody{TargetID: id}, &out)
	return out, err
}

// Checkout opens a hosted checkout session.
func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	var out CheckoutSession
	err := c.do(ctx, http.MethodPost, "/v1/checkout", nil, req, &out)
	return out, err
}

// Ping checks connectivity against the liveness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/healthz"), nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))
	if res.StatusCode != http.StatusOK {
		return &APIError{Status: res.StatusCode, Code: "unhealthy", Message: res.Status}
	}
	return nil
}

// Beacon sends the answer on a context detached from ctx's cancellation with a short
// deadline, so it survives the caller going away. It reports only whether the server
// confirmed; errors are not surfaced.
func (c *Client) Beacon(ctx context.Context, id string, verdict invitation.Verdict) bool {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.beaconTimeout)
	defer cancel()

	body, err := json.Marshal(answerBody{TargetID: id, Answer: string(verdict)})
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(bctx, http.MethodPost, c.endpoint("/v1/rpc/answer"), bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))
	return res.StatusCode == http.StatusOK
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(status int, raw []byte) error {
	if status == http.StatusNotFound {
		return ErrNotFound
	}

	var env errorEnvelope
	_ = json.Unmarshal(raw, &env)
	apiErr := &APIError{Status: status, Code: env.Error.Code, Message: env.Error.Message}
	if status == http.StatusConflict {
		return fmt.Errorf("%w: %w", ErrConflict, apiErr)
	}
	return apiErr
}

// IsTemporary reports whether err is worth retrying: transport failures and 5xx/429.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
