package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cupid/cmd/identity/ids"
	"cupid/cmd/internal/api"
	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/realtime"
	v1 "cupid/shared/contracts/watch/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	client *Client
	svc    *invitation.Service
	srv    *httptest.Server
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := realtime.NewHub(log)
	svc, err := invitation.NewService(invitation.NewMemoryStore(), invitation.WithNotifier(hub))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/v1/watch", realtime.NewWatchGateway(log, hub, svc, realtime.GatewayConfig{}))
	api.NewHandler(log, api.Config{}, svc).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	require.NoError(t, err)
	return testEnv{client: c, svc: svc, srv: srv}
}

func newCreate(t *testing.T) CreateRequest {
	t.Helper()
	id, err := ids.NewInvitationID()
	require.NoError(t, err)
	tok, err := ids.NewAdminToken()
	require.NoError(t, err)
	return CreateRequest{ID: id, AdminToken: tok, Sender: "Alex", RecipientName: "Sarah", Plan: "basic"}
}

func TestNew_RejectsBadBase(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"", "ftp://x", "http://", "::"} {
		_, err := New(base)
		assert.Error(t, err, base)
	}
}

func TestClient_CreateAndGate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	req := newCreate(t)
	created, err := env.client.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, created.ID)
	assert.Equal(t, invitation.PaymentUnpaid, created.PaymentStatus)
	assert.Equal(t, invitation.GamePending, created.GameStatus)

	// Replays are idempotent.
	_, err = env.client.Create(ctx, req)
	require.NoError(t, err)

	_, err = env.client.GetPublic(ctx, req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	view, err := env.client.GetPrivileged(ctx, req.ID, req.AdminToken)
	require.NoError(t, err)
	assert.Equal(t, "Sarah", view.RecipientName)
	assert.Equal(t, invitation.PaymentUnpaid, view.PaymentStatus)

	other, err := ids.NewAdminToken()
	require.NoError(t, err)
	_, err = env.client.GetPrivileged(ctx, req.ID, other)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = env.svc.ConfirmPayment(ctx, req.ID, "cs_test_1")
	require.NoError(t, err)

	pub, err := env.client.GetPublic(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, invitation.PaymentPaid, pub.PaymentStatus)
	assert.Equal(t, invitation.GamePending, pub.GameStatus)
}

func TestClient_ConflictAndTemporary(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	req := newCreate(t)
	_, err := env.client.Create(ctx, req)
	require.NoError(t, err)

	other, err := ids.NewAdminToken()
	require.NoError(t, err)
	req.AdminToken = other
	_, err = env.client.Create(ctx, req)
	require.ErrorIs(t, err, ErrConflict)
	assert.False(t, IsTemporary(err))

	assert.True(t, IsTemporary(&APIError{Status: http.StatusServiceUnavailable}))
	assert.False(t, IsTemporary(&APIError{Status: http.StatusBadRequest}))
	assert.False(t, IsTemporary(ErrNotFound))
	assert.False(t, IsTemporary(nil))
}

func TestClient_RecipientProcedures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	req := newCreate(t)
	_, err := env.client.Create(ctx, req)
	require.NoError(t, err)

	_, err = env.client.MarkViewed(ctx, req.ID)
	assert.ErrorIs(t, err, ErrNotFound, "unpaid invitations are invisible to recipients")

	_, _, err = env.svc.ConfirmPayment(ctx, req.ID, "cs_test_2")
	require.NoError(t, err)

	_, err = env.client.MarkViewed(ctx, req.ID)
	require.NoError(t, err)
	_, err = env.client.RecordAttempt(ctx, req.ID)
	require.NoError(t, err)

	assert.True(t, env.client.Beacon(ctx, req.ID, invitation.VerdictYes))

	res, err := env.client.Answer(ctx, req.ID, invitation.VerdictNo)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, invitation.GameAccepted, res.GameStatus)

	view, err := env.client.GetPrivileged(ctx, req.ID, req.AdminToken)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Attempts)
	assert.NotNil(t, view.ViewedAt)
}

func TestClient_BeaconDetachedFromCaller(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := newCreate(t)
	_, err := env.client.Create(context.Background(), req)
	require.NoError(t, err)
	_, _, err = env.svc.ConfirmPayment(context.Background(), req.ID, "cs_test_3")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, env.client.Beacon(ctx, req.ID, invitation.VerdictYes), "a canceled caller must not cancel the beacon")

	dead, err := New("http://127.0.0.1:1", WithBeaconTimeout(200*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, dead.Beacon(context.Background(), req.ID, invitation.VerdictYes))
	assert.Error(t, dead.Ping(context.Background()))
	assert.NoError(t, env.client.Ping(context.Background()))
}

func TestClient_Watch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := newCreate(t)
	_, err := env.client.Create(context.Background(), req)
	require.NoError(t, err)
	_, _, err = env.svc.ConfirmPayment(context.Background(), req.ID, "cs_test_4")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	err = env.client.Watch(ctx, req.ID, req.AdminToken, func(typ string, p v1.StatusPayload) bool {
		seen = append(seen, typ)
		if typ == v1.TypeSnapshot {
			assert.Equal(t, "paid", p.PaymentStatus)
			go func() { _, _, _ = env.svc.Answer(context.Background(), req.ID, invitation.VerdictYes) }()
			return true
		}
		return !p.Terminal()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{v1.TypeSnapshot, v1.TypeStatus}, seen)
}

func TestClient_WatchWrongToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := newCreate(t)
	_, err := env.client.Create(context.Background(), req)
	require.NoError(t, err)

	other, err := ids.NewAdminToken()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = env.client.Watch(ctx, req.ID, other, func(string, v1.StatusPayload) bool { return true })
	assert.ErrorIs(t, err, ErrNotFound)
}
