package accept

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cupid/cmd/identity/ids"
	"cupid/cmd/internal/api"
	"cupid/cmd/internal/client"
	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/localcache"
	"cupid/cmd/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noDelay = retry.Policy{Delays: []time.Duration{0}, MaxAttempts: 3}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newServer(t *testing.T) (*invitation.Service, *httptest.Server) {
	t.Helper()
	svc, err := invitation.NewService(invitation.NewMemoryStore())
	require.NoError(t, err)
	mux := http.NewServeMux()
	api.NewHandler(discardLogger(), api.Config{}, svc).Register(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return svc, httptest.NewServer(mux)
}

func seedPaid(t *testing.T, svc *invitation.Service, plan invitation.Plan) (id, adminToken string) {
	t.Helper()
	ctx := context.Background()
	id, err := ids.NewInvitationID()
	require.NoError(t, err)
	tok, err := ids.NewAdminToken()
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, invitation.Draft{ID: id, AdminToken: tok, Sender: "Alex", RecipientName: "Sarah", Plan: plan})
	require.NoError(t, err)
	_, _, err = svc.ConfirmPayment(ctx, id, "cs_seed")
	require.NoError(t, err)
	return id, tok
}

func newSubmitter(t *testing.T, cache *localcache.Cache, baseURL string, opts ...Option) *Submitter {
	t.Helper()
	c, err := client.New(baseURL, client.WithBeaconTimeout(time.Second))
	require.NoError(t, err)
	opts = append([]Option{WithPolicy(noDelay), WithLogger(discardLogger())}, opts...)
	s, err := New(cache, c, opts...)
	require.NoError(t, err)
	return s
}

func TestAccept_OfflineKeepsMarkerAndSweepClears(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, srv := newServer(t)
	t.Cleanup(srv.Close)
	id, _ := seedPaid(t, svc, invitation.PlanBasic)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	cache := localcache.New(localcache.NewMemoryStore(), nil)

	offline := newSubmitter(t, cache, deadURL)
	res, err := offline.Accept(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Equal(t, 3, res.Attempts)
	assert.Error(t, res.Err)

	marker, ok, err := cache.PendingAccept(ctx)
	require.NoError(t, err)
	require.True(t, ok, "marker survives a failed delivery")
	assert.Equal(t, id, marker.ID)

	// Still offline: the sweep does not even try.
	_, err = offline.Sweep(ctx)
	assert.Error(t, err)
	_, ok, err = cache.PendingAccept(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	online := newSubmitter(t, cache, srv.URL)
	res, err = online.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.True(t, res.MarkerCleared)
	assert.Equal(t, ViaStandard, res.Via)
	assert.Equal(t, invitation.GameAccepted, res.GameStatus)

	_, ok, err = cache.PendingAccept(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	inv, err := svc.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, invitation.GameAccepted, inv.GameStatus)

	_, err = online.Sweep(ctx)
	assert.ErrorIs(t, err, ErrNothingPending)
}

func TestAccept_AppliedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, srv := newServer(t)
	t.Cleanup(srv.Close)
	id, tok := seedPaid(t, svc, invitation.PlanSpy)

	s := newSubmitter(t, localcache.New(localcache.NewMemoryStore(), nil), srv.URL, WithoutBeacon())
	for i := 0; i < 3; i++ {
		res, err := s.Accept(ctx, id)
		require.NoError(t, err)
		assert.True(t, res.Confirmed, "replays are acknowledged too")
		assert.True(t, res.MarkerCleared)
		assert.Equal(t, invitation.GameAccepted, res.GameStatus)
	}

	view, err := svc.ReadPrivileged(ctx, id, tok)
	require.NoError(t, err)
	assert.Equal(t, invitation.GameAccepted, view.GameStatus)

	var accepted int
	for _, a := range view.Activity {
		if a.Kind == invitation.ActivityAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "replays must not append telemetry")
}

func TestAccept_InvalidID(t *testing.T) {
	t.Parallel()
	cache := localcache.New(localcache.NewMemoryStore(), nil)
	s, err := New(cache, &fakeRemote{})
	require.NoError(t, err)

	_, err = s.Accept(context.Background(), "not-an-id")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, ok, err := cache.PendingAccept(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

type fakeRemote struct {
	mu         sync.Mutex
	beaconOK   bool
	beacons    int
	answers    int
	failFirst  int
	answerErr  error
	pingErr    error
	gameStatus invitation.GameStatus
}

func (f *fakeRemote) Beacon(context.Context, string, invitation.Verdict) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beacons++
	return f.beaconOK
}

func (f *fakeRemote) Answer(_ context.Context, id string, _ invitation.Verdict) (client.RPCResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	if f.answers <= f.failFirst {
		return client.RPCResult{}, &client.APIError{Status: http.StatusServiceUnavailable, Code: "db_unavailable"}
	}
	if f.answerErr != nil {
		return client.RPCResult{}, f.answerErr
	}
	return client.RPCResult{ID: id, GameStatus: f.gameStatus, Changed: true}, nil
}

func (f *fakeRemote) Ping(context.Context) error { return f.pingErr }

func newFakeSubmitter(t *testing.T, f *fakeRemote) (*Submitter, *localcache.Cache) {
	t.Helper()
	cache := localcache.New(localcache.NewMemoryStore(), nil)
	s, err := New(cache, f, WithPolicy(noDelay), WithLogger(discardLogger()))
	require.NoError(t, err)
	return s, cache
}

func testID(t *testing.T) string {
	t.Helper()
	id, err := ids.NewInvitationID()
	require.NoError(t, err)
	return id
}

func TestAccept_BeaconFirst(t *testing.T) {
	t.Parallel()
	f := &fakeRemote{beaconOK: true}
	s, _ := newFakeSubmitter(t, f)

	res, err := s.Accept(context.Background(), testID(t))
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, ViaBeacon, res.Via)
	assert.Equal(t, 1, f.beacons)
	assert.Zero(t, f.answers)
}

func TestAccept_BeaconFailureFallsBackToStandard(t *testing.T) {
	t.Parallel()
	f := &fakeRemote{gameStatus: invitation.GameAccepted}
	s, _ := newFakeSubmitter(t, f)

	res, err := s.Accept(context.Background(), testID(t))
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, ViaStandard, res.Via)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, f.beacons)
	assert.Equal(t, 1, f.answers)
}

func TestAccept_RetriesTemporaryFailures(t *testing.T) {
	t.Parallel()
	f := &fakeRemote{failFirst: 2, gameStatus: invitation.GameAccepted}
	s, cache := newFakeSubmitter(t, f)

	res, err := s.Accept(context.Background(), testID(t))
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, f.beacons, "beacon is only the first transport")
	assert.Equal(t, 3, f.answers)

	_, ok, err := cache.PendingAccept(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccept_PermanentFailureStopsEarly(t *testing.T) {
	t.Parallel()
	f := &fakeRemote{answerErr: client.ErrNotFound}
	s, cache := newFakeSubmitter(t, f)

	res, err := s.Accept(context.Background(), testID(t))
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.ErrorIs(t, res.Err, client.ErrNotFound)
	assert.Equal(t, 1, res.Attempts)

	_, ok, err := cache.PendingAccept(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "only a confirmed answer clears the marker")
}

func TestSweep_PingFailureKeepsMarker(t *testing.T) {
	t.Parallel()
	f := &fakeRemote{pingErr: errors.New("offline")}
	s, cache := newFakeSubmitter(t, f)
	id := testID(t)
	_, err := cache.SetPendingAccept(context.Background(), id)
	require.NoError(t, err)

	_, err = s.Sweep(context.Background())
	require.Error(t, err)
	assert.Zero(t, f.answers)
	assert.Zero(t, f.beacons)

	marker, ok, err := cache.PendingAccept(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, marker.ID)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(nil, &fakeRemote{})
	assert.Error(t, err)
	_, err = New(localcache.New(localcache.NewMemoryStore(), nil), nil)
	assert.Error(t, err)
}
