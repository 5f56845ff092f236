// Package accept durably submits a recipient's "accepted" verdict.
//
// The pending marker is written to the local cache before any network call and is
// cleared only once the record store acknowledges the answer. A startup Sweep retries
// whatever a previous run left behind.
package accept

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cupid/cmd/identity/ids"
	"cupid/cmd/internal/client"
	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/localcache"
	"cupid/cmd/internal/retry"

	"golang.org/x/sync/errgroup"
)

// Transport names which request path confirmed the answer.
type Transport string

const (
	ViaBeacon   Transport = "beacon"
	ViaStandard Transport = "standard"
)

var (
	// ErrNothingPending is returned by Sweep when no marker is stored.
	ErrNothingPending = errors.New("accept: no pending acceptance")
	ErrInvalidID      = errors.New("accept: invalid invitation id")
)

// Remote is the record store surface the submitter needs. *client.Client satisfies it.
type Remote interface {
	Beacon(ctx context.Context, id string, verdict invitation.Verdict) bool
	Answer(ctx context.Context, id string, verdict invitation.Verdict) (client.RPCResult, error)
	Ping(ctx context.Context) error
}

// DefaultPolicy is three attempts: immediately, after 1s, after 3s.
func DefaultPolicy() retry.Policy {
	return retry.Policy{Delays: []time.Duration{1 * time.Second, 3 * time.Second}, MaxAttempts: 3}
}

// Result reports one acceptance run. Confirmed=false is not fatal: the marker stays
// and a later Sweep retries.
type Result struct {
	ID            string                `json:"id"`
	Confirmed     bool                  `json:"confirmed"`
	Via           Transport             `json:"via,omitempty"`
	Attempts      int                   `json:"attempts"`
	GameStatus    invitation.GameStatus `json:"game_status,omitempty"`
	MarkerCleared bool                  `json:"marker_cleared"`
	Err           error                 `json:"-"`
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithPolicy replaces the retry schedule.
func WithPolicy(p retry.Policy) Option {
	return func(s *Submitter) { s.policy = p }
}

// WithLogger sets the submitter logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Submitter) {
		if log != nil {
			s.log = log
		}
	}
}

// WithoutBeacon skips the beacon transport, e.g. where no unload-surviving path exists.
func WithoutBeacon() Option {
	return func(s *Submitter) { s.noBeacon = true }
}

// Submitter sends acceptances through Remote, anchored by the cache marker.
type Submitter struct {
	cache    *localcache.Cache
	remote   Remote
	policy   retry.Policy
	log      *slog.Logger
	noBeacon bool
}

// New builds a Submitter.
func New(cache *localcache.Cache, remote Remote, opts ...Option) (*Submitter, error) {
	if cache == nil {
		return nil, errors.New("accept: cache is required")
	}
	if remote == nil {
		return nil, errors.New("accept: remote is required")
	}
	s := &Submitter{
		cache:  cache,
		remote: remote,
		policy: DefaultPolicy(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Accept records the marker, then submits. The returned error is non-nil only when
// the marker itself could not be stored; delivery failures are reported in Result.
func (s *Submitter) Accept(ctx context.Context, id string) (Result, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !ids.IsInvitationID(id) {
		return Result{ID: id}, ErrInvalidID
	}
	marker, err := s.cache.SetPendingAccept(ctx, id)
	if err != nil {
		return Result{ID: id}, err
	}
	s.log.Info("accept.marker.saved", "invitation_id", marker.ID)
	return s.deliver(ctx, marker.ID, !s.noBeacon), nil
}

// Sweep retries a marker left by an earlier run once connectivity is confirmed.
func (s *Submitter) Sweep(ctx context.Context) (Result, error) {
	var (
		marker localcache.PendingAccept
		found  bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		marker, found, err = s.cache.PendingAccept(gctx)
		return err
	})
	g.Go(func() error {
		return s.remote.Ping(gctx)
	})
	if err := g.Wait(); err != nil {
		if found {
			s.log.Info("accept.sweep.offline", "invitation_id", marker.ID, "err", err)
		}
		return Result{ID: marker.ID}, err
	}
	if !found {
		return Result{}, ErrNothingPending
	}

	res := s.deliver(ctx, marker.ID, false)
	if res.Confirmed {
		s.log.Info("accept.sweep.ok", "invitation_id", marker.ID, "attempts", res.Attempts)
	}
	return res, nil
}

func (s *Submitter) deliver(ctx context.Context, id string, beacon bool) Result {
	res := Result{ID: id}

	op := func() (Transport, error) {
		res.Attempts++
		if beacon && res.Attempts == 1 {
			if s.remote.Beacon(ctx, id, invitation.VerdictYes) {
				return ViaBeacon, nil
			}
			s.log.Debug("accept.beacon.fail", "invitation_id", id)
		}
		out, err := s.remote.Answer(ctx, id, invitation.VerdictYes)
		if err != nil {
			if !client.IsTemporary(err) {
				return "", retry.Permanent(err)
			}
			return "", err
		}
		res.GameStatus = out.GameStatus
		return ViaStandard, nil
	}
	notify := func(err error, next time.Duration) {
		s.log.Warn("accept.attempt.fail", "invitation_id", id, "attempt", res.Attempts, "retry_in", next, "err", err)
	}

	via, err := retry.Do(ctx, s.policy, op, notify)
	if err != nil {
		res.Err = err
		s.log.Warn("accept.pending", "invitation_id", id, "attempts", res.Attempts, "err", err)
		return res
	}
	res.Confirmed = true
	res.Via = via

	cleared, err := s.cache.ClearPendingAccept(context.WithoutCancel(ctx), id)
	if err != nil {
		s.log.Warn("accept.marker.clear.fail", "invitation_id", id, "err", err)
	}
	res.MarkerCleared = cleared
	s.log.Info("accept.confirmed", "invitation_id", id, "via", via, "attempts", res.Attempts, "game_status", res.GameStatus)
	return res
}
