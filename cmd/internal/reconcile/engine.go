// Package reconcile is the device-side payment reconciliation engine.
//
// It creates the invitation optimistically, hands the sender to hosted checkout, and on
// return merges the URL, the local cache and a live read of the record store into one
// outcome, polling on a bounded schedule while the payment notification catches up.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"cupid/cmd/identity/ids"
	"cupid/cmd/internal/client"
	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/localcache"
	"cupid/cmd/internal/recovery"
	"cupid/cmd/internal/retry"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrBusy            = errors.New("reconcile: another operation is in flight")
	ErrClosed          = errors.New("reconcile: engine closed")
	ErrNoReference     = errors.New("reconcile: no invitation reference to resolve")
	ErrNoSession       = errors.New("reconcile: no invitation in progress")
	ErrNothingDeferred = errors.New("reconcile: nothing deferred")
	ErrNoAdminToken    = errors.New("reconcile: admin token unknown on this device")
	ErrTrackExhausted  = errors.New("reconcile: answer not observed within the polling budget")
)

// Records is the record store surface the engine consumes.
type Records interface {
	Create(ctx context.Context, req client.CreateRequest) (client.Created, error)
	GetPublic(ctx context.Context, id string) (invitation.PublicView, error)
	GetPrivileged(ctx context.Context, id, adminToken string) (invitation.PrivilegedView, error)
	Checkout(ctx context.Context, req client.CheckoutRequest) (client.CheckoutSession, error)
}

// DefaultPollPolicy is the return-verification schedule: 1s,1s,2s,2s,3s,3s then 5s, 20 reads.
func DefaultPollPolicy() retry.Policy {
	return retry.Policy{
		Delays: []time.Duration{
			1 * time.Second, 1 * time.Second,
			2 * time.Second, 2 * time.Second,
			3 * time.Second, 3 * time.Second,
			5 * time.Second,
		},
		MaxAttempts: 20,
	}
}

// DefaultTrackPolicy polls the sender dashboard every 5s for up to ten minutes.
func DefaultTrackPolicy() retry.Policy {
	return retry.Policy{Delays: []time.Duration{5 * time.Second}, MaxAttempts: 120}
}

// Config holds the URLs and schedules of an Engine.
type Config struct {
	// AppURL is the device app's public base; return URLs and share links hang off it.
	AppURL     string
	SupportURL string
	Poll       retry.Policy
	Track      retry.Policy
}

// Checkout is the result of a submission: where to send the sender, and what to keep.
type Checkout struct {
	ID         string `json:"id"`
	AdminToken string `json:"admin_token"`
	URL        string `json:"url"`
	SessionID  string `json:"session_id,omitempty"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
	Links      Links  `json:"links"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithWait replaces the timer used between polls.
func WithWait(wait retry.WaitFunc) Option {
	return func(e *Engine) {
		if wait != nil {
			e.wait = wait
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithTransitionObserver is called after every state change, outside the engine lock.
func WithTransitionObserver(fn func(from, to State)) Option {
	return func(e *Engine) { e.observe = fn }
}

// WithIdentity replaces the id and admin token generators.
func WithIdentity(newID, newToken func() (string, error)) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
		if newToken != nil {
			e.newToken = newToken
		}
	}
}

type session struct {
	id         string
	adminToken string
	state      string
	sessionID  string
	heuristic  bool
	source     Source
	hint       recovery.Payload
	navigation *recovery.Payload
	attempts   int
}

// Engine runs one sender flow at a time. All methods are safe for concurrent use;
// overlapping flow operations return ErrBusy.
type Engine struct {
	cfg     Config
	records Records
	cache   *localcache.Cache
	log     *slog.Logger
	wait    retry.WaitFunc
	now     func() time.Time
	observe func(from, to State)

	newID    func() (string, error)
	newToken func() (string, error)

	root   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	busy    bool
	closed  bool
	session *session
	lastErr error
}

// New builds an Engine in the idle state.
func New(cfg Config, records Records, cache *localcache.Cache, opts ...Option) (*Engine, error) {
	if records == nil {
		return nil, errors.New("reconcile: records is required")
	}
	if cache == nil {
		return nil, errors.New("reconcile: cache is required")
	}
	u, err := url.Parse(strings.TrimSpace(cfg.AppURL))
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("reconcile: app url must be absolute: %q", cfg.AppURL)
	}
	cfg.AppURL = strings.TrimRight(u.String(), "/")
	if len(cfg.Poll.Delays) == 0 && cfg.Poll.MaxAttempts == 0 {
		cfg.Poll = DefaultPollPolicy()
	}
	if len(cfg.Track.Delays) == 0 && cfg.Track.MaxAttempts == 0 {
		cfg.Track = DefaultTrackPolicy()
	}

	root, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		records:  records,
		cache:    cache,
		log:      slog.Default(),
		wait:     retry.Sleep,
		now:      time.Now,
		newID:    ids.NewInvitationID,
		newToken: ids.NewAdminToken,
		root:     root,
		cancel:   cancel,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the most recent failure absorbed by the state machine.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Close cancels in-flight polling and waits. The engine is unusable afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
}

// SaveDraft stores in-progress form input.
func (e *Engine) SaveDraft(ctx context.Context, d localcache.Draft) error {
	return e.cache.SaveDraft(ctx, d)
}

// RestoreDraft returns the saved form input, if any.
func (e *Engine) RestoreDraft(ctx context.Context) (localcache.Draft, bool, error) {
	return e.cache.Draft(ctx)
}

// Submit creates the invitation with device-minted id and admin token, records it in
// the cache, and opens checkout: idle -> processing -> paying.
func (e *Engine) Submit(ctx context.Context, d localcache.Draft) (Checkout, error) {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return Checkout{}, err
	}
	defer done()

	e.setState(StateProcessing)

	id, err := e.newID()
	if err != nil {
		return Checkout{}, e.fail(StateError, fmt.Errorf("reconcile: mint id: %w", err))
	}
	token, err := e.newToken()
	if err != nil {
		return Checkout{}, e.fail(StateError, fmt.Errorf("reconcile: mint admin token: %w", err))
	}

	draft, err := invitation.Draft{
		ID:            id,
		AdminToken:    token,
		Sender:        d.Sender,
		RecipientName: d.RecipientName,
		Plan:          invitation.Plan(d.Plan),
	}.Normalize()
	if err != nil {
		return Checkout{}, e.fail(StateIdle, err)
	}

	if err := e.cache.SaveDraft(ctx, d); err != nil {
		e.log.Warn("reconcile.cache.draft.fail", "err", err)
	}

	if _, err := e.records.Create(ctx, client.CreateRequest{
		ID:            draft.ID,
		AdminToken:    draft.AdminToken,
		Sender:        draft.Sender,
		RecipientName: draft.RecipientName,
		Plan:          string(draft.Plan),
	}); err != nil {
		e.log.Error("reconcile.create.fail", "invitation_id", draft.ID, "err", err)
		return Checkout{}, e.fail(StateError, err)
	}

	payload := recovery.Payload{
		AdminToken: draft.AdminToken,
		ID:         draft.ID,
		Sender:     draft.Sender,
		Recipient:  draft.RecipientName,
		Plan:       string(draft.Plan),
	}
	if err := e.cache.AppendHistory(ctx, entryFromPayload(payload)); err != nil {
		e.log.Warn("reconcile.cache.history.fail", "invitation_id", draft.ID, "err", err)
	}

	stateToken, err := recovery.Encode(payload)
	if err != nil {
		return Checkout{}, e.fail(StateError, err)
	}
	e.setSession(&session{
		id:         draft.ID,
		adminToken: draft.AdminToken,
		state:      stateToken,
		source:     SourceNavigation,
		hint:       payload,
		navigation: &payload,
	})

	returnURL, err := recovery.ReturnURL(e.returnBase(), payload)
	if err != nil {
		return Checkout{}, e.fail(StateError, err)
	}
	cancelURL, err := recovery.CancelURL(e.returnBase())
	if err != nil {
		return Checkout{}, e.fail(StateError, err)
	}

	sess, err := e.records.Checkout(ctx, client.CheckoutRequest{
		ID:         draft.ID,
		AdminToken: draft.AdminToken,
		ReturnURL:  returnURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		e.log.Error("reconcile.checkout.fail", "invitation_id", draft.ID, "err", err)
		return Checkout{}, e.fail(StateError, err)
	}

	e.mu.Lock()
	e.session.sessionID = sess.SessionID
	e.mu.Unlock()

	if err := e.cache.ClearDraft(ctx); err != nil {
		e.log.Warn("reconcile.cache.draft.clear.fail", "err", err)
	}
	e.setState(StatePaying)
	e.log.Info("reconcile.checkout.open", "invitation_id", draft.ID, "session_id", sess.SessionID)

	return Checkout{
		ID:         draft.ID,
		AdminToken: draft.AdminToken,
		URL:        sess.URL,
		SessionID:  sess.SessionID,
		ReturnURL:  returnURL,
		CancelURL:  cancelURL,
		Links:      buildLinks(e.cfg.AppURL, e.cfg.SupportURL, draft.ID, draft.AdminToken, sess.SessionID),
	}, nil
}

// Resume handles a payment return or a cold start. It merges local evidence, then
// reads the live record until it is paid or the poll budget runs out.
func (e *Engine) Resume(ctx context.Context, rp recovery.ReturnParams) (Outcome, error) {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer done()

	if rp.Canceled {
		return e.cancelCheckout(ctx), nil
	}

	doc, err := e.cache.Load(ctx)
	if err != nil {
		e.log.Warn("reconcile.cache.load.fail", "err", err)
		doc = localcache.NewDocument()
	}

	var nav *recovery.Payload
	e.mu.Lock()
	if e.session != nil {
		nav = e.session.navigation
	}
	e.mu.Unlock()

	res := Merge(Evidence{Navigation: nav, Return: rp, Cache: doc})
	if res.TokenErr != nil {
		e.log.Warn("reconcile.token.discarded", "invitation_id", rp.ID, "err", res.TokenErr)
	}
	if res.ID == "" {
		return Outcome{State: StateError, ResolvedAt: e.now().UTC()}, e.fail(StateError, ErrNoReference)
	}
	if res.Heuristic {
		e.log.Warn("reconcile.heuristic", "invitation_id", res.ID)
	}
	if res.RepairCache {
		if err := e.cache.AppendHistory(ctx, entryFromPayload(res.Hint)); err != nil {
			e.log.Warn("reconcile.cache.repair.fail", "invitation_id", res.ID, "err", err)
		}
	}

	stateToken := rp.State
	if res.TokenSource != SourceToken {
		stateToken = ""
	}
	e.setSession(&session{
		id:         res.ID,
		adminToken: res.AdminToken,
		state:      stateToken,
		sessionID:  rp.SessionID,
		heuristic:  res.Heuristic,
		source:     res.IDSource,
		hint:       res.Hint,
		navigation: nav,
	})

	e.setState(StateVerifying)
	return e.poll(ctx)
}

// Recheck performs one manual live read, typically from verifying_long.
// A paid record goes straight to success.
func (e *Engine) Recheck(ctx context.Context) (Outcome, error) {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer done()

	if !e.hasSession() {
		return Outcome{}, ErrNoSession
	}

	out, paid, err := e.readLive(ctx)
	e.countAttempt(err)
	if paid {
		return e.succeed(ctx, out), nil
	}
	if e.State() != StateVerifyingLong {
		e.setState(StateVerifyingLong)
	}
	return e.pending(StateVerifyingLong), err
}

// Defer saves the current flow so a later cold start can pick it up, and goes idle.
func (e *Engine) Defer(ctx context.Context) error {
	ctx, done, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}

	if err := e.cache.SaveDeferred(ctx, localcache.Deferred{
		ID:         s.id,
		AdminToken: s.adminToken,
		State:      s.state,
		SessionID:  s.sessionID,
	}); err != nil {
		return err
	}
	e.log.Info("reconcile.deferred", "invitation_id", s.id)

	e.setSession(nil)
	e.setState(StateIdle)
	return nil
}

// ResumeDeferred resumes a flow saved by Defer. Unless it succeeds, the context is
// saved again so it is not lost.
func (e *Engine) ResumeDeferred(ctx context.Context) (Outcome, error) {
	df, ok, err := e.cache.TakeDeferred(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, ErrNothingDeferred
	}

	rp := recovery.ReturnParams{Success: true, ID: df.ID, State: df.State, SessionID: df.SessionID}
	if rp.State == "" && df.AdminToken != "" {
		if tok, err := recovery.Encode(recovery.Payload{ID: df.ID, AdminToken: df.AdminToken}); err == nil {
			rp.State = tok
		}
	}

	out, err := e.Resume(ctx, rp)
	if out.State != StateSuccess {
		if serr := e.cache.SaveDeferred(context.WithoutCancel(ctx), df); serr != nil {
			e.log.Warn("reconcile.deferred.restore.fail", "invitation_id", df.ID, "err", serr)
		}
	}
	return out, err
}

// SupportURL returns the escape-hatch link for the current invitation, or "".
func (e *Engine) SupportURL() string {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return ""
	}
	return buildLinks(e.cfg.AppURL, e.cfg.SupportURL, s.id, "", s.sessionID).Support
}

// TrackAnswer polls the privileged record of an invitation from the cache history until
// the recipient answers. onUpdate sees every observed change.
func (e *Engine) TrackAnswer(ctx context.Context, id string, onUpdate func(invitation.PrivilegedView)) (invitation.PrivilegedView, error) {
	ctx, release, err := e.scope(ctx)
	if err != nil {
		return invitation.PrivilegedView{}, err
	}
	defer release()

	entry, ok, err := e.cache.FindHistory(ctx, id)
	if err != nil {
		return invitation.PrivilegedView{}, err
	}
	if !ok || entry.AdminToken == "" {
		return invitation.PrivilegedView{}, ErrNoAdminToken
	}

	var (
		last invitation.PrivilegedView
		seen bool
	)
	b := e.cfg.Track.BackOff()
	for {
		view, err := e.records.GetPrivileged(ctx, entry.ID, entry.AdminToken)
		switch {
		case err == nil:
			if !seen || changed(last, view) {
				seen = true
				last = view
				if onUpdate != nil {
					onUpdate(view)
				}
			}
			if view.GameStatus.Terminal() {
				e.log.Info("reconcile.track.answered", "invitation_id", entry.ID, "game_status", view.GameStatus)
				return view, nil
			}
		case errors.Is(err, client.ErrNotFound), ctx.Err() != nil:
			return last, err
		default:
			e.log.Debug("reconcile.track.read.fail", "invitation_id", entry.ID, "err", err)
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return last, ErrTrackExhausted
		}
		if err := e.wait(ctx, next); err != nil {
			return last, err
		}
	}
}

func (e *Engine) poll(ctx context.Context) (Outcome, error) {
	b := e.cfg.Poll.BackOff()
	for {
		out, paid, err := e.readLive(ctx)
		attempt := e.countAttempt(err)
		if paid {
			return e.succeed(ctx, out), nil
		}
		if ctx.Err() != nil {
			return e.interrupted(), ctx.Err()
		}
		e.log.Debug("reconcile.poll.tick", "invitation_id", out.ID, "attempt", attempt, "err", err)

		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		if err := e.wait(ctx, next); err != nil {
			return e.interrupted(), err
		}
	}

	e.setState(StateVerifyingLong)
	out := e.pending(StateVerifyingLong)
	e.log.Warn("reconcile.verifying_long", "invitation_id", out.ID, "attempts", out.Attempts)
	return out, nil
}

// interrupted settles a poll stopped by Close or by the caller. The flow stays
// resumable through Recheck or Defer, like one that ran out of attempts.
func (e *Engine) interrupted() Outcome {
	e.setState(StateVerifyingLong)
	out := e.pending(StateVerifyingLong)
	e.log.Info("reconcile.poll.interrupted", "invitation_id", out.ID, "attempts", out.Attempts)
	return out
}

// readLive reads the authoritative record. The admin token is tried first; if the
// record rejects it, it is dropped and the public read decides.
func (e *Engine) readLive(ctx context.Context) (Outcome, bool, error) {
	e.mu.Lock()
	id, token := e.session.id, e.session.adminToken
	e.mu.Unlock()

	if token != "" {
		view, err := e.records.GetPrivileged(ctx, id, token)
		switch {
		case err == nil:
			return outcomeFromPrivileged(view, token), view.PaymentStatus == invitation.PaymentPaid, nil
		case errors.Is(err, client.ErrNotFound):
			e.log.Warn("reconcile.token.rejected", "invitation_id", id)
			e.mu.Lock()
			e.session.adminToken = ""
			e.mu.Unlock()
		default:
			return Outcome{ID: id}, false, err
		}
	}

	view, err := e.records.GetPublic(ctx, id)
	if errors.Is(err, client.ErrNotFound) {
		return Outcome{ID: id}, false, nil
	}
	if err != nil {
		return Outcome{ID: id}, false, err
	}
	return outcomeFromPublic(view), view.PaymentStatus == invitation.PaymentPaid, nil
}

func (e *Engine) succeed(ctx context.Context, o Outcome) Outcome {
	e.mu.Lock()
	s := e.session
	o.Heuristic = s.heuristic
	o.Source = s.source
	o.Attempts = s.attempts
	sessionID := s.sessionID
	e.lastErr = nil
	e.mu.Unlock()

	o.State = StateSuccess
	o.Links = buildLinks(e.cfg.AppURL, e.cfg.SupportURL, o.ID, o.AdminToken, sessionID)
	o.ShareText = shareText(o)
	o.ResolvedAt = e.now().UTC()

	if o.Verified {
		if err := e.cache.ConfirmHistory(ctx, localcache.Entry{
			ID:            o.ID,
			AdminToken:    o.AdminToken,
			Sender:        o.Sender,
			RecipientName: o.RecipientName,
			Plan:          string(o.Plan),
		}); err != nil {
			e.log.Warn("reconcile.cache.history.fail", "invitation_id", o.ID, "err", err)
		}
	}
	if err := e.cache.SetUnlocked(ctx, o.ID); err != nil {
		e.log.Warn("reconcile.cache.unlock.fail", "invitation_id", o.ID, "err", err)
	}

	e.setState(StateSuccess)
	e.log.Info("reconcile.success", "invitation_id", o.ID, "verified", o.Verified, "source", o.Source, "attempts", o.Attempts)
	return o
}

// pending builds the outcome of an unresolved flow from local hints only.
func (e *Engine) pending(state State) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := Outcome{State: state, ResolvedAt: e.now().UTC()}
	if e.lastErr != nil {
		o.LastError = e.lastErr.Error()
	}
	s := e.session
	if s == nil {
		return o
	}
	o.ID = s.id
	o.Sender = s.hint.Sender
	o.RecipientName = s.hint.Recipient
	o.Plan = invitation.Plan(s.hint.Plan)
	o.Heuristic = s.heuristic
	o.Source = s.source
	o.Attempts = s.attempts
	o.Links = buildLinks(e.cfg.AppURL, e.cfg.SupportURL, s.id, "", s.sessionID)
	return o
}

func (e *Engine) cancelCheckout(ctx context.Context) Outcome {
	var draft *localcache.Draft

	e.mu.Lock()
	if e.session != nil && e.session.navigation != nil {
		nav := e.session.navigation
		draft = &localcache.Draft{Sender: nav.Sender, RecipientName: nav.Recipient, Plan: nav.Plan}
	}
	e.mu.Unlock()

	if draft == nil {
		if d, ok, err := e.cache.Draft(ctx); err == nil && ok {
			draft = &d
		} else if last, ok, err := e.cache.LatestHistory(ctx); err == nil && ok {
			draft = &localcache.Draft{Sender: last.Sender, RecipientName: last.RecipientName, Plan: last.Plan}
		}
	}
	if draft != nil {
		if err := e.cache.SaveDraft(ctx, *draft); err != nil {
			e.log.Warn("reconcile.cache.draft.fail", "err", err)
		}
	}

	e.setSession(nil)
	e.setState(StateIdle)
	e.log.Info("reconcile.checkout.canceled")
	return Outcome{State: StateIdle, Draft: draft, ResolvedAt: e.now().UTC()}
}

// scope derives a context canceled by ctx or by Close.
func (e *Engine) scope(ctx context.Context) (context.Context, func(), error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, nil, ErrClosed
	}

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.root, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}, nil
}

// begin claims the engine for one flow operation.
func (e *Engine) begin(ctx context.Context) (context.Context, func(), error) {
	opCtx, release, err := e.scope(ctx)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		release()
		return nil, nil, ErrBusy
	}
	e.busy = true
	e.mu.Unlock()

	return opCtx, func() {
		release()
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}, nil
}

func (e *Engine) setState(to State) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()

	if from == to {
		return
	}
	e.log.Debug("reconcile.state", "from", from, "to", to)
	if e.observe != nil {
		e.observe(from, to)
	}
}

func (e *Engine) fail(to State, err error) error {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	e.setState(to)
	return err
}

func (e *Engine) setSession(s *session) {
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
}

func (e *Engine) hasSession() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

func (e *Engine) countAttempt(err error) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.lastErr = err
	}
	if e.session == nil {
		return 0
	}
	e.session.attempts++
	return e.session.attempts
}

func (e *Engine) returnBase() string { return e.cfg.AppURL + "/return" }

func entryFromPayload(p recovery.Payload) localcache.Entry {
	return localcache.Entry{
		ID:            p.ID,
		AdminToken:    p.AdminToken,
		Sender:        p.Sender,
		RecipientName: p.Recipient,
		Plan:          p.Plan,
	}
}

func changed(a, b invitation.PrivilegedView) bool {
	return a.GameStatus != b.GameStatus ||
		a.PaymentStatus != b.PaymentStatus ||
		a.Attempts != b.Attempts ||
		(a.ViewedAt == nil) != (b.ViewedAt == nil)
}
