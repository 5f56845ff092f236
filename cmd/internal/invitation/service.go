package invitation

import (
	"context"
	"errors"
	"strings"
	"time"

	"cupid/cmd/security/token"
)

// Change describes one effective mutation of an invitation row.
type Change struct {
	Field      string
	Invitation Invitation
	At         time.Time
}

// Change fields.
const (
	FieldPaymentStatus = "payment_status"
	FieldGameStatus    = "game_status"
	FieldViewed        = "viewed"
	FieldAttempts      = "attempts"
)

// Notifier receives changes after they are durable. Publish must not block.
type Notifier interface {
	Publish(Change)
}

// Service owns the invitation lifecycle on top of a Store.
type Service struct {
	store        Store
	notifier     Notifier
	now          func() time.Time
	onTransition func(field, to string)
}

// Option configures the Service.
type Option func(*Service) error

// WithNotifier attaches a change notifier (e.g. the realtime hub).
func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithTransitionObserver is called once per effective status transition (metrics).
func WithTransitionObserver(fn func(field, to string)) Option {
	return func(s *Service) error {
		s.onTransition = fn
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create persists a device-minted invitation. created=false on an identical replay.
func (s *Service) Create(ctx context.Context, d Draft) (Invitation, bool, error) {
	if s == nil || s.store == nil {
		return Invitation{}, false, ErrInvalidInput
	}
	d, err := d.Normalize()
	if err != nil {
		return Invitation{}, false, err
	}
	return s.store.Insert(ctx, Record{
		ID:             d.ID,
		AdminTokenHash: token.HashAdminTokenHex(d.AdminToken),
		Sender:         d.Sender,
		RecipientName:  d.RecipientName,
		Plan:           d.Plan,
		CreatedAt:      s.now(),
	})
}

// Lookup reads the raw row. Server-internal; never exposed over the public surface.
func (s *Service) Lookup(ctx context.Context, id string) (Invitation, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Invitation{}, err
	}
	return s.store.Get(ctx, id)
}

// ReadPublic is the unauthenticated read gate.
func (s *Service) ReadPublic(ctx context.Context, id string) (PublicView, error) {
	inv, found, err := s.fetch(ctx, id)
	if err != nil {
		return PublicView{}, err
	}
	return PublicGate(inv, found)
}

// ReadPrivileged is the admin-token read gate.
func (s *Service) ReadPrivileged(ctx context.Context, id, adminToken string) (PrivilegedView, error) {
	inv, found, err := s.fetch(ctx, id)
	if err != nil {
		return PrivilegedView{}, err
	}

	var activity []Activity
	if found && inv.Plan.UnlocksActivity() && token.EqualHex(token.HashAdminTokenHex(adminToken), inv.AdminTokenHash) {
		activity, err = s.store.Activity(ctx, inv.ID, defaultActivities)
		if err != nil {
			return PrivilegedView{}, err
		}
	}
	return PrivilegedGate(inv, found, strings.TrimSpace(adminToken), activity)
}

// VerifyOwner checks an admin token against any row, paid or not.
func (s *Service) VerifyOwner(ctx context.Context, id, adminToken string) (Invitation, error) {
	inv, found, err := s.fetch(ctx, id)
	if err != nil {
		return Invitation{}, err
	}
	if !found || !token.EqualHex(token.HashAdminTokenHex(adminToken), inv.AdminTokenHash) {
		return Invitation{}, ErrNotFound
	}
	return inv, nil
}

// ConfirmPayment performs the unpaid -> paid transition. changed=false for duplicates.
func (s *Service) ConfirmPayment(ctx context.Context, id, sessionID string) (Invitation, bool, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Invitation{}, false, err
	}
	now := s.now()
	inv, changed, err := s.store.MarkPaid(ctx, id, strings.TrimSpace(sessionID), now)
	if err != nil {
		return Invitation{}, false, err
	}
	if changed {
		s.emit(FieldPaymentStatus, string(PaymentPaid), inv, now)
	}
	return inv, changed, nil
}

// Answer applies the recipient's verdict. Replays after a terminal status are no-ops.
func (s *Service) Answer(ctx context.Context, id string, verdict Verdict) (Invitation, bool, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Invitation{}, false, err
	}
	now := s.now()
	inv, changed, err := s.store.Answer(ctx, id, verdict, now)
	if err != nil {
		return Invitation{}, false, err
	}
	if changed {
		s.emit(FieldGameStatus, string(inv.GameStatus), inv, now)
	}
	return inv, changed, nil
}

// MarkViewed records a recipient view.
func (s *Service) MarkViewed(ctx context.Context, id string) (Invitation, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Invitation{}, err
	}
	now := s.now()
	inv, err := s.store.MarkViewed(ctx, id, now)
	if err != nil {
		return Invitation{}, err
	}
	s.publish(Change{Field: FieldViewed, Invitation: inv, At: now})
	return inv, nil
}

// RecordAttempt counts one dodged "no" click.
func (s *Service) RecordAttempt(ctx context.Context, id string) (Invitation, error) {
	id, err := normalizeID(id)
	if err != nil {
		return Invitation{}, err
	}
	now := s.now()
	inv, err := s.store.RecordAttempt(ctx, id, now)
	if err != nil {
		return Invitation{}, err
	}
	s.publish(Change{Field: FieldAttempts, Invitation: inv, At: now})
	return inv, nil
}

func (s *Service) fetch(ctx context.Context, id string) (Invitation, bool, error) {
	if s == nil || s.store == nil {
		return Invitation{}, false, ErrInvalidInput
	}
	id, err := normalizeID(id)
	if err != nil {
		// Malformed ids read as unknown ids.
		return Invitation{}, false, nil
	}
	inv, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Invitation{}, false, nil
	}
	if err != nil {
		return Invitation{}, false, err
	}
	return inv, true, nil
}

func (s *Service) emit(field, to string, inv Invitation, at time.Time) {
	if s.onTransition != nil {
		s.onTransition(field, to)
	}
	s.publish(Change{Field: field, Invitation: inv, At: at})
}

func (s *Service) publish(c Change) {
	if s.notifier != nil {
		s.notifier.Publish(c)
	}
}

func normalizeID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "", ErrInvalidInput
	}
	return id, nil
}
