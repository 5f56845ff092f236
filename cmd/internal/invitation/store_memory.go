package invitation

import (
	"context"
	"strings"
	"sync"
	"time"

	"cupid/cmd/identity/ids"
)

const memMaxActivityPerInvitation = 1_000

// MemoryStore is the dev/test record store used when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	rows     map[string]Invitation
	activity map[string][]Activity // oldest first
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[string]Invitation),
		activity: make(map[string][]Activity),
	}
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, in Record) (Invitation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, false, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.AdminTokenHash) == "" {
		return Invitation{}, false, ErrInvalidInput
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rows[in.ID]; ok {
		if !sameRecord(existing, in) {
			return Invitation{}, false, OpError{Op: "invitation.MemoryStore.Insert", Kind: ErrConflict, Msg: "id already taken"}
		}
		return existing, false, nil
	}

	inv := Invitation{
		ID:             in.ID,
		Sender:         in.Sender,
		RecipientName:  in.RecipientName,
		Plan:           in.Plan,
		PaymentStatus:  PaymentUnpaid,
		GameStatus:     GamePending,
		CreatedAt:      in.CreatedAt,
		AdminTokenHash: in.AdminTokenHash,
	}
	s.rows[in.ID] = inv
	return inv, true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.rows[id]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	return inv, nil
}

// MarkPaid implements Store.
func (s *MemoryStore) MarkPaid(ctx context.Context, id, sessionID string, now time.Time) (Invitation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.rows[id]
	if !ok {
		return Invitation{}, false, ErrNotFound
	}
	if inv.Paid() {
		return inv, false, nil
	}
	inv.PaymentStatus = PaymentPaid
	inv.PaidAt = timePtr(now)
	if sessionID != "" {
		inv.PaymentSessionID = &sessionID
	}
	s.rows[id] = inv
	return inv, true, nil
}

// Answer implements Store.
func (s *MemoryStore) Answer(ctx context.Context, id string, verdict Verdict, now time.Time) (Invitation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.rows[id]
	if !ok || !inv.Paid() {
		return Invitation{}, false, ErrNotFound
	}
	if inv.GameStatus.Terminal() {
		return inv, false, nil
	}
	inv.GameStatus = verdict.Outcome()
	inv.AnsweredAt = timePtr(now)
	s.rows[id] = inv

	kind := ActivityRejected
	if inv.GameStatus == GameAccepted {
		kind = ActivityAccepted
	}
	s.appendActivityLocked(id, kind, now)
	return inv, true, nil
}

// MarkViewed implements Store.
func (s *MemoryStore) MarkViewed(ctx context.Context, id string, now time.Time) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.rows[id]
	if !ok || !inv.Paid() {
		return Invitation{}, ErrNotFound
	}
	if inv.ViewedAt == nil {
		inv.ViewedAt = timePtr(now)
		s.rows[id] = inv
	}
	s.appendActivityLocked(id, ActivityViewed, now)
	return inv, nil
}

// RecordAttempt implements Store.
func (s *MemoryStore) RecordAttempt(ctx context.Context, id string, now time.Time) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.rows[id]
	if !ok || !inv.Paid() {
		return Invitation{}, ErrNotFound
	}
	inv.Attempts++
	s.rows[id] = inv
	s.appendActivityLocked(id, ActivityNoAttempt, now)
	return inv, nil
}

// Activity implements Store.
func (s *MemoryStore) Activity(ctx context.Context, id string, limit int) ([]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultActivities
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.activity[id]
	out := make([]Activity, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *MemoryStore) appendActivityLocked(id string, kind ActivityKind, now time.Time) {
	entryID, err := ids.NewULID(now)
	if err != nil {
		return
	}
	entries := append(s.activity[id], Activity{ID: entryID, Kind: kind, At: now})
	if len(entries) > memMaxActivityPerInvitation {
		entries = entries[len(entries)-memMaxActivityPerInvitation:]
	}
	s.activity[id] = entries
}

func sameRecord(inv Invitation, in Record) bool {
	return inv.AdminTokenHash == in.AdminTokenHash &&
		inv.Sender == in.Sender &&
		inv.RecipientName == in.RecipientName &&
		inv.Plan == in.Plan
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return &t
}
