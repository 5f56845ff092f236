package invitation

import (
	"context"
	"time"
)

// Record is a normalized insert payload.
type Record struct {
	ID             string
	AdminTokenHash string
	Sender         string
	RecipientName  string
	Plan           Plan
	CreatedAt      time.Time
}

// Store is the durable record store surface: row CRUD by primary key plus the
// answer and mark_viewed procedures. Every mutating method is atomic per row.
type Store interface {
	// Insert creates an unpaid, pending row. Replaying an identical insert returns
	// the stored row with created=false; a different admin token yields ErrConflict.
	Insert(ctx context.Context, in Record) (inv Invitation, created bool, err error)
	Get(ctx context.Context, id string) (Invitation, error)
	// MarkPaid flips unpaid -> paid and stores the processor session id.
	// changed=false means the row was already paid.
	MarkPaid(ctx context.Context, id, sessionID string, now time.Time) (inv Invitation, changed bool, err error)
	// Answer moves a paid, pending row to the verdict's terminal status.
	// Replays return the current row with changed=false.
	Answer(ctx context.Context, id string, verdict Verdict, now time.Time) (inv Invitation, changed bool, err error)
	MarkViewed(ctx context.Context, id string, now time.Time) (Invitation, error)
	RecordAttempt(ctx context.Context, id string, now time.Time) (Invitation, error)
	// Activity returns newest-first entries.
	Activity(ctx context.Context, id string, limit int) ([]Activity, error)
}
