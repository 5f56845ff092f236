package invitation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cupid/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const invitationColumns = `id, sender, recipient_name, plan, payment_status, payment_session_id, paid_at,
	game_status, answered_at, attempts, viewed_at, created_at, admin_token_hash`

// PostgresStore persists invitations in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "cupid").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "cupid"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// ApplySchema creates the store's schema and tables when missing.
func (s *PostgresStore) ApplySchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, schemaSQL(s.schema))
	return err
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, in Record) (Invitation, bool, error) {
	if s == nil || s.pool == nil {
		return Invitation{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invitation{}, false, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.AdminTokenHash) == "" {
		return Invitation{}, false, ErrInvalidInput
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	invitations := s.ident("invitations")
	inv, err := scanInvitation(s.pool.QueryRow(ctx,
		`INSERT INTO `+invitations+` (
		     id, admin_token_hash, sender, recipient_name, plan, payment_status, game_status, attempts, created_at
		   ) VALUES ($1, $2, $3, $4, $5, 'unpaid', 'pending', 0, $6)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING `+invitationColumns,
		in.ID,
		in.AdminTokenHash,
		in.Sender,
		in.RecipientName,
		string(in.Plan),
		in.CreatedAt,
	))
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invitation{}, false, err
	}

	// Conflict on id: an identical replay is fine, anything else is a collision.
	existing, err := s.Get(ctx, in.ID)
	if err != nil {
		return Invitation{}, false, err
	}
	if !sameRecord(existing, in) {
		return Invitation{}, false, OpError{Op: "invitation.PostgresStore.Insert", Kind: ErrConflict, Msg: "id already taken"}
	}
	return existing, false, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (Invitation, error) {
	if s == nil || s.pool == nil {
		return Invitation{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Invitation{}, ErrInvalidInput
	}

	inv, err := scanInvitation(s.pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM `+s.ident("invitations")+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invitation{}, ErrNotFound
	}
	return inv, err
}

// MarkPaid implements Store.
func (s *PostgresStore) MarkPaid(ctx context.Context, id, sessionID string, now time.Time) (Invitation, bool, error) {
	if s == nil || s.pool == nil {
		return Invitation{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invitation{}, false, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	inv, err := scanInvitation(s.pool.QueryRow(ctx,
		`UPDATE `+s.ident("invitations")+`
		    SET payment_status = 'paid',
		        payment_session_id = NULLIF($2, ''),
		        paid_at = $3
		  WHERE id = $1
		    AND payment_status = 'unpaid'
		RETURNING `+invitationColumns,
		id, sessionID, now,
	))
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invitation{}, false, err
	}

	// Distinguish not-found vs already paid.
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Invitation{}, false, err
	}
	return existing, false, nil
}

// Answer implements Store (the answer(target_id, answer) procedure).
func (s *PostgresStore) Answer(ctx context.Context, id string, verdict Verdict, now time.Time) (Invitation, bool, error) {
	if s == nil || s.pool == nil {
		return Invitation{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invitation{}, false, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	outcome := verdict.Outcome()
	kind := ActivityRejected
	if outcome == GameAccepted {
		kind = ActivityAccepted
	}

	var (
		out     Invitation
		changed bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inv, err := scanInvitation(tx.QueryRow(ctx,
			`UPDATE `+s.ident("invitations")+`
			    SET game_status = $2,
			        answered_at = $3
			  WHERE id = $1
			    AND payment_status = 'paid'
			    AND game_status = 'pending'
			RETURNING `+invitationColumns,
			id, string(outcome), now,
		))
		if err == nil {
			out, changed = inv, true
			return s.appendActivityTx(ctx, tx, id, kind, now)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		current, err := scanInvitation(tx.QueryRow(ctx,
			`SELECT `+invitationColumns+` FROM `+s.ident("invitations")+` WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !current.Paid() {
			return ErrNotFound
		}
		out = current
		return nil
	})
	if err != nil {
		return Invitation{}, false, err
	}
	return out, changed, nil
}

// MarkViewed implements Store (the mark_viewed(target_id) procedure).
func (s *PostgresStore) MarkViewed(ctx context.Context, id string, now time.Time) (Invitation, error) {
	return s.touch(ctx, id, now, `viewed_at = COALESCE(viewed_at, $2)`, ActivityViewed)
}

// RecordAttempt implements Store.
func (s *PostgresStore) RecordAttempt(ctx context.Context, id string, now time.Time) (Invitation, error) {
	return s.touch(ctx, id, now, `attempts = attempts + 1, last_attempt_at = $2`, ActivityNoAttempt)
}

// Activity implements Store.
func (s *PostgresStore) Activity(ctx context.Context, id string, limit int) ([]Activity, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultActivities
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, at FROM `+s.ident("invitation_activity")+`
		  WHERE invitation_id = $1
		  ORDER BY at DESC, id DESC
		  LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			a    Activity
			kind string
		)
		if err := rows.Scan(&a.ID, &kind, &a.At); err != nil {
			return nil, err
		}
		a.Kind = ActivityKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

// touch applies a telemetry update to a paid row and appends one activity entry.
func (s *PostgresStore) touch(ctx context.Context, id string, now time.Time, set string, kind ActivityKind) (Invitation, error) {
	if s == nil || s.pool == nil {
		return Invitation{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var out Invitation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inv, err := scanInvitation(tx.QueryRow(ctx,
			`UPDATE `+s.ident("invitations")+`
			    SET `+set+`
			  WHERE id = $1
			    AND payment_status = 'paid'
			RETURNING `+invitationColumns,
			id, now,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out = inv
		return s.appendActivityTx(ctx, tx, id, kind, now)
	})
	if err != nil {
		return Invitation{}, err
	}
	return out, nil
}

func (s *PostgresStore) appendActivityTx(ctx context.Context, tx pgx.Tx, id string, kind ActivityKind, now time.Time) error {
	entryID, err := ids.NewULID(now)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.ident("invitation_activity")+` (id, invitation_id, kind, at) VALUES ($1, $2, $3, $4)`,
		entryID, id, string(kind), now,
	)
	return err
}

func (s *PostgresStore) ident(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func scanInvitation(row pgx.Row) (Invitation, error) {
	var (
		out           Invitation
		plan, payment string
		game          string
	)
	err := row.Scan(
		&out.ID,
		&out.Sender,
		&out.RecipientName,
		&plan,
		&payment,
		&out.PaymentSessionID,
		&out.PaidAt,
		&game,
		&out.AnsweredAt,
		&out.Attempts,
		&out.ViewedAt,
		&out.CreatedAt,
		&out.AdminTokenHash,
	)
	if err != nil {
		return Invitation{}, err
	}
	out.Plan = Plan(plan)
	out.PaymentStatus = PaymentStatus(payment)
	out.GameStatus = GameStatus(game)
	return out, nil
}

func schemaSQL(schema string) string {
	s := pgx.Identifier{schema}.Sanitize()
	invitations := pgx.Identifier{schema, "invitations"}.Sanitize()
	activity := pgx.Identifier{schema, "invitation_activity"}.Sanitize()
	activityIdx := pgx.Identifier{"idx_invitation_activity_by_invitation"}.Sanitize()

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  admin_token_hash TEXT NOT NULL,
  sender TEXT NOT NULL,
  recipient_name TEXT NOT NULL,
  plan TEXT NOT NULL,
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  payment_session_id TEXT NULL,
  paid_at TIMESTAMPTZ NULL,
  game_status TEXT NOT NULL DEFAULT 'pending',
  answered_at TIMESTAMPTZ NULL,
  attempts INT NOT NULL DEFAULT 0,
  viewed_at TIMESTAMPTZ NULL,
  last_attempt_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_invitations_id_uuid_len CHECK (char_length(id) = 36),
  CONSTRAINT chk_invitations_token_hash_len CHECK (char_length(admin_token_hash) = 64),
  CONSTRAINT chk_invitations_plan CHECK (plan IN ('basic', 'spy')),
  CONSTRAINT chk_invitations_payment_status CHECK (payment_status IN ('unpaid', 'paid')),
  CONSTRAINT chk_invitations_game_status CHECK (game_status IN ('pending', 'accepted', 'rejected')),
  CONSTRAINT chk_invitations_attempts CHECK (attempts >= 0)
);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  invitation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS %s ON %s (invitation_id, at DESC);
`, s, invitations, activity, invitations, activityIdx, activity)
}
