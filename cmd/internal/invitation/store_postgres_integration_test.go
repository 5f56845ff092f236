package invitation

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"cupid/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when CUPID_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_Lifecycle(t *testing.T) {
	t.Parallel()

	svc, pool, schema := mustOpenTestService(t)
	ctx := context.Background()
	d := newTestDraft(t, PlanSpy)

	if _, created, err := svc.Create(ctx, d); err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	if _, created, err := svc.Create(ctx, d); err != nil || created {
		t.Fatalf("create replay: created=%v err=%v", created, err)
	}
	if _, err := svc.ReadPublic(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unpaid row hidden, got %v", err)
	}

	if _, changed, err := svc.ConfirmPayment(ctx, d.ID, "cs_live_1"); err != nil || !changed {
		t.Fatalf("confirm: changed=%v err=%v", changed, err)
	}
	if _, changed, err := svc.ConfirmPayment(ctx, d.ID, "cs_live_1"); err != nil || changed {
		t.Fatalf("confirm replay: changed=%v err=%v", changed, err)
	}

	if _, err := svc.MarkViewed(ctx, d.ID); err != nil {
		t.Fatalf("mark viewed: %v", err)
	}
	if _, err := svc.RecordAttempt(ctx, d.ID); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if _, changed, err := svc.Answer(ctx, d.ID, VerdictYes); err != nil || !changed {
		t.Fatalf("answer: changed=%v err=%v", changed, err)
	}

	view, err := svc.ReadPrivileged(ctx, d.ID, d.AdminToken)
	if err != nil {
		t.Fatalf("privileged read: %v", err)
	}
	if view.GameStatus != GameAccepted || view.Attempts != 1 || view.ViewedAt == nil {
		t.Fatalf("unexpected privileged view: %+v", view)
	}
	if len(view.Activity) != 3 {
		t.Fatalf("expected 3 activity entries, got %d", len(view.Activity))
	}

	invitations := pgx.Identifier{schema, "invitations"}.Sanitize()
	var sessionID string
	if err := pool.QueryRow(ctx, `SELECT payment_session_id FROM `+invitations+` WHERE id = $1`, d.ID).Scan(&sessionID); err != nil {
		t.Fatalf("select session id: %v", err)
	}
	if sessionID != "cs_live_1" {
		t.Fatalf("expected session id recorded, got %q", sessionID)
	}
}

func TestPostgresStore_ConcurrentAnswer(t *testing.T) {
	t.Parallel()

	svc, _, _ := mustOpenTestService(t)
	ctx := context.Background()
	d := newTestDraft(t, PlanBasic)
	if _, _, err := svc.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.ConfirmPayment(ctx, d.ID, "cs"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	const attempts = 6
	var wg sync.WaitGroup
	wg.Add(attempts)
	changes := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, changed, err := svc.Answer(ctx, d.ID, VerdictYes)
			if err != nil {
				t.Errorf("answer: %v", err)
				return
			}
			changes <- changed
		}()
	}
	wg.Wait()
	close(changes)

	n := 0
	for c := range changes {
		if c {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one effective answer, got %d", n)
	}
}

// ---- helpers ----

func mustOpenTestService(t *testing.T) (*Service, *pgxpool.Pool, string) {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := "cupid_it_" + strings.ToLower(newTestULID(t))
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := store.ApplySchema(ctx); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, pool, schema
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CUPID_DATABASE_URL"))
	if raw == "" {
		t.Skip("CUPID_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse CUPID_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (CUPID_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func newTestULID(t *testing.T) string {
	t.Helper()
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}
	return id
}
