package localcache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func fixedClock() func() time.Time {
	now := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestCache_HistoryOrderDedupeCap(t *testing.T) {
	t.Parallel()

	for name, mk := range factories() {
		mk := mk
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			c := New(mk(t), fixedClock())

			require.NoError(t, c.AppendHistory(ctx, Entry{ID: "a", AdminToken: "tok-a", Sender: "Alex"}))
			require.NoError(t, c.AppendHistory(ctx, Entry{ID: "b", AdminToken: "tok-b"}))

			first, ok, err := c.FindHistory(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)

			// Re-adding "a" fills gaps in place; creation order is unchanged.
			require.NoError(t, c.AppendHistory(ctx, Entry{ID: "A", AdminToken: "typo", RecipientName: "Sarah"}))
			hist, err := c.History(ctx)
			require.NoError(t, err)
			require.Len(t, hist, 2)
			assert.Equal(t, "b", hist[0].ID)
			assert.Equal(t, "a", hist[1].ID)
			assert.Equal(t, "tok-a", hist[1].AdminToken, "an unverified token never replaces a stored one")
			assert.Equal(t, "Alex", hist[1].Sender)
			assert.Equal(t, "Sarah", hist[1].RecipientName)
			assert.True(t, first.CreatedAt.Equal(hist[1].CreatedAt))

			latest, ok, err := c.LatestHistory(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "b", latest.ID)

			for i := 0; i < MaxHistory+5; i++ {
				require.NoError(t, c.AppendHistory(ctx, Entry{ID: fmt.Sprintf("n-%02d", i)}))
			}
			hist, err = c.History(ctx)
			require.NoError(t, err)
			assert.Len(t, hist, MaxHistory)
			latest, ok, err = c.LatestHistory(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("n-%02d", MaxHistory+4), latest.ID)
		})
	}
}

func TestCache_ConfirmHistoryReplacesToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore(), fixedClock())

	require.NoError(t, c.AppendHistory(ctx, Entry{ID: "a", AdminToken: "stale", Sender: "Alex"}))
	require.NoError(t, c.AppendHistory(ctx, Entry{ID: "b", AdminToken: "tok-b"}))
	require.NoError(t, c.ConfirmHistory(ctx, Entry{ID: "a", AdminToken: "live", RecipientName: "Sarah"}))

	hist, err := c.History(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "b", hist[0].ID)
	assert.Equal(t, Entry{ID: "a", AdminToken: "live", Sender: "Alex", RecipientName: "Sarah", CreatedAt: hist[1].CreatedAt}, hist[1])

	// Confirming an unknown id records it as new.
	require.NoError(t, c.ConfirmHistory(ctx, Entry{ID: "c", AdminToken: "tok-c"}))
	latest, ok, err := c.LatestHistory(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", latest.ID)
}

func TestDocument_LatestHistoryByCreation(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	d := NewDocument()
	// Documents written by older builds may hold a re-appended entry at the front.
	d.History = []Entry{
		{ID: "old", CreatedAt: t0},
		{ID: "new", CreatedAt: t0.Add(time.Minute)},
	}
	latest, ok := d.LatestHistory()
	require.True(t, ok)
	assert.Equal(t, "new", latest.ID)

	_, ok = NewDocument().LatestHistory()
	assert.False(t, ok)
}

func TestCache_PendingAcceptSlot(t *testing.T) {
	t.Parallel()

	for name, mk := range factories() {
		mk := mk
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			c := New(mk(t), fixedClock())

			_, ok, err := c.PendingAccept(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = c.SetPendingAccept(ctx, "first")
			require.NoError(t, err)
			_, err = c.SetPendingAccept(ctx, "second")
			require.NoError(t, err)

			m, ok, err := c.PendingAccept(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "second", m.ID)
			assert.False(t, m.At.IsZero())

			cleared, err := c.ClearPendingAccept(ctx, "first")
			require.NoError(t, err)
			assert.False(t, cleared, "a marker for another id must survive")

			cleared, err = c.ClearPendingAccept(ctx, "second")
			require.NoError(t, err)
			assert.True(t, cleared)
			_, ok, err = c.PendingAccept(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_DraftUnlockedDeferred(t *testing.T) {
	t.Parallel()

	for name, mk := range factories() {
		mk := mk
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			c := New(mk(t), fixedClock())

			require.NoError(t, c.SaveDraft(ctx, Draft{Sender: " Alex ", RecipientName: "Sam", Plan: "spy"}))
			require.NoError(t, c.SaveDraft(ctx, Draft{Sender: "Alex", RecipientName: "Sarah", Plan: "basic"}))
			dr, ok, err := c.Draft(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, Draft{Sender: "Alex", RecipientName: "Sarah", Plan: "basic"}, dr)
			require.NoError(t, c.ClearDraft(ctx))
			_, ok, err = c.Draft(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.SetUnlocked(ctx, "inv-1"))
			require.NoError(t, c.SetUnlocked(ctx, "inv-1"))
			on, err := c.IsUnlocked(ctx, "INV-1")
			require.NoError(t, err)
			assert.True(t, on)
			on, err = c.IsUnlocked(ctx, "inv-2")
			require.NoError(t, err)
			assert.False(t, on)

			require.NoError(t, c.SaveDeferred(ctx, Deferred{ID: "inv-1", State: "tok"}))
			df, ok, err := c.TakeDeferred(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "inv-1", df.ID)
			assert.False(t, df.SavedAt.IsZero())
			_, ok, err = c.TakeDeferred(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "deferred context is taken once")
		})
	}
}

func TestStore_UpdateErrorDiscardsChanges(t *testing.T) {
	t.Parallel()

	for name, mk := range factories() {
		mk := mk
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := mk(t)

			boom := fmt.Errorf("boom")
			err := s.Update(ctx, func(d *Document) error {
				d.AppendHistory(Entry{ID: "lost"})
				return boom
			})
			require.ErrorIs(t, err, boom)

			d, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, d.History)
			assert.Equal(t, DocumentVersion, d.Version)
		})
	}
}

func TestStore_ClosedReturnsErrClosed(t *testing.T) {
	t.Parallel()

	for name, mk := range factories() {
		mk := mk
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := mk(t)
			require.NoError(t, s.Close())

			_, err := s.Load(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
			err = s.Update(context.Background(), func(*Document) error { return nil })
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	c := New(s, fixedClock())
	require.NoError(t, c.AppendHistory(ctx, Entry{ID: "inv-1", AdminToken: "tok"}))
	_, err = c.SetPendingAccept(ctx, "inv-9")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	c2 := New(s2, nil)

	e, ok, err := c2.FindHistory(ctx, "inv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", e.AdminToken)

	m, ok, err := c2.PendingAccept(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "inv-9", m.ID)
}

func TestSQLiteStore_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	// Two handles on one file behave like two cupidctl processes.
	caches := make([]*Cache, 2)
	for i := range caches {
		s, err := OpenSQLite(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		caches[i] = New(s, nil)
	}

	const perWriter = 10
	errs := make(chan error, len(caches)*perWriter)
	var wg sync.WaitGroup
	for w, c := range caches {
		wg.Add(1)
		go func(w int, c *Cache) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				errs <- c.AppendHistory(ctx, Entry{ID: fmt.Sprintf("w%d-%02d", w, i)})
			}
		}(w, c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	hist, err := caches[0].History(ctx)
	require.NoError(t, err)
	assert.Len(t, hist, len(caches)*perWriter, "no update may be lost")
}

func TestSQLiteStore_RefusesNewerDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO documents (doc_key, version, body, updated_at) VALUES (?, ?, ?, ?)`,
		deviceKey, DocumentVersion+1, `{"version":2}`, 0)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	err = s.Update(context.Background(), func(*Document) error { return nil })
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}
