package localcache

import (
	"context"
	"strings"
	"time"
)

// Store persists one Document. Update is a read-modify-write; fn's changes are
// discarded when it returns an error.
type Store interface {
	Load(ctx context.Context) (Document, error)
	Update(ctx context.Context, fn func(*Document) error) error
	Close() error
}

// Cache adds the per-field operations on top of a Store.
type Cache struct {
	store Store
	now   func() time.Time
}

// New wraps store. A nil clock defaults to time.Now.
func New(store Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, now: now}
}

// Close closes the underlying store.
func (c *Cache) Close() error { return c.store.Close() }

// Load returns a snapshot of the whole document.
func (c *Cache) Load(ctx context.Context) (Document, error) { return c.store.Load(ctx) }

// AppendHistory records an invitation created (or recovered) on this device.
func (c *Cache) AppendHistory(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now().UTC()
	}
	return c.store.Update(ctx, func(d *Document) error {
		d.AppendHistory(e)
		return nil
	})
}

// ConfirmHistory records an entry whose admin token the record store just accepted.
func (c *Cache) ConfirmHistory(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now().UTC()
	}
	return c.store.Update(ctx, func(d *Document) error {
		d.ConfirmHistory(e)
		return nil
	})
}

// FindHistory looks up an entry by id.
func (c *Cache) FindHistory(ctx context.Context, id string) (Entry, bool, error) {
	d, err := c.store.Load(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := d.FindHistory(id)
	return e, ok, nil
}

// LatestHistory returns the most recently created entry.
func (c *Cache) LatestHistory(ctx context.Context) (Entry, bool, error) {
	d, err := c.store.Load(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := d.LatestHistory()
	return e, ok, nil
}

// History lists entries, newest created first.
func (c *Cache) History(ctx context.Context) ([]Entry, error) {
	d, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return d.History, nil
}

// SetPendingAccept overwrites the pending acceptance marker.
func (c *Cache) SetPendingAccept(ctx context.Context, id string) (PendingAccept, error) {
	marker := PendingAccept{ID: normalizeID(id), At: c.now().UTC()}
	err := c.store.Update(ctx, func(d *Document) error {
		d.PendingAccept = &marker
		return nil
	})
	return marker, err
}

// PendingAccept returns the marker, if any.
func (c *Cache) PendingAccept(ctx context.Context) (PendingAccept, bool, error) {
	d, err := c.store.Load(ctx)
	if err != nil || d.PendingAccept == nil {
		return PendingAccept{}, false, err
	}
	return *d.PendingAccept, true, nil
}

// ClearPendingAccept clears the marker if it is for id and reports whether it did.
func (c *Cache) ClearPendingAccept(ctx context.Context, id string) (bool, error) {
	var cleared bool
	err := c.store.Update(ctx, func(d *Document) error {
		cleared = d.ClearPendingAccept(id)
		return nil
	})
	return cleared, err
}

// SaveDraft overwrites the in-progress draft.
func (c *Cache) SaveDraft(ctx context.Context, dr Draft) error {
	dr.Sender = strings.TrimSpace(dr.Sender)
	dr.RecipientName = strings.TrimSpace(dr.RecipientName)
	dr.Plan = strings.TrimSpace(dr.Plan)
	return c.store.Update(ctx, func(d *Document) error {
		d.Draft = &dr
		return nil
	})
}

// Draft returns the saved draft, if any.
func (c *Cache) Draft(ctx context.Context) (Draft, bool, error) {
	d, err := c.store.Load(ctx)
	if err != nil || d.Draft == nil {
		return Draft{}, false, err
	}
	return *d.Draft, true, nil
}

// ClearDraft removes the draft after a successful submission.
func (c *Cache) ClearDraft(ctx context.Context) error {
	return c.store.Update(ctx, func(d *Document) error {
		d.Draft = nil
		return nil
	})
}

// SetUnlocked marks id as unlocked on this device.
func (c *Cache) SetUnlocked(ctx context.Context, id string) error {
	return c.store.Update(ctx, func(d *Document) error {
		d.SetUnlocked(id)
		return nil
	})
}

// IsUnlocked reports the unlocked flag for id.
func (c *Cache) IsUnlocked(ctx context.Context, id string) (bool, error) {
	d, err := c.store.Load(ctx)
	if err != nil {
		return false, err
	}
	return d.Unlocked[normalizeID(id)], nil
}

// SaveDeferred overwrites the deferred reconciliation context.
func (c *Cache) SaveDeferred(ctx context.Context, df Deferred) error {
	df.ID = normalizeID(df.ID)
	if df.SavedAt.IsZero() {
		df.SavedAt = c.now().UTC()
	}
	return c.store.Update(ctx, func(d *Document) error {
		d.Deferred = &df
		return nil
	})
}

// TakeDeferred returns and clears the deferred context.
func (c *Cache) TakeDeferred(ctx context.Context) (Deferred, bool, error) {
	var (
		out Deferred
		ok  bool
	)
	err := c.store.Update(ctx, func(d *Document) error {
		if d.Deferred == nil {
			return nil
		}
		out, ok = *d.Deferred, true
		d.Deferred = nil
		return nil
	})
	return out, ok, err
}
