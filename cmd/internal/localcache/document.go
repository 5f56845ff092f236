// Package localcache is the device-side durable cache: invitation history, the pending
// acceptance marker, the in-progress draft, unlocked flags and a deferred recovery context.
//
// Nothing here is authoritative for payment or game status. The record store is.
package localcache

import (
	"errors"
	"strings"
	"time"
)

const (
	// DocumentVersion is the layout written by this build. Newer documents are refused.
	DocumentVersion = 1
	// MaxHistory bounds the history list; the oldest entries fall off.
	MaxHistory = 50
)

var (
	ErrClosed             = errors.New("localcache: store closed")
	ErrUnsupportedVersion = errors.New("localcache: unsupported document version")
)

// Entry is one invitation created on this device.
type Entry struct {
	ID            string    `json:"id"`
	AdminToken    string    `json:"admin_token"`
	Sender        string    `json:"sender"`
	RecipientName string    `json:"recipient_name"`
	Plan          string    `json:"plan"`
	CreatedAt     time.Time `json:"created_at"`
}

// PendingAccept marks a recipient verdict not yet confirmed by the record store.
type PendingAccept struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Draft is unsubmitted form input, overwritten on every edit.
type Draft struct {
	Sender        string `json:"sender"`
	RecipientName string `json:"recipient_name"`
	Plan          string `json:"plan"`
}

// Deferred is a reconciliation the sender chose to finish later.
type Deferred struct {
	ID         string    `json:"id"`
	AdminToken string    `json:"admin_token,omitempty"`
	State      string    `json:"state,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	SavedAt    time.Time `json:"saved_at"`
}

// Document is the whole cache. Field policies:
//   - History: append-only, de-duplicated by id, newest created first, capped at MaxHistory.
//   - PendingAccept, Draft, Deferred: single slot, overwrite or clear.
//   - Unlocked: set-only per invitation id.
type Document struct {
	Version       int             `json:"version"`
	History       []Entry         `json:"history"`
	PendingAccept *PendingAccept  `json:"pending_accept,omitempty"`
	Draft         *Draft          `json:"draft,omitempty"`
	Unlocked      map[string]bool `json:"unlocked,omitempty"`
	Deferred      *Deferred       `json:"deferred,omitempty"`
}

// NewDocument returns an empty document at the current version.
func NewDocument() Document {
	return Document{Version: DocumentVersion, History: []Entry{}}
}

// AppendHistory records e. A new id goes to the front. An existing entry keeps its
// position and CreatedAt, and e only fills fields it has left empty, so an unverified
// admin token never replaces a stored one.
func (d *Document) AppendHistory(e Entry) {
	d.upsertHistory(e, false)
}

// ConfirmHistory is AppendHistory for an entry the record store just accepted:
// its non-empty fields, the admin token included, replace the stored ones.
func (d *Document) ConfirmHistory(e Entry) {
	d.upsertHistory(e, true)
}

func (d *Document) upsertHistory(e Entry, verified bool) {
	e.ID = normalizeID(e.ID)
	if e.ID == "" {
		return
	}

	for i, old := range d.History {
		if old.ID != e.ID {
			continue
		}
		if verified {
			old.AdminToken = firstNonEmpty(e.AdminToken, old.AdminToken)
			old.Sender = firstNonEmpty(e.Sender, old.Sender)
			old.RecipientName = firstNonEmpty(e.RecipientName, old.RecipientName)
			old.Plan = firstNonEmpty(e.Plan, old.Plan)
		} else {
			old.AdminToken = firstNonEmpty(old.AdminToken, e.AdminToken)
			old.Sender = firstNonEmpty(old.Sender, e.Sender)
			old.RecipientName = firstNonEmpty(old.RecipientName, e.RecipientName)
			old.Plan = firstNonEmpty(old.Plan, e.Plan)
		}
		if old.CreatedAt.IsZero() {
			old.CreatedAt = e.CreatedAt
		}
		d.History[i] = old
		return
	}

	d.History = append([]Entry{e}, d.History...)
	if len(d.History) > MaxHistory {
		d.History = d.History[:MaxHistory]
	}
}

// FindHistory returns the entry for id.
func (d Document) FindHistory(id string) (Entry, bool) {
	id = normalizeID(id)
	for _, e := range d.History {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// LatestHistory returns the most recently created entry. Ties go to the entry
// nearer the front.
func (d Document) LatestHistory() (Entry, bool) {
	if len(d.History) == 0 {
		return Entry{}, false
	}
	latest := d.History[0]
	for _, e := range d.History[1:] {
		if e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	return latest, true
}

// SetUnlocked flags id as unlocked. Flags are never cleared.
func (d *Document) SetUnlocked(id string) {
	id = normalizeID(id)
	if id == "" {
		return
	}
	if d.Unlocked == nil {
		d.Unlocked = map[string]bool{}
	}
	d.Unlocked[id] = true
}

// ClearPendingAccept clears the marker only when it belongs to id.
func (d *Document) ClearPendingAccept(id string) bool {
	if d.PendingAccept == nil || d.PendingAccept.ID != normalizeID(id) {
		return false
	}
	d.PendingAccept = nil
	return true
}

func (d Document) clone() Document {
	out := Document{
		Version: d.Version,
		History: append([]Entry{}, d.History...),
	}
	if d.PendingAccept != nil {
		p := *d.PendingAccept
		out.PendingAccept = &p
	}
	if d.Draft != nil {
		dr := *d.Draft
		out.Draft = &dr
	}
	if d.Deferred != nil {
		df := *d.Deferred
		out.Deferred = &df
	}
	if len(d.Unlocked) > 0 {
		out.Unlocked = make(map[string]bool, len(d.Unlocked))
		for k, v := range d.Unlocked {
			out.Unlocked[k] = v
		}
	}
	return out
}

func (d *Document) normalize() error {
	if d.Version > DocumentVersion {
		return ErrUnsupportedVersion
	}
	d.Version = DocumentVersion
	if d.History == nil {
		d.History = []Entry{}
	}
	if len(d.History) > MaxHistory {
		d.History = d.History[:MaxHistory]
	}
	return nil
}

func normalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
