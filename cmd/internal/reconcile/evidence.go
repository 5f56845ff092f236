package reconcile

import (
	"cupid/cmd/internal/localcache"
	"cupid/cmd/internal/recovery"
)

// Source names where a piece of evidence came from.
type Source string

const (
	SourceNone       Source = ""
	SourceNavigation Source = "navigation"
	SourceToken      Source = "token"
	SourceURL        Source = "url"
	SourceCache      Source = "cache"
	SourceHeuristic  Source = "heuristic"
)

// Evidence is everything the device knows locally when a payment flow resumes.
type Evidence struct {
	// Navigation is the payload handed over in-process by Submit, if this process made it.
	Navigation *recovery.Payload
	Return     recovery.ReturnParams
	Cache      localcache.Document
}

// Resolution is the merged local view: which invitation, and which secret to try.
// Hint carries locally known display fields; the live read replaces all of them.
type Resolution struct {
	ID          string
	AdminToken  string
	Hint        recovery.Payload
	IDSource    Source
	TokenSource Source
	Heuristic   bool
	RepairCache bool
	TokenErr    error
}

// Merge resolves local evidence in strict priority order:
//
//  1. success flag + state token whose embedded id matches the explicit id
//  2. in-process navigation payload for the same invitation
//  3. the explicit id, with the admin token looked up in the cache history
//  4. success flag with no usable reference: the most recent cache entry (heuristic)
//
// Merge never decides payment status. Business fields always come from the live read,
// and a local admin token is kept only if the live record accepts it for the same id.
func Merge(ev Evidence) Resolution {
	var r Resolution
	explicit := ev.Return.ID

	if ev.Return.Success && ev.Return.State != "" {
		p, err := recovery.DecodeFor(ev.Return.State, explicit)
		if err != nil {
			r.TokenErr = err
		} else {
			r.ID, r.AdminToken, r.Hint = p.ID, p.AdminToken, p
			r.IDSource, r.TokenSource = SourceToken, SourceToken
		}
	}

	if r.ID == "" && ev.Navigation != nil && ev.Navigation.ID != "" &&
		(explicit == "" || explicit == ev.Navigation.ID) {
		nav := *ev.Navigation
		r.ID, r.AdminToken, r.Hint = nav.ID, nav.AdminToken, nav
		r.IDSource, r.TokenSource = SourceNavigation, SourceNavigation
	}

	if r.ID == "" && explicit != "" {
		r.ID = explicit
		r.IDSource = SourceURL
		r.Hint = recovery.Payload{ID: explicit}
	}

	if r.ID != "" && r.AdminToken == "" {
		if e, ok := ev.Cache.FindHistory(r.ID); ok && e.AdminToken != "" {
			r.AdminToken = e.AdminToken
			r.TokenSource = SourceCache
			r.Hint = payloadFromEntry(e)
		}
	}

	if r.ID == "" && ev.Return.Success {
		if e, ok := ev.Cache.LatestHistory(); ok {
			r.ID, r.AdminToken, r.Hint = e.ID, e.AdminToken, payloadFromEntry(e)
			r.IDSource, r.TokenSource = SourceHeuristic, SourceCache
			r.Heuristic = true
		}
	}

	if r.ID != "" && r.TokenSource == SourceToken {
		e, ok := ev.Cache.FindHistory(r.ID)
		r.RepairCache = !ok || e.AdminToken != r.AdminToken
	}
	return r
}

func payloadFromEntry(e localcache.Entry) recovery.Payload {
	return recovery.Payload{
		AdminToken: e.AdminToken,
		ID:         e.ID,
		Sender:     e.Sender,
		Recipient:  e.RecipientName,
		Plan:       e.Plan,
	}
}
