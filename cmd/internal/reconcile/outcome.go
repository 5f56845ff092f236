package reconcile

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/localcache"
)

// Links are the shareable and private URLs of one invitation.
type Links struct {
	Recipient string `json:"recipient,omitempty"`
	Dashboard string `json:"dashboard,omitempty"`
	Support   string `json:"support,omitempty"`
}

// Outcome is the single presentation model for every way a flow can end: fresh
// submission, payment return, deferred resume and manual re-check.
type Outcome struct {
	State         State                    `json:"state"`
	ID            string                   `json:"id,omitempty"`
	Sender        string                   `json:"sender,omitempty"`
	RecipientName string                   `json:"recipient_name,omitempty"`
	Plan          invitation.Plan          `json:"plan,omitempty"`
	PaymentStatus invitation.PaymentStatus `json:"payment_status,omitempty"`
	GameStatus    invitation.GameStatus    `json:"game_status,omitempty"`

	// AdminToken is only set once the live record accepted it.
	AdminToken string `json:"admin_token,omitempty"`
	Verified   bool   `json:"verified"`
	Heuristic  bool   `json:"heuristic,omitempty"`
	Source     Source `json:"source,omitempty"`

	Attempts   int               `json:"attempts,omitempty"`
	Links      Links             `json:"links"`
	ShareText  string            `json:"share_text,omitempty"`
	Draft      *localcache.Draft `json:"draft,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

func outcomeFromPublic(v invitation.PublicView) Outcome {
	return Outcome{
		ID:            v.ID,
		Sender:        v.Sender,
		RecipientName: v.RecipientName,
		Plan:          v.Plan,
		PaymentStatus: v.PaymentStatus,
		GameStatus:    v.GameStatus,
	}
}

func outcomeFromPrivileged(v invitation.PrivilegedView, adminToken string) Outcome {
	o := outcomeFromPublic(v.PublicView)
	o.AdminToken = adminToken
	o.Verified = true
	return o
}

func buildLinks(appURL, supportURL, id, adminToken, sessionID string) Links {
	var l Links
	if id == "" {
		return l
	}
	base := strings.TrimRight(appURL, "/")
	if base != "" {
		l.Recipient = base + "/v/" + url.PathEscape(id)
		if adminToken != "" {
			l.Dashboard = base + "/admin/" + url.PathEscape(id) + "?" + url.Values{"token": []string{adminToken}}.Encode()
		}
	}
	if supportURL != "" {
		if u, err := url.Parse(supportURL); err == nil {
			q := u.Query()
			q.Set("invitation_id", id)
			if sessionID != "" {
				q.Set("session_id", sessionID)
			}
			u.RawQuery = q.Encode()
			l.Support = u.String()
		}
	}
	return l
}

func shareText(o Outcome) string {
	if o.Links.Recipient == "" {
		return ""
	}
	if o.Sender == "" || o.RecipientName == "" {
		return "You have an invitation waiting: " + o.Links.Recipient
	}
	return fmt.Sprintf("%s, %s has a question for you: %s", o.RecipientName, o.Sender, o.Links.Recipient)
}
