package invitation

import (
	"strings"
	"time"
	"unicode/utf8"

	"cupid/cmd/identity/ids"
)

const (
	maxNameRunes      = 60
	minAdminTokenLen  = 32
	maxAdminTokenLen  = 128
	defaultActivities = 100
)

// Plan selects which sender-side views are unlocked after payment.
type Plan string

const (
	PlanBasic Plan = "basic"
	PlanSpy   Plan = "spy"
)

// ParsePlan normalizes a plan name. "premium" is accepted as an alias of spy.
func ParsePlan(s string) (Plan, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return PlanBasic, nil
	case "spy", "premium":
		return PlanSpy, nil
	default:
		return "", invalid("invitation.ParsePlan", "unknown plan")
	}
}

// UnlocksActivity reports whether the plan exposes the recipient activity log.
func (p Plan) UnlocksActivity() bool { return p == PlanSpy }

// PaymentStatus is monotonic: unpaid -> paid, never back.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// GameStatus moves once from pending to a terminal value.
type GameStatus string

const (
	GamePending  GameStatus = "pending"
	GameAccepted GameStatus = "accepted"
	GameRejected GameStatus = "rejected"
)

// Terminal reports whether no further verdict can change the status.
func (g GameStatus) Terminal() bool { return g == GameAccepted || g == GameRejected }

// Verdict is the recipient's answer passed to the answer procedure.
type Verdict string

const (
	VerdictYes Verdict = "yes"
	VerdictNo  Verdict = "no"
)

// ParseVerdict accepts yes/no and the terminal status names.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "accepted", "accept":
		return VerdictYes, nil
	case "no", "rejected", "reject":
		return VerdictNo, nil
	default:
		return "", invalid("invitation.ParseVerdict", "unknown answer")
	}
}

// Outcome maps a verdict to its terminal game status.
func (v Verdict) Outcome() GameStatus {
	if v == VerdictYes {
		return GameAccepted
	}
	return GameRejected
}

// ActivityKind names a recipient interaction in the activity log.
type ActivityKind string

const (
	ActivityViewed    ActivityKind = "viewed"
	ActivityNoAttempt ActivityKind = "no_attempt"
	ActivityAccepted  ActivityKind = "accepted"
	ActivityRejected  ActivityKind = "rejected"
)

// Activity is one append-only telemetry entry.
type Activity struct {
	ID   string       `json:"id"`
	Kind ActivityKind `json:"kind"`
	At   time.Time    `json:"at"`
}

// Invitation is the stored row. AdminTokenHash never leaves the server.
type Invitation struct {
	ID               string
	Sender           string
	RecipientName    string
	Plan             Plan
	PaymentStatus    PaymentStatus
	PaymentSessionID *string
	PaidAt           *time.Time
	GameStatus       GameStatus
	AnsweredAt       *time.Time
	Attempts         int
	ViewedAt         *time.Time
	CreatedAt        time.Time
	AdminTokenHash   string
}

// Paid reports whether the payment transition has happened.
func (i Invitation) Paid() bool { return i.PaymentStatus == PaymentPaid }

// PublicView is what an unauthenticated reader may see of a paid invitation.
type PublicView struct {
	ID            string        `json:"id"`
	Sender        string        `json:"sender"`
	RecipientName string        `json:"recipient_name"`
	Plan          Plan          `json:"plan"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	GameStatus    GameStatus    `json:"game_status"`
}

// PrivilegedView is the admin-token read, including telemetry.
type PrivilegedView struct {
	PublicView
	Attempts   int        `json:"attempts"`
	ViewedAt   *time.Time `json:"viewed_at,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Activity   []Activity `json:"activity,omitempty"`
}

func (i Invitation) publicView() PublicView {
	return PublicView{
		ID:            i.ID,
		Sender:        i.Sender,
		RecipientName: i.RecipientName,
		Plan:          i.Plan,
		PaymentStatus: i.PaymentStatus,
		GameStatus:    i.GameStatus,
	}
}

// Draft is the creation payload; id and admin token are minted by the device.
type Draft struct {
	ID            string
	AdminToken    string
	Sender        string
	RecipientName string
	Plan          Plan
}

// Normalize trims and validates a draft.
func (d Draft) Normalize() (Draft, error) {
	const op = "invitation.Draft.Normalize"

	d.ID = strings.ToLower(strings.TrimSpace(d.ID))
	d.AdminToken = strings.TrimSpace(d.AdminToken)
	d.Sender = strings.TrimSpace(d.Sender)
	d.RecipientName = strings.TrimSpace(d.RecipientName)

	if !ids.IsInvitationID(d.ID) {
		return Draft{}, invalid(op, "id must be a uuid")
	}
	if err := validateAdminToken(d.AdminToken); err != nil {
		return Draft{}, err
	}
	if err := ValidateName(d.Sender); err != nil {
		return Draft{}, invalid(op, "sender: "+err.Error())
	}
	if err := ValidateName(d.RecipientName); err != nil {
		return Draft{}, invalid(op, "recipient: "+err.Error())
	}
	plan, err := ParsePlan(string(d.Plan))
	if err != nil {
		return Draft{}, err
	}
	d.Plan = plan
	return d, nil
}

// ValidateName checks a display name is present and short enough.
func ValidateName(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return invalid("invitation.ValidateName", "required")
	}
	if utf8.RuneCountInString(s) > maxNameRunes {
		return invalid("invitation.ValidateName", "too long")
	}
	return nil
}

func validateAdminToken(s string) error {
	if len(s) < minAdminTokenLen || len(s) > maxAdminTokenLen {
		return invalid("invitation.validateAdminToken", "bad length")
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return invalid("invitation.validateAdminToken", "must be url-safe")
		}
	}
	return nil
}
