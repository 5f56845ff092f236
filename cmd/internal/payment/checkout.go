package payment

import (
	"context"
	"strings"

	"cupid/cmd/internal/invitation"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// SessionIDPlaceholder is expanded by the processor into the checkout session id.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// CheckoutRequest describes a hosted checkout for one invitation.
type CheckoutRequest struct {
	InvitationID string
	Plan         invitation.Plan
	SuccessURL   string
	CancelURL    string
}

// CheckoutSession is the processor-side session the browser is redirected to.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// CheckoutCreator creates hosted checkout sessions.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, in CheckoutRequest) (CheckoutSession, error)
}

// StripeCheckout creates checkout sessions through the processor API.
type StripeCheckout struct {
	api    *client.API
	prices map[invitation.Plan]string
}

// CheckoutOption configures StripeCheckout.
type CheckoutOption func(*stripe.Backends)

// WithAPIBaseURL points the processor client at another API host (tests, mocks).
func WithAPIBaseURL(baseURL string) CheckoutOption {
	return func(b *stripe.Backends) {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(strings.TrimRight(baseURL, "/")),
			MaxNetworkRetries: stripe.Int64(0),
		})
		b.API = backend
		b.Connect = backend
		b.Uploads = backend
	}
}

// NewStripeCheckout builds a checkout creator from an API key and one price id per plan.
func NewStripeCheckout(apiKey string, prices map[invitation.Plan]string, opts ...CheckoutOption) (*StripeCheckout, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingConfig
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackend(stripe.APIBackend),
		Connect: stripe.GetBackend(stripe.ConnectBackend),
		Uploads: stripe.GetBackend(stripe.UploadsBackend),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(backends)
		}
	}

	api := &client.API{}
	api.Init(apiKey, backends)

	cp := make(map[invitation.Plan]string, len(prices))
	for plan, price := range prices {
		if price = strings.TrimSpace(price); price != "" {
			cp[plan] = price
		}
	}
	return &StripeCheckout{api: api, prices: cp}, nil
}

// CreateCheckout implements CheckoutCreator.
func (c *StripeCheckout) CreateCheckout(ctx context.Context, in CheckoutRequest) (CheckoutSession, error) {
	if c == nil || c.api == nil {
		return CheckoutSession{}, ErrMissingConfig
	}
	if strings.TrimSpace(in.InvitationID) == "" || strings.TrimSpace(in.SuccessURL) == "" || strings.TrimSpace(in.CancelURL) == "" {
		return CheckoutSession{}, ErrInvalidInput
	}
	price, ok := c.prices[in.Plan]
	if !ok {
		return CheckoutSession{}, ErrUnsupportedPlan
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(withSessionPlaceholder(in.SuccessURL)),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.InvitationID),
	}
	params.Context = ctx
	params.AddMetadata(MetadataInvitationID, in.InvitationID)
	params.AddMetadata("plan", string(in.Plan))

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// withSessionPlaceholder appends session_id={CHECKOUT_SESSION_ID} unescaped, so the
// processor can substitute it on redirect.
func withSessionPlaceholder(successURL string) string {
	if strings.Contains(successURL, SessionIDPlaceholder) {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id=" + SessionIDPlaceholder
}
