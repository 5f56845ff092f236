package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cupid/cmd/internal/invitation"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	// SignatureHeader carries the processor's timestamped HMAC signature.
	SignatureHeader = "Stripe-Signature"

	defaultMaxBodyBytes = 1 << 20 // 1 MiB
	defaultTolerance    = 5 * time.Minute

	eventCheckoutCompleted      = "checkout.session.completed"
	eventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
)

// Webhook outcomes, used for logs and metrics.
const (
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeConfigMissing    = "config_missing"
	OutcomeBadSignature     = "bad_signature"
	OutcomeIgnored          = "ignored"
	OutcomeMalformed        = "malformed"
	OutcomeMissingReference = "missing_reference"
	OutcomeUnknownReference = "unknown_reference"
	OutcomePaymentPending   = "payment_pending"
	OutcomeDuplicate        = "duplicate"
	OutcomeConfirmed        = "confirmed"
	OutcomeStoreError       = "store_error"
)

// Confirmer is the slice of invitation.Service the webhook needs.
type Confirmer interface {
	Lookup(ctx context.Context, id string) (invitation.Invitation, error)
	ConfirmPayment(ctx context.Context, id, sessionID string) (invitation.Invitation, bool, error)
}

// Config controls webhook verification.
type Config struct {
	WebhookSecret string
	Tolerance     time.Duration
	MaxBodyBytes  int64
}

// Handler is the payment notification endpoint.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	svc     Confirmer
	observe func(outcome string)
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithOutcomeObserver is called once per request with its outcome (metrics).
func WithOutcomeObserver(fn func(outcome string)) HandlerOption {
	return func(h *Handler) {
		if fn != nil {
			h.observe = fn
		}
	}
}

// NewHandler constructs the webhook handler. A nil Confirmer or an empty secret is
// allowed here and reported as a configuration error on every request.
func NewHandler(log *slog.Logger, cfg Config, svc Confirmer, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultTolerance
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	h := &Handler{log: log, cfg: cfg, svc: svc, observe: func(string) {}}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type ackResponse struct {
	Received bool   `json:"received"`
	Warning  string `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.observe(OutcomeMethodNotAllowed)
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	// Configuration is checked before the body is trusted or anything is written.
	if strings.TrimSpace(h.cfg.WebhookSecret) == "" || h.svc == nil {
		h.observe(OutcomeConfigMissing)
		h.log.Error("payment.webhook.config_missing",
			"has_secret", strings.TrimSpace(h.cfg.WebhookSecret) != "",
			"has_store", h.svc != nil,
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "server misconfigured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		h.observe(OutcomeBadSignature)
		h.log.Warn("payment.webhook.body.fail", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get(SignatureHeader), h.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                h.cfg.Tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		h.observe(OutcomeBadSignature)
		h.log.Warn("payment.webhook.signature.fail", "err", err, "remote", r.RemoteAddr)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "signature verification failed"})
		return
	}

	status, ack, outcome := h.handleEvent(r.Context(), event)
	h.observe(outcome)
	if status != http.StatusOK {
		writeJSON(w, status, errorResponse{Error: "temporarily unable to record payment"})
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) handleEvent(ctx context.Context, event stripe.Event) (int, ackResponse, string) {
	eventType := string(event.Type)
	if eventType != eventCheckoutCompleted && eventType != eventCheckoutAsyncSucceeded {
		h.log.Debug("payment.webhook.ignored", "event_id", event.ID, "type", eventType)
		return http.StatusOK, ackResponse{Received: true}, OutcomeIgnored
	}

	var sess stripe.CheckoutSession
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &sess) != nil {
		// Redelivery cannot repair a malformed object; acknowledge and keep the evidence in logs.
		h.log.Error("payment.webhook.malformed", "event_id", event.ID, "type", eventType)
		return http.StatusOK, ackResponse{Received: true, Warning: "malformed checkout session"}, OutcomeMalformed
	}

	ref := ExtractReference(&sess)
	if ref == "" {
		h.log.Warn("payment.webhook.missing_reference", "event_id", event.ID, "session_id", sess.ID)
		return http.StatusOK, ackResponse{Received: true, Warning: "missing invitation reference"}, OutcomeMissingReference
	}
	log := h.log.With("invitation_id", ref, "event_id", event.ID, "session_id", sess.ID)

	if eventType == eventCheckoutCompleted && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		// Delayed payment methods: the async_payment_succeeded event performs the transition.
		log.Info("payment.webhook.payment_pending")
		return http.StatusOK, ackResponse{Received: true, Warning: "payment not yet settled"}, OutcomePaymentPending
	}

	current, err := h.svc.Lookup(ctx, ref)
	if err != nil {
		if unknownReference(err) {
			// Rows are written before checkout opens, so redelivery cannot make this one appear.
			log.Error("payment.webhook.unknown_reference", "err", err)
			return http.StatusOK, ackResponse{Received: true, Warning: "unknown invitation reference"}, OutcomeUnknownReference
		}
		log.Error("payment.webhook.lookup.fail", "err", err)
		return http.StatusInternalServerError, ackResponse{}, OutcomeStoreError
	}
	if current.Paid() {
		log.Info("payment.webhook.duplicate")
		return http.StatusOK, ackResponse{Received: true}, OutcomeDuplicate
	}

	_, changed, err := h.svc.ConfirmPayment(ctx, ref, sess.ID)
	if err != nil {
		if unknownReference(err) {
			log.Error("payment.webhook.unknown_reference", "err", err)
			return http.StatusOK, ackResponse{Received: true, Warning: "unknown invitation reference"}, OutcomeUnknownReference
		}
		log.Error("payment.webhook.confirm.fail", "err", err)
		return http.StatusInternalServerError, ackResponse{}, OutcomeStoreError
	}
	if !changed {
		// Lost a race with a concurrent delivery of the same event.
		log.Info("payment.webhook.duplicate", "raced", true)
		return http.StatusOK, ackResponse{Received: true}, OutcomeDuplicate
	}

	log.Info("payment.webhook.confirmed")
	return http.StatusOK, ackResponse{Received: true}, OutcomeConfirmed
}

func unknownReference(err error) bool {
	return errors.Is(err, invitation.ErrNotFound) || errors.Is(err, invitation.ErrInvalidInput)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
