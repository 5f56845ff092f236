package payment

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cupid/cmd/identity/ids"
	"cupid/cmd/internal/invitation"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testSecret = "whsec_test_secret_value"

type fakeConfirmer struct {
	mu        sync.Mutex
	lookups   int
	confirms  int
	lookupErr error
	writeErr  error
	paid      bool
}

func (f *fakeConfirmer) Lookup(_ context.Context, id string) (invitation.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return invitation.Invitation{}, f.lookupErr
	}
	status := invitation.PaymentUnpaid
	if f.paid {
		status = invitation.PaymentPaid
	}
	return invitation.Invitation{ID: id, PaymentStatus: status}, nil
}

func (f *fakeConfirmer) ConfirmPayment(_ context.Context, id, _ string) (invitation.Invitation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	if f.writeErr != nil {
		return invitation.Invitation{}, false, f.writeErr
	}
	f.paid = true
	return invitation.Invitation{ID: id, PaymentStatus: invitation.PaymentPaid}, true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventPayload(t *testing.T, eventType string, session map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":          "evt_" + fmt.Sprint(time.Now().UnixNano()),
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": session},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func signedRequest(t *testing.T, secret string, payload []byte) *http.Request {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig)))
	return req
}

func decodeAck(t *testing.T, rr *httptest.ResponseRecorder) ackResponse {
	t.Helper()
	var ack ackResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v (body=%q)", err, rr.Body.String())
	}
	return ack
}

func completedSession(ref string) map[string]any {
	return map[string]any{
		"id":                  "cs_test_" + ref[:8],
		"object":              "checkout.session",
		"client_reference_id": ref,
		"payment_status":      "paid",
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, &fakeConfirmer{})
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(method, "/webhooks/payment", nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", method, rr.Code)
		}
		if got := rr.Header().Get("Allow"); got != http.MethodPost {
			t.Fatalf("%s: expected Allow: POST, got %q", method, got)
		}
	}
}

func TestHandler_MissingConfigFailsBeforeSideEffects(t *testing.T) {
	t.Parallel()

	ref := "3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90"
	payload := eventPayload(t, eventCheckoutCompleted, completedSession(ref))

	fc := &fakeConfirmer{}
	h := NewHandler(discardLogger(), Config{}, fc)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, testSecret, payload))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("missing secret: expected 500, got %d", rr.Code)
	}
	if fc.lookups != 0 || fc.confirms != 0 {
		t.Fatalf("expected no store access, got lookups=%d confirms=%d", fc.lookups, fc.confirms)
	}

	h = NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, testSecret, payload))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("missing store: expected 500, got %d", rr.Code)
	}
}

func TestHandler_BadSignature(t *testing.T) {
	t.Parallel()

	fc := &fakeConfirmer{}
	var outcomes []string
	h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, fc,
		WithOutcomeObserver(func(o string) { outcomes = append(outcomes, o) }))

	payload := eventPayload(t, eventCheckoutCompleted, completedSession("3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, "whsec_other", payload))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("wrong secret: expected 400, got %d", rr.Code)
	}

	req := signedRequest(t, testSecret, payload)
	req.Body = io.NopCloser(bytes.NewReader(append(payload, ' ')))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("tampered body: expected 400, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("no header: expected 400, got %d", rr.Code)
	}

	if fc.lookups != 0 || fc.confirms != 0 {
		t.Fatalf("expected no store access on bad signature")
	}
	for _, o := range outcomes {
		if o != OutcomeBadSignature {
			t.Fatalf("unexpected outcome %q", o)
		}
	}
}

func TestHandler_DuplicateDeliveryTransitionsOnce(t *testing.T) {
	t.Parallel()

	svc, err := invitation.NewService(invitation.NewMemoryStore())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	d := newDraft(t)
	if _, _, err := svc.Create(context.Background(), d); err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, svc,
		WithOutcomeObserver(func(o string) {
			mu.Lock()
			outcomes[o]++
			mu.Unlock()
		}))

	payload := eventPayload(t, eventCheckoutCompleted, completedSession(d.ID))
	const deliveries = 3
	for i := 0; i < deliveries; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, signedRequest(t, testSecret, payload))
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d (%s)", i, rr.Code, rr.Body.String())
		}
		if ack := decodeAck(t, rr); !ack.Received || ack.Warning != "" {
			t.Fatalf("delivery %d: unexpected ack %+v", i, ack)
		}
	}

	if outcomes[OutcomeConfirmed] != 1 || outcomes[OutcomeDuplicate] != deliveries-1 {
		t.Fatalf("expected 1 confirmed + %d duplicates, got %v", deliveries-1, outcomes)
	}

	view, err := svc.ReadPublic(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("public read after payment: %v", err)
	}
	if view.PaymentStatus != invitation.PaymentPaid || view.GameStatus != invitation.GamePending {
		t.Fatalf("unexpected view after payment: %+v", view)
	}
}

func TestHandler_MissingReferenceAcknowledgedWithWarning(t *testing.T) {
	t.Parallel()

	fc := &fakeConfirmer{}
	h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, fc)
	payload := eventPayload(t, eventCheckoutCompleted, map[string]any{
		"id":             "cs_test_noref",
		"object":         "checkout.session",
		"payment_status": "paid",
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, testSecret, payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	ack := decodeAck(t, rr)
	if !ack.Received || ack.Warning == "" {
		t.Fatalf("expected warning ack, got %+v", ack)
	}
	if fc.confirms != 0 {
		t.Fatalf("expected no write")
	}
}

func TestHandler_MetadataFallback(t *testing.T) {
	t.Parallel()

	fc := &fakeConfirmer{}
	h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, fc)
	payload := eventPayload(t, eventCheckoutCompleted, map[string]any{
		"id":             "cs_test_meta",
		"object":         "checkout.session",
		"payment_status": "paid",
		"metadata":       map[string]string{"id": "3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90"},
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, testSecret, payload))
	if rr.Code != http.StatusOK || fc.confirms != 1 {
		t.Fatalf("expected confirmed via metadata alias, code=%d confirms=%d", rr.Code, fc.confirms)
	}
}

func TestHandler_StoreFailuresRequestRedelivery(t *testing.T) {
	t.Parallel()

	ref := "3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90"
	payload := eventPayload(t, eventCheckoutCompleted, completedSession(ref))

	cases := map[string]*fakeConfirmer{
		"lookup error": {lookupErr: errors.New("db down")},
		"write error":  {writeErr: errors.New("db down")},
	}
	for name, fc := range cases {
		h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, fc)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, signedRequest(t, testSecret, payload))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", name, rr.Code)
		}
	}
}

func TestHandler_UnknownReferenceAcknowledged(t *testing.T) {
	t.Parallel()

	ref := "3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90"
	payload := eventPayload(t, eventCheckoutCompleted, completedSession(ref))

	cases := map[string]*fakeConfirmer{
		"not found":     {lookupErr: invitation.ErrNotFound},
		"malformed id":  {lookupErr: invitation.ErrInvalidInput},
		"gone on write": {writeErr: invitation.ErrNotFound},
	}
	for name, fc := range cases {
		var outcomes []string
		h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, fc,
			WithOutcomeObserver(func(o string) { outcomes = append(outcomes, o) }))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, signedRequest(t, testSecret, payload))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", name, rr.Code)
		}
		if ack := decodeAck(t, rr); !ack.Received || ack.Warning == "" {
			t.Fatalf("%s: expected warning ack, got %+v", name, ack)
		}
		if len(outcomes) != 1 || outcomes[0] != OutcomeUnknownReference {
			t.Fatalf("%s: expected %q outcome, got %v", name, OutcomeUnknownReference, outcomes)
		}
	}
}

func TestHandler_DelayedPayment(t *testing.T) {
	t.Parallel()

	fc := &fakeConfirmer{}
	h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, fc)
	ref := "3f1c7a52-8d4e-4b8a-9a57-2d0f3e6b1c90"

	pending := completedSession(ref)
	pending["payment_status"] = "unpaid"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, testSecret, eventPayload(t, eventCheckoutCompleted, pending)))
	if rr.Code != http.StatusOK || fc.confirms != 0 {
		t.Fatalf("expected ack without write, code=%d confirms=%d", rr.Code, fc.confirms)
	}

	settled := completedSession(ref)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, testSecret, eventPayload(t, eventCheckoutAsyncSucceeded, settled)))
	if rr.Code != http.StatusOK || fc.confirms != 1 {
		t.Fatalf("expected async success to confirm, code=%d confirms=%d", rr.Code, fc.confirms)
	}
}

func TestHandler_IgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	fc := &fakeConfirmer{}
	h := NewHandler(discardLogger(), Config{WebhookSecret: testSecret}, fc)
	payload := eventPayload(t, "payment_intent.created", map[string]any{"id": "pi_1", "object": "payment_intent"})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, testSecret, payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ack := decodeAck(t, rr); !ack.Received {
		t.Fatalf("expected received ack")
	}
	if fc.lookups != 0 {
		t.Fatalf("expected no lookup for ignored events")
	}
}

func TestExtractReference(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   *stripe.CheckoutSession
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "client reference wins", in: &stripe.CheckoutSession{ClientReferenceID: "a", Metadata: map[string]string{MetadataInvitationID: "b"}}, want: "a"},
		{name: "metadata", in: &stripe.CheckoutSession{Metadata: map[string]string{MetadataInvitationID: "b", MetadataAlias: "c"}}, want: "b"},
		{name: "alias", in: &stripe.CheckoutSession{Metadata: map[string]string{MetadataAlias: " c "}}, want: "c"},
		{name: "blank", in: &stripe.CheckoutSession{ClientReferenceID: "  "}, want: ""},
	}
	for _, tc := range cases {
		if got := ExtractReference(tc.in); got != tc.want {
			t.Fatalf("%s: ExtractReference()=%q want=%q", tc.name, got, tc.want)
		}
	}
}

func newDraft(t *testing.T) invitation.Draft {
	t.Helper()
	id, err := ids.NewInvitationID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	tok, err := ids.NewAdminToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	return invitation.Draft{ID: id, AdminToken: tok, Sender: "Alex", RecipientName: "Sarah", Plan: invitation.PlanBasic}
}
