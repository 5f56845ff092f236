package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"cupid/cmd/internal/invitation"
	"cupid/cmd/internal/payment"
)

// AdminTokenHeader carries the sender's admin token on privileged reads.
const AdminTokenHeader = "X-Admin-Token"

const defaultMaxBodyBytes = 64 << 10 // 64 KiB

// Invitations is the service surface the handlers need.
type Invitations interface {
	Create(ctx context.Context, d invitation.Draft) (invitation.Invitation, bool, error)
	ReadPublic(ctx context.Context, id string) (invitation.PublicView, error)
	ReadPrivileged(ctx context.Context, id, adminToken string) (invitation.PrivilegedView, error)
	VerifyOwner(ctx context.Context, id, adminToken string) (invitation.Invitation, error)
	Answer(ctx context.Context, id string, verdict invitation.Verdict) (invitation.Invitation, bool, error)
	MarkViewed(ctx context.Context, id string) (invitation.Invitation, error)
	RecordAttempt(ctx context.Context, id string) (invitation.Invitation, error)
}

// Config controls request limits.
type Config struct {
	MaxBodyBytes int64
}

// Handler wires the JSON endpoints to the invitation service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	svc      Invitations
	checkout payment.CheckoutCreator
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithCheckout enables POST /v1/checkout.
func WithCheckout(c payment.CheckoutCreator) HandlerOption {
	return func(h *Handler) {
		if h == nil || c == nil {
			return
		}
		h.checkout = c
	}
}

// NewHandler constructs a Handler. A nil service makes every endpoint answer 503.
func NewHandler(log *slog.Logger, cfg Config, svc Invitations, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	h := &Handler{log: log, cfg: cfg, svc: svc}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h
}

// Register wires the API routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/v1/invitations", h.handleCreate)
	mux.HandleFunc("/v1/invitations/{id}", h.handleRead)
	mux.HandleFunc("/v1/rpc/answer", h.handleAnswer)
	mux.HandleFunc("/v1/rpc/mark_viewed", h.handleMarkViewed)
	mux.HandleFunc("/v1/rpc/record_attempt", h.handleRecordAttempt)
	mux.HandleFunc("/v1/checkout", h.handleCheckout)
}

// ---- handlers ----

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.ready(w) {
		return
	}

	var req createRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	inv, created, err := h.svc.Create(r.Context(), invitation.Draft{
		ID:            req.ID,
		AdminToken:    req.AdminToken,
		Sender:        req.Sender,
		RecipientName: req.RecipientName,
		Plan:          invitation.Plan(req.Plan),
	})
	if err != nil {
		h.writeServiceError(w, "api.invitation.create", req.ID, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.log.Info("api.invitation.created", "invitation_id", inv.ID, "plan", inv.Plan)
	}
	writeJSON(w, status, toCreateResponse(inv))
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeMethodNotAllowed(w, "GET, HEAD")
		return
	}
	if !h.ready(w) {
		return
	}

	id := r.PathValue("id")
	if adminToken := strings.TrimSpace(r.Header.Get(AdminTokenHeader)); adminToken != "" {
		view, err := h.svc.ReadPrivileged(r.Context(), id, adminToken)
		if err != nil {
			h.writeServiceError(w, "api.invitation.read_privileged", id, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	view, err := h.svc.ReadPublic(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "api.invitation.read", id, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.ready(w) {
		return
	}

	var req answerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	verdict, err := invitation.ParseVerdict(req.Answer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "answer must be yes or no")
		return
	}

	inv, changed, err := h.svc.Answer(r.Context(), req.TargetID, verdict)
	if err != nil {
		h.writeServiceError(w, "api.rpc.answer", req.TargetID, err)
		return
	}
	if changed {
		h.log.Info("api.rpc.answer.applied", "invitation_id", inv.ID, "game_status", inv.GameStatus)
	}
	writeJSON(w, http.StatusOK, rpcResponse{ID: inv.ID, GameStatus: inv.GameStatus, Changed: changed})
}

func (h *Handler) handleMarkViewed(w http.ResponseWriter, r *http.Request) {
	h.handleTargetRPC(w, r, "api.rpc.mark_viewed", func(ctx context.Context, id string) (invitation.Invitation, error) {
		return h.svc.MarkViewed(ctx, id)
	})
}

func (h *Handler) handleRecordAttempt(w http.ResponseWriter, r *http.Request) {
	h.handleTargetRPC(w, r, "api.rpc.record_attempt", func(ctx context.Context, id string) (invitation.Invitation, error) {
		return h.svc.RecordAttempt(ctx, id)
	})
}

func (h *Handler) handleTargetRPC(w http.ResponseWriter, r *http.Request, op string, call func(context.Context, string) (invitation.Invitation, error)) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.ready(w) {
		return
	}

	var req targetRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	inv, err := call(r.Context(), req.TargetID)
	if err != nil {
		h.writeServiceError(w, op, req.TargetID, err)
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{ID: inv.ID, GameStatus: inv.GameStatus, Changed: true})
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.ready(w) {
		return
	}
	if h.checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "payment_unavailable", "payments not configured")
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if !absoluteURL(req.ReturnURL) || !absoluteURL(req.CancelURL) {
		writeError(w, http.StatusBadRequest, "invalid_request", "return_url and cancel_url must be absolute urls")
		return
	}

	inv, err := h.svc.VerifyOwner(r.Context(), req.ID, req.AdminToken)
	if err != nil {
		h.writeServiceError(w, "api.checkout.verify", req.ID, err)
		return
	}
	if inv.Paid() {
		writeError(w, http.StatusConflict, "already_paid", "invitation already paid")
		return
	}

	sess, err := h.checkout.CreateCheckout(r.Context(), payment.CheckoutRequest{
		InvitationID: inv.ID,
		Plan:         inv.Plan,
		SuccessURL:   req.ReturnURL,
		CancelURL:    req.CancelURL,
	})
	if err != nil {
		if errors.Is(err, payment.ErrUnsupportedPlan) {
			h.log.Error("api.checkout.plan_unpriced", "invitation_id", inv.ID, "plan", inv.Plan)
			writeError(w, http.StatusServiceUnavailable, "payment_unavailable", "plan not available")
			return
		}
		h.log.Error("api.checkout.create.fail", "invitation_id", inv.ID, "err", err)
		writeError(w, http.StatusBadGateway, "payment_provider_error", "could not start checkout")
		return
	}

	h.log.Info("api.checkout.created", "invitation_id", inv.ID, "session_id", sess.ID)
	writeJSON(w, http.StatusOK, checkoutResponse{URL: sess.URL, SessionID: sess.ID})
}

// ---- helpers ----

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.svc == nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured")
		return false
	}
	return true
}

// writeServiceError maps service errors onto the JSON envelope. Every miss,
// including unpaid rows and token mismatches, gets the same 404 body.
func (h *Handler) writeServiceError(w http.ResponseWriter, op, id string, err error) {
	switch {
	case errors.Is(err, invitation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "invitation not found")
	case errors.Is(err, invitation.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	case errors.Is(err, invitation.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "invitation id already in use")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "canceled", "request canceled")
	default:
		h.log.Error(op+".fail", "invitation_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
