package api

import (
	"time"

	"cupid/cmd/internal/invitation"
)

type createRequest struct {
	ID            string `json:"id"`
	AdminToken    string `json:"admin_token"`
	Sender        string `json:"sender"`
	RecipientName string `json:"recipient_name"`
	Plan          string `json:"plan"`
}

type createResponse struct {
	ID            string                   `json:"id"`
	Plan          invitation.Plan          `json:"plan"`
	PaymentStatus invitation.PaymentStatus `json:"payment_status"`
	GameStatus    invitation.GameStatus    `json:"game_status"`
	CreatedAt     time.Time                `json:"created_at"`
}

type answerRequest struct {
	TargetID string `json:"target_id"`
	Answer   string `json:"answer"`
}

type targetRequest struct {
	TargetID string `json:"target_id"`
}

type rpcResponse struct {
	ID         string                `json:"id"`
	GameStatus invitation.GameStatus `json:"game_status"`
	Changed    bool                  `json:"changed"`
}

type checkoutRequest struct {
	ID         string `json:"id"`
	AdminToken string `json:"admin_token"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

func toCreateResponse(inv invitation.Invitation) createResponse {
	return createResponse{
		ID:            inv.ID,
		Plan:          inv.Plan,
		PaymentStatus: inv.PaymentStatus,
		GameStatus:    inv.GameStatus,
		CreatedAt:     inv.CreatedAt,
	}
}
