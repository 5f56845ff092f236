package invitation

import "cupid/cmd/security/token"

// PublicGate exposes business fields only for paid invitations.
// Unpaid rows collapse to ErrNotFound, the same answer as an unknown id.
func PublicGate(inv Invitation, found bool) (PublicView, error) {
	if !found || !inv.Paid() {
		return PublicView{}, ErrNotFound
	}
	return inv.publicView(), nil
}

// PrivilegedGate returns the full row when adminToken hashes to the stored hash.
// A missing row and a mismatched token both yield ErrNotFound.
func PrivilegedGate(inv Invitation, found bool, adminToken string, activity []Activity) (PrivilegedView, error) {
	// Hash even on a miss so both paths do the same work.
	given := token.HashAdminTokenHex(adminToken)
	if !found || adminToken == "" || !token.EqualHex(given, inv.AdminTokenHash) {
		return PrivilegedView{}, ErrNotFound
	}

	out := PrivilegedView{
		PublicView: inv.publicView(),
		Attempts:   inv.Attempts,
		ViewedAt:   inv.ViewedAt,
		AnsweredAt: inv.AnsweredAt,
		PaidAt:     inv.PaidAt,
		CreatedAt:  inv.CreatedAt,
	}
	if inv.Plan.UnlocksActivity() {
		out.Activity = activity
	}
	return out, nil
}
