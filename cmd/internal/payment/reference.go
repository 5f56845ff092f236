package payment

import (
	"strings"

	"github.com/stripe/stripe-go/v79"
)

// Metadata keys written on checkout sessions and read back from notifications.
const (
	MetadataInvitationID = "invitation_id"
	MetadataAlias        = "id"
)

// ExtractReference returns the invitation id carried by a checkout session:
// the client reference first, then the invitation_id metadata, then its alias.
func ExtractReference(sess *stripe.CheckoutSession) string {
	if sess == nil {
		return ""
	}
	if ref := strings.TrimSpace(sess.ClientReferenceID); ref != "" {
		return ref
	}
	for _, key := range []string{MetadataInvitationID, MetadataAlias} {
		if ref := strings.TrimSpace(sess.Metadata[key]); ref != "" {
			return ref
		}
	}
	return ""
}
