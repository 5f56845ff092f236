// Package payment receives the payment processor's completion notifications and
// creates hosted checkout sessions.
//
// The webhook is the only path that may mark an invitation paid. It verifies the
// processor signature over the raw body, performs at most one unpaid -> paid
// transition per invitation, and acknowledges duplicates as success so the
// processor stops redelivering.
package payment
