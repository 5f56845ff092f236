// Package api is the JSON HTTP surface over the invitation service:
// create, public and privileged reads, the recipient procedures and hosted checkout.
package api
