// Package token provides admin-token hashing primitives for cupid.
//
// It is the single source of truth for how invitation admin tokens are stored.
//
// Modes:
// - Default dev mode: SHA-256(token) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it.
// - Output is always a 64-char hex string, compared in constant time.
//
// Environment:
// - CUPID_TOKEN_HMAC_KEY: when set, enables HMAC mode.
package token
