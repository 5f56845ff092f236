package token

import "errors"

// Errors returned by HMACKeyFromEnv when CUPID_TOKEN_HMAC_KEY cannot be used.
var (
	ErrHMACKeyMissing  = errors.New("token: CUPID_TOKEN_HMAC_KEY is not set")
	ErrHMACKeyTooShort = errors.New("token: CUPID_TOKEN_HMAC_KEY is shorter than required")
)
