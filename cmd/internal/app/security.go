package app

import (
	"errors"

	"cupid/cmd/security/token"
)

// ValidateSecurityConfig enforces the admin-token hashing policy at startup.
//
// Fail-fast: a production deployment that asked for HMAC must not silently
// fall back to plain SHA-256. The check runs against the same package that hashes.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// 32 bytes minimum for HMAC-SHA256, measured in bytes because the key is used raw.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: CUPID_REQUIRE_TOKEN_HMAC=true but CUPID_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: CUPID_REQUIRE_TOKEN_HMAC=true but CUPID_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: CUPID_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
