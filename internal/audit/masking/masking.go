// Package masking keeps credentials out of audit rows and logs.
package masking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	redacted          = "****"
	visibleSuffix     = 4
	fingerprintPrefix = "tok_"
	fingerprintHexLen = 12
)

// MaskSecret redacts a credential for display. Structured credentials
// (eck_<id>_<secret>, device_<serial>_<ulid>) keep everything up to the last
// underscore; the secret part shows only its last four characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	head, secret := "", trimmed
	if i := strings.LastIndexByte(trimmed, '_'); i >= 0 && i < len(trimmed)-1 {
		head, secret = trimmed[:i+1], trimmed[i+1:]
	}
	if len(secret) <= visibleSuffix {
		return head + redacted
	}
	return head + redacted + secret[len(secret)-visibleSuffix:]
}

// Fingerprint is a stable, non-reversible handle for a site token so the
// issue and consume entries of one token can be joined.
func Fingerprint(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed))
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:fingerprintHexLen]
}
