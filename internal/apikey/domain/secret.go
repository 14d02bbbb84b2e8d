package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretPrefix marks admin API keys: eck_<key id>_<hex secret>.
const SecretPrefix = "eck_"

// FormatSecret builds the raw key handed to the caller once.
func FormatSecret(keyID string, secret []byte) string {
	id := strings.ToLower(strings.TrimPrefix(keyID, "key_"))
	return fmt.Sprintf("%s%s_%s", SecretPrefix, id, hex.EncodeToString(secret))
}

// KeyIDFromSecret recovers the key id embedded in a raw key. Bootstrap keys are
// operator-chosen and usually carry none.
func KeyIDFromSecret(raw string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), SecretPrefix)
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "_")
	if !ok || id == "" {
		return "", false
	}
	return "key_" + strings.ToUpper(id), true
}

// HashSecret is the only form of a key that is stored.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
