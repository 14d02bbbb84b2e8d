package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSecretRoundTripsKeyID(t *testing.T) {
	raw := FormatSecret("key_3K9Z1Q", []byte{0xde, 0xad, 0xbe, 0xef})
	assert.Equal(t, "eck_3k9z1q_deadbeef", raw)

	keyID, ok := KeyIDFromSecret(raw)
	require.True(t, ok)
	assert.Equal(t, "key_3K9Z1Q", keyID)
}

func TestKeyIDFromSecretRejectsForeignShapes(t *testing.T) {
	for _, raw := range []string{"", "eck_", "eck_nounderscore", "sk_live_abc_def", "eck__deadbeef"} {
		_, ok := KeyIDFromSecret(raw)
		assert.False(t, ok, raw)
	}
}

func TestHashSecretIsStableHex(t *testing.T) {
	a := HashSecret("eck_3k9z1q_deadbeef")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashSecret("eck_3k9z1q_deadbeef"))
	assert.NotEqual(t, a, HashSecret("eck_3k9z1q_deadbeee"))
}
