package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeviceToken(t *testing.T) {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	a := NewDeviceToken("HAILO-A001-123456", at)
	b := NewDeviceToken("HAILO-A001-123456", at)

	assert.True(t, strings.HasPrefix(a, "device_HAILO-A001-123456_"))
	assert.Len(t, strings.TrimPrefix(a, "device_HAILO-A001-123456_"), 26)
	assert.NotEqual(t, a, b)
}

func TestHashAndVerify(t *testing.T) {
	digest, err := Hash("device_SER_01")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$"))

	assert.True(t, Verify("device_SER_01", digest))
	assert.False(t, Verify("device_SER_02", digest))

	other, err := Hash("device_SER_01")
	require.NoError(t, err)
	assert.NotEqual(t, digest, other, "salts must differ")
}

func TestVerifyRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8,t=1,p=1$!!$aGFzaA",
	} {
		assert.False(t, Verify("token", encoded), encoded)
	}
}
