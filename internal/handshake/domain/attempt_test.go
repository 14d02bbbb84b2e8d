package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptHappyPath(t *testing.T) {
	a := NewAttempt("SER-1", time.Now())
	for _, s := range []State{StateTokenValidated, StateDeviceBound, StateTokenConsumed, StateConfigIssued} {
		require.NoError(t, a.Advance(s))
	}
	assert.True(t, a.Terminal())
	assert.Equal(t, []State{StateReceived, StateTokenValidated, StateDeviceBound, StateTokenConsumed, StateConfigIssued}, a.History)

	a.Reject("late")
	assert.Equal(t, StateConfigIssued, a.State)
	assert.Empty(t, a.Reason)
}

func TestAttemptRejectsSkippedStates(t *testing.T) {
	a := NewAttempt("SER-1", time.Now())
	assert.ErrorIs(t, a.Advance(StateDeviceBound), ErrInvalidTransition)
	assert.Equal(t, StateReceived, a.State)

	a.Reject("expired")
	assert.Equal(t, StateRejected, a.State)
	assert.Equal(t, "expired", a.Reason)
	assert.ErrorIs(t, a.Advance(StateTokenValidated), ErrInvalidTransition)
}
