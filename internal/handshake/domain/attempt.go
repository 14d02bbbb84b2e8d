package domain

import (
	"errors"
	"time"
)

type State string

const (
	StateReceived       State = "RECEIVED"
	StateTokenValidated State = "TOKEN_VALIDATED"
	StateDeviceBound    State = "DEVICE_BOUND"
	StateTokenConsumed  State = "TOKEN_CONSUMED"
	StateConfigIssued   State = "CONFIG_ISSUED"
	StateRejected       State = "REJECTED"
)

var next = map[State]State{
	StateReceived:       StateTokenValidated,
	StateTokenValidated: StateDeviceBound,
	StateDeviceBound:    StateTokenConsumed,
	StateTokenConsumed:  StateConfigIssued,
}

var ErrInvalidTransition = errors.New("invalid_handshake_transition")

// Attempt tracks one registration request through the handshake states.
type Attempt struct {
	Serial    string
	State     State
	Reason    string
	StartedAt time.Time
	History   []State
}

func NewAttempt(serial string, at time.Time) *Attempt {
	return &Attempt{
		Serial:    serial,
		State:     StateReceived,
		StartedAt: at,
		History:   []State{StateReceived},
	}
}

// Advance moves to the only legal successor of the current state.
func (a *Attempt) Advance(to State) error {
	if want, ok := next[a.State]; !ok || want != to {
		return ErrInvalidTransition
	}
	a.State = to
	a.History = append(a.History, to)
	return nil
}

// Reject ends the attempt. Rejecting a finished attempt is a no-op.
func (a *Attempt) Reject(reason string) {
	if a.Terminal() {
		return
	}
	a.State = StateRejected
	a.Reason = reason
	a.History = append(a.History, StateRejected)
}

func (a *Attempt) Terminal() bool {
	return a.State == StateConfigIssued || a.State == StateRejected
}
