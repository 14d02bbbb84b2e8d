package domain

import "errors"

// Reason is the coarse rejection reason returned to unauthenticated callers.
type Reason string

const (
	ReasonNotFound  Reason = "not_found"
	ReasonExpired   Reason = "expired"
	ReasonExhausted Reason = "exhausted"
)

// ErrTokenRejected matches every InvalidTokenError via errors.Is.
var ErrTokenRejected = errors.New("token_rejected")

type InvalidTokenError struct {
	Reason Reason
}

func (e *InvalidTokenError) Error() string {
	return "site token rejected: " + string(e.Reason)
}

func (e *InvalidTokenError) Is(target error) bool {
	return target == ErrTokenRejected
}

// Message is the device-facing wording for the rejection.
func (e *InvalidTokenError) Message() string {
	switch e.Reason {
	case ReasonExpired:
		return "Token expired"
	case ReasonExhausted:
		return "Token usage limit exceeded"
	default:
		return "Invalid token"
	}
}

func Rejected(reason Reason) error {
	return &InvalidTokenError{Reason: reason}
}

// RejectionReason extracts the reason from err, or "" if err is not a token rejection.
func RejectionReason(err error) Reason {
	var tokenErr *InvalidTokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Reason
	}
	return ""
}
