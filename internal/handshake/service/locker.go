package service

import (
	"context"
	"errors"

	"github.com/smallbiznis/edgecount/internal/handshake/domain"
	"github.com/smallbiznis/edgecount/internal/ratelimit"
)

type serialLocker struct {
	limiter *ratelimit.DeviceLimiter
}

// NewSerialLocker adapts the device limiter's per-serial lock.
func NewSerialLocker(limiter *ratelimit.DeviceLimiter) domain.SerialLocker {
	return serialLocker{limiter: limiter}
}

func (l serialLocker) LockSerial(ctx context.Context, serial string) (func(), error) {
	unlock, err := l.limiter.LockSerial(ctx, serial)
	if errors.Is(err, ratelimit.ErrSerialLocked) {
		return nil, domain.ErrRegistrationInProgress
	}
	return unlock, err
}
