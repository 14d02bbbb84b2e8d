package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the handshake lock only while it still holds our token, so an
// unlock that runs after expiry cannot free a newer holder's lock.
var releaseHandshakeLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// serialLock is a per-device SetNX lock shared by every replica.
type serialLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func newSerialLock(client redis.UniversalClient, ttl time.Duration) *serialLock {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &serialLock{client: client, ttl: ttl}
}

// acquire returns ErrSerialLocked while another handshake for serial holds the lock.
func (l *serialLock) acquire(ctx context.Context, serial string) (key, holder string, err error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return "", "", fmt.Errorf("lock serial: empty serial")
	}
	key = fmt.Sprintf(keyHandshakeLock, serial)
	holder = uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, holder, l.ttl).Result()
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", ErrSerialLocked
	}
	return key, holder, nil
}

func (l *serialLock) release(ctx context.Context, key, holder string) error {
	return releaseHandshakeLock.Run(ctx, l.client, []string{key}, holder).Err()
}
