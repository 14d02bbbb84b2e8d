package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/edgecount/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyHandshakeIP    = "edgecount:rl:handshake:ip:%s"
	keyHandshakeToken = "edgecount:rl:handshake:token:%s"
	keyIngestSerial   = "edgecount:rl:ingest:serial:%s"
	keyHandshakeLock  = "edgecount:lock:handshake:%s"
)

// Reasons reported in X-Rate-Limited-Reason.
const (
	ReasonHandshakeIP    = "handshake-ip"
	ReasonHandshakeToken = "handshake-token"
	ReasonIngestSerial   = "ingest-serial"
)

var ErrSerialLocked = errors.New("registration_in_progress")

type bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error)
}

// Decision is a Result tagged with the limit that produced it.
type Decision struct {
	*Result
	Reason string
}

// DeviceLimiter throttles the unauthenticated device routes.
type DeviceLimiter struct {
	log     *zap.Logger
	buckets bucket
	lock    *serialLock
	cfg     config.RateLimitConfig
}

// NewDeviceLimiter uses redis when RateLimit.Enabled is set, otherwise in-process buckets.
func NewDeviceLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*DeviceLimiter, error) {
	limitCfg := cfg.RateLimit
	if err := validateLimits(limitCfg); err != nil {
		return nil, err
	}

	if !limitCfg.Enabled {
		log.Info("rate limiting uses in-process buckets")
		return newDeviceLimiter(log, NewLocalBuckets(), nil, limitCfg), nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}
	return NewRedisDeviceLimiter(log, client, limitCfg), nil
}

func NewRedisDeviceLimiter(log *zap.Logger, client redis.UniversalClient, cfg config.RateLimitConfig) *DeviceLimiter {
	lock := newSerialLock(client, time.Duration(cfg.HandshakeLockTTLSeconds)*time.Second)
	return newDeviceLimiter(log, NewTokenBucket(client), lock, cfg)
}

func newDeviceLimiter(log *zap.Logger, b bucket, lock *serialLock, cfg config.RateLimitConfig) *DeviceLimiter {
	return &DeviceLimiter{
		log:     log.Named("ratelimit"),
		buckets: b,
		lock:    lock,
		cfg:     cfg,
	}
}

// AllowHandshake applies the per-IP limit, then the per-token limit.
// Token values are hashed before they become keys.
func (l *DeviceLimiter) AllowHandshake(ctx context.Context, clientIP, token string) (*Decision, error) {
	if ip := strings.TrimSpace(clientIP); ip != "" {
		decision, err := l.allow(ctx, fmt.Sprintf(keyHandshakeIP, ip), l.cfg.HandshakeIPRate, l.cfg.HandshakeIPBurst, ReasonHandshakeIP)
		if err != nil || !decision.Allowed {
			return decision, err
		}
	}
	if token = strings.TrimSpace(token); token != "" {
		return l.allow(ctx, fmt.Sprintf(keyHandshakeToken, digest(token)), l.cfg.HandshakeTokenRate, l.cfg.HandshakeTokenBurst, ReasonHandshakeToken)
	}
	return &Decision{Result: &Result{Allowed: true}}, nil
}

func (l *DeviceLimiter) AllowIngest(ctx context.Context, serial string) (*Decision, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return &Decision{Result: &Result{Allowed: true}}, nil
	}
	return l.allow(ctx, fmt.Sprintf(keyIngestSerial, serial), l.cfg.IngestSerialRate, l.cfg.IngestSerialBurst, ReasonIngestSerial)
}

// LockSerial serializes handshakes for one device across replicas. Without
// redis the returned unlock is a no-op.
func (l *DeviceLimiter) LockSerial(ctx context.Context, serial string) (func(), error) {
	if l.lock == nil {
		return func() {}, nil
	}
	key, holder, err := l.lock.acquire(ctx, serial)
	if err != nil {
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.lock.release(releaseCtx, key, holder); err != nil {
			l.log.Warn("failed to release handshake lock", zap.String("serial", serial), zap.Error(err))
		}
	}, nil
}

func (l *DeviceLimiter) allow(ctx context.Context, key string, rate float64, burst int, reason string) (*Decision, error) {
	res, err := l.buckets.Allow(ctx, key, rate, burst)
	if err != nil {
		return nil, err
	}
	return &Decision{Result: res, Reason: reason}, nil
}

func validateLimits(cfg config.RateLimitConfig) error {
	if cfg.HandshakeIPRate <= 0 || cfg.HandshakeIPBurst <= 0 {
		return errors.New("handshake ip rate limit must be positive")
	}
	if cfg.HandshakeTokenRate <= 0 || cfg.HandshakeTokenBurst <= 0 {
		return errors.New("handshake token rate limit must be positive")
	}
	if cfg.IngestSerialRate <= 0 || cfg.IngestSerialBurst <= 0 {
		return errors.New("ingest serial rate limit must be positive")
	}
	return nil
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
