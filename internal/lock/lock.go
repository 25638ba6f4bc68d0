// Package lock provides the generation lock: a distributed, expiring mutual-exclusion
// lock keyed by request id that keeps concurrent viewers of one job from each paying for
// a generation call.
//
// The lock fails open. When the backend is unreachable every caller acquires it, trading
// exclusivity for availability; the TTL bounds how long a crashed holder blocks others.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/dinescout/internal/metrics"
)

const (
	// DefaultTTL must exceed the expected generation latency.
	DefaultTTL = 30 * time.Second
	// DefaultOpTimeout bounds a single backend round trip.
	DefaultOpTimeout = 500 * time.Millisecond

	keyPrefix = "lock:"
)

// Backend is an atomic set-if-absent store with expiry. CompareAndDelete removes a key
// only while it still holds the given value.
type Backend interface {
	Ready() bool
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
}

// Config holds lock settings.
type Config struct {
	TTL       time.Duration `yaml:"ttl"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// DefaultConfig returns the default lock settings.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, OpTimeout: DefaultOpTimeout}
}

// GenerationLock guards generation calls per request id.
type GenerationLock struct {
	backend   Backend
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

// New creates a generation lock over backend. A nil backend always fails open.
func New(backend Backend, cfg Config, logger *slog.Logger) *GenerationLock {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationLock{
		backend:   backend,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		logger:    logger,
	}
}

// Key returns the backend key guarding requestID.
func Key(requestID string) string {
	return keyPrefix + requestID
}

// TTL returns the lock expiry.
func (l *GenerationLock) TTL() time.Duration {
	return l.ttl
}

// Acquire tries to take the lock for requestID and returns the holder token to pass to
// Release. It returns false only when another holder owns the lock; backend failures are
// treated as acquired with an empty token.
func (l *GenerationLock) Acquire(ctx context.Context, requestID string) (token string, ok bool) {
	if l.backend == nil || !l.backend.Ready() {
		metrics.LockAcquisitions.WithLabelValues("degraded").Inc()
		l.logger.Warn("generation lock backend unavailable, proceeding without lock",
			"request_id", requestID, "degraded", true)
		return "", true
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opTimeout)
	defer cancel()

	token = uuid.NewString()
	acquired, err := l.backend.SetNX(ctx, Key(requestID), []byte(token), l.ttl)
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues("degraded").Inc()
		l.logger.Warn("generation lock acquire failed, proceeding without lock",
			"request_id", requestID, "degraded", true, "error", err)
		return "", true
	}
	if !acquired {
		metrics.LockAcquisitions.WithLabelValues("held").Inc()
		l.logger.Debug("generation lock held elsewhere", "request_id", requestID)
		return "", false
	}

	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	l.logger.Debug("generation lock acquired", "request_id", requestID, "ttl_s", int64(l.ttl.Seconds()))
	return token, true
}

// Release drops the lock if token still owns it. A holder whose lock expired and was
// taken by someone else leaves the new holder's lock in place. An empty token, from a
// degraded acquire, releases nothing. Failures are logged; the lock then expires by TTL.
func (l *GenerationLock) Release(ctx context.Context, requestID, token string) {
	if token == "" || l.backend == nil || !l.backend.Ready() {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opTimeout)
	defer cancel()

	deleted, err := l.backend.CompareAndDelete(ctx, Key(requestID), []byte(token))
	if err != nil {
		metrics.LockReleaseErrors.Inc()
		l.logger.Warn("generation lock release failed", "request_id", requestID, "error", err)
		return
	}
	if !deleted {
		l.logger.Warn("generation lock expired before release", "request_id", requestID)
	}
}
