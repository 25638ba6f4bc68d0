package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/dinescout/internal/metrics"
	"github.com/blueberrycongee/dinescout/internal/observability"
)

// RemoteBackend is the subset of the distributed store used by the remote tier.
// It is satisfied by *redis.Client from caches/redis.
type RemoteBackend interface {
	Ready() bool
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// envelope is the serialized form of a tier-2 entry.
type envelope struct {
	V        json.RawMessage `json:"v"`
	StoredAt int64           `json:"storedAt"` // unix milliseconds
}

// RemoteTier is the shared tier. Values are stored as JSON envelopes with a server-side TTL.
type RemoteTier[T any] struct {
	backend   RemoteBackend
	opTimeout time.Duration
	slow      time.Duration
	sampler   *observability.Sampler
	logger    *slog.Logger
	now       func() time.Time
}

// NewRemoteTier creates a remote tier over backend.
func NewRemoteTier[T any](backend RemoteBackend, cfg Config, sampler *observability.Sampler) *RemoteTier[T] {
	cfg = cfg.withDefaults()
	if sampler == nil {
		sampler = observability.NewSampler(nil, cfg.LogSampleRate)
	}
	return &RemoteTier[T]{
		backend:   backend,
		opTimeout: cfg.Tier2OpTimeout,
		slow:      cfg.SlowTier2,
		sampler:   sampler,
		logger:    sampler.Logger(),
		now:       time.Now,
	}
}

// Check looks key up. Unavailable backends and failed reads are reported as errors,
// undecodable payloads as corrupt; neither is returned as a Go error.
func (r *RemoteTier[T]) Check(ctx context.Context, key string) TierResult[T] {
	if r.backend == nil || !r.backend.Ready() {
		metrics.CacheLookups.WithLabelValues("tier2", ReasonUnavailable).Inc()
		return Failed[T](ReasonUnavailable)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opTimeout)
	defer cancel()

	start := r.now()
	data, ttl, err := r.backend.GetWithTTL(ctx, key)
	elapsed := r.now().Sub(start)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("tier2", "error").Inc()
		r.logger.Warn("tier2 read failed", "key", key, "error", err)
		return Failed[T](ReasonBackend)
	}
	if data == nil {
		metrics.CacheLookups.WithLabelValues("tier2", "miss").Inc()
		r.sampler.Log(ctx, "tier2 miss", elapsed, r.slow, "key", key)
		return Miss[T]()
	}

	value, storedAt, ok := decodeEnvelope[T](data)
	if !ok {
		metrics.CacheLookups.WithLabelValues("tier2", ReasonCorrupt).Inc()
		r.logger.Warn("tier2 payload corrupt, treating as miss", "key", key, "bytes", len(data))
		return Failed[T](ReasonCorrupt)
	}

	metrics.CacheLookups.WithLabelValues("tier2", "hit").Inc()
	r.sampler.Log(ctx, "tier2 hit", elapsed, r.slow, "key", key, "ttl_remaining_s", int64(ttl.Seconds()))

	var age time.Duration
	if storedAt > 0 {
		age = r.now().Sub(time.UnixMilli(storedAt))
	}
	return Hit(value, age, ttl)
}

// Set writes value with ttl. Failures are logged and swallowed.
func (r *RemoteTier[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if r.backend == nil || !r.backend.Ready() {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		metrics.CacheWriteErrors.WithLabelValues("tier2").Inc()
		r.logger.Warn("tier2 encode failed", "key", key, "error", err)
		return
	}
	data, err := json.Marshal(envelope{V: payload, StoredAt: r.now().UnixMilli()})
	if err != nil {
		metrics.CacheWriteErrors.WithLabelValues("tier2").Inc()
		r.logger.Warn("tier2 encode failed", "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opTimeout)
	defer cancel()

	if err := r.backend.SetEX(ctx, key, data, NormalizeTTL(ttl)); err != nil {
		metrics.CacheWriteErrors.WithLabelValues("tier2").Inc()
		r.logger.Warn("tier2 write failed", "key", key, "error", err)
	}
}

func decodeEnvelope[T any](data []byte) (value T, storedAt int64, ok bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return value, 0, false
	}
	if len(env.V) == 0 {
		return value, 0, false
	}
	if err := json.Unmarshal(env.V, &value); err != nil {
		return value, 0, false
	}
	return value, env.StoredAt, true
}
