package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/blueberrycongee/dinescout/internal/metrics"
	"github.com/blueberrycongee/dinescout/internal/observability"
)

// Fetcher loads a value from the source on a cache miss.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Orchestrator implements the cached read path: in-flight join, tier-1, tier-2 with
// promotion, then a single shared source fetch per key.
//
// One Orchestrator is created per process and value type, and shared by all callers.
type Orchestrator[T any] struct {
	tier1 *MemoryTier[T]
	tier2 *RemoteTier[T] // nil when running memory-only

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]struct{}

	tier2EmptyTTL time.Duration
	slowTier1     time.Duration
	slowFetch     time.Duration
	sampler       *observability.Sampler
	logger        *slog.Logger

	tier1Hits     atomic.Int64
	tier2Hits     atomic.Int64
	misses        atomic.Int64
	fetches       atomic.Int64
	fetchErrors   atomic.Int64
	inflightJoins atomic.Int64
	bypasses      atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	sampler *observability.Sampler
}

// WithSampler shares a log sampler with other components, so one reload updates all of them.
func WithSampler(s *observability.Sampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// NewOrchestrator creates an orchestrator. A nil backend, or cfg.DisableRemoteTier, runs
// the orchestrator with the memory tier only.
func NewOrchestrator[T any](cfg Config, backend RemoteBackend, logger *slog.Logger, opts ...Option) *Orchestrator[T] {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.sampler == nil {
		o.sampler = observability.NewSampler(logger, cfg.LogSampleRate)
	}

	orch := &Orchestrator[T]{
		tier1:         NewMemoryTier[T](cfg, logger),
		inflight:      make(map[string]struct{}),
		tier2EmptyTTL: cfg.Tier2EmptyTTL,
		slowTier1:     cfg.SlowTier1,
		slowFetch:     cfg.SlowFetch,
		sampler:       o.sampler,
		logger:        logger,
	}
	if backend != nil && !cfg.DisableRemoteTier {
		orch.tier2 = NewRemoteTier[T](backend, cfg, o.sampler)
	}
	return orch
}

// Get returns the cached value for key or loads it with fetch. Errors from fetch are
// returned to every waiting caller and never cached. Failures of the cache itself are
// never returned: an empty key or a panic in the cache path calls fetch directly.
func (o *Orchestrator[T]) Get(ctx context.Context, key string, baseTTL time.Duration, fetch Fetcher[T]) (T, error) {
	if strings.TrimSpace(key) == "" {
		return o.bypass(ctx, fetch, "empty key")
	}

	value, ok, err := o.get(ctx, key, NormalizeTTL(baseTTL), fetch)
	if !ok {
		return o.bypass(ctx, fetch, "cache path failed")
	}
	return value, err
}

func (o *Orchestrator[T]) get(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[T]) (value T, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("cache path panicked, bypassing cache", "key", key, "panic", r)
			ok = false
		}
	}()

	if o.isInflight(key) {
		o.recordJoin()
		value, err = o.wait(ctx, key, ttl, fetch)
		return value, true, err
	}

	start := time.Now()
	if r := o.tier1.Check(key, ttl); r.IsHit() {
		o.tier1Hits.Add(1)
		metrics.CacheLookups.WithLabelValues("tier1", "hit").Inc()
		o.sampler.Log(ctx, "tier1 hit", time.Since(start), o.slowTier1, "key", key, "age_ms", r.Age.Milliseconds())
		return r.Value, true, nil
	}
	metrics.CacheLookups.WithLabelValues("tier1", "miss").Inc()

	if o.tier2 != nil {
		if r := o.tier2.Check(ctx, key); r.IsHit() {
			o.tier2Hits.Add(1)
			o.tier1.Set(key, r.Value, ttl)
			o.sampler.Log(ctx, "tier2 hit promoted", time.Since(start), o.slowTier1, "key", key)
			return r.Value, true, nil
		}
	}
	o.misses.Add(1)

	// A fetch may have started while the tiers were checked.
	if o.isInflight(key) {
		o.recordJoin()
	}
	value, err = o.wait(ctx, key, ttl, fetch)
	return value, true, err
}

// wait starts or joins the shared fetch for key and waits for it or for ctx.
func (o *Orchestrator[T]) wait(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[T]) (T, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := o.group.DoChan(key, func() (any, error) {
		return o.fetchAndStore(fetchCtx, key, ttl, fetch)
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		value, _ := res.Val.(T)
		return value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (o *Orchestrator[T]) fetchAndStore(ctx context.Context, key string, ttl time.Duration, fetch Fetcher[T]) (value T, err error) {
	o.markInflight(key)
	defer o.unmarkInflight(key)

	o.fetches.Add(1)
	start := time.Now()
	value, err = safeFetch(ctx, fetch)
	elapsed := time.Since(start)
	metrics.CacheFetchLatency.Observe(elapsed.Seconds())

	if err != nil {
		o.fetchErrors.Add(1)
		metrics.CacheFetches.WithLabelValues("error").Inc()
		o.logger.Warn("source fetch failed", "key", key, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return value, err
	}
	metrics.CacheFetches.WithLabelValues("success").Inc()

	empty := IsEmpty(value)
	o.sampler.Log(ctx, "source fetch", elapsed, o.slowFetch, "key", key, "empty", empty)

	o.tier1.Set(key, value, ttl)
	if o.tier2 != nil {
		o.tier2.Set(ctx, key, value, tier2TTL(empty, ttl, o.tier2EmptyTTL))
	}
	return value, nil
}

func (o *Orchestrator[T]) bypass(ctx context.Context, fetch Fetcher[T], reason string) (T, error) {
	o.bypasses.Add(1)
	metrics.CacheFetches.WithLabelValues("bypass").Inc()
	o.logger.Warn("bypassing cache", "reason", reason)
	return safeFetch(ctx, fetch)
}

// safeFetch runs fetch, turning a panic into an error.
func safeFetch[T any](ctx context.Context, fetch Fetcher[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: fetch panicked: %v", r)
		}
	}()
	return fetch(ctx)
}

func (o *Orchestrator[T]) recordJoin() {
	o.inflightJoins.Add(1)
	metrics.CacheInflightJoins.Inc()
}

func (o *Orchestrator[T]) isInflight(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[key]
	return ok
}

func (o *Orchestrator[T]) markInflight(key string) {
	o.mu.Lock()
	o.inflight[key] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator[T]) unmarkInflight(key string) {
	o.mu.Lock()
	delete(o.inflight, key)
	o.mu.Unlock()
}

// Inflight returns the number of fetches currently running.
func (o *Orchestrator[T]) Inflight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Invalidate drops key from the memory tier. Tier-2 entries expire by TTL.
func (o *Orchestrator[T]) Invalidate(key string) {
	o.tier1.Delete(key)
}

// SetLogSampleRate changes the share of routine operations that are logged.
func (o *Orchestrator[T]) SetLogSampleRate(rate float64) {
	o.sampler.SetRate(rate)
}

// Stats returns a snapshot of the orchestrator counters.
func (o *Orchestrator[T]) Stats() Stats {
	s := Stats{
		Tier1Hits:     o.tier1Hits.Load(),
		Tier2Hits:     o.tier2Hits.Load(),
		Misses:        o.misses.Load(),
		Fetches:       o.fetches.Load(),
		FetchErrors:   o.fetchErrors.Load(),
		InflightJoins: o.inflightJoins.Load(),
		Bypasses:      o.bypasses.Load(),
		Tier1Entries:  o.tier1.Len(),
	}
	if total := s.Tier1Hits + s.Tier2Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Tier1Hits+s.Tier2Hits) / float64(total)
	}
	return s
}
