package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// panickyBackend fails in a way the tiers do not expect.
type panickyBackend struct{}

func (panickyBackend) Ready() bool { panic("backend exploded") }

func (panickyBackend) GetWithTTL(context.Context, string) ([]byte, time.Duration, error) {
	return nil, 0, nil
}

func (panickyBackend) SetEX(context.Context, string, []byte, time.Duration) error { return nil }

func countingFetch(calls *atomic.Int32, value []string) Fetcher[[]string] {
	return func(context.Context) ([]string, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	backend, _ := newRedisBackend(t)
	orch := NewOrchestrator[[]string](DefaultConfig(), backend, nil)

	const callers = 20
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"r1", "r2"}, nil
	}

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		results = make([][]string, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = orch.Get(context.Background(), "search:pizza", time.Minute, fetch)
		}(i)
	}

	started.Wait()
	require.Eventually(t, func() bool { return orch.Inflight() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"r1", "r2"}, results[i])
	}
	assert.Equal(t, 0, orch.Inflight())
}

func TestOrchestrator_TierFallthroughAndPromotion(t *testing.T) {
	backend, _ := newRedisBackend(t)
	orch := NewOrchestrator[[]string](DefaultConfig(), backend, nil)
	ctx := context.Background()

	// Seed tier-2 only.
	orch.tier2.Set(ctx, "search:sushi", []string{"s1"}, 10*time.Minute)
	require.False(t, orch.tier1.Contains("search:sushi"))

	var calls atomic.Int32
	fetch := countingFetch(&calls, []string{"fresh"})

	value, err := orch.Get(ctx, "search:sushi", 10*time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, value)
	assert.True(t, orch.tier1.Contains("search:sushi"), "tier-2 hit is promoted")

	value, err = orch.Get(ctx, "search:sushi", 10*time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, value)

	stats := orch.Stats()
	assert.Equal(t, int64(1), stats.Tier2Hits)
	assert.Equal(t, int64(1), stats.Tier1Hits)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestOrchestrator_FetchPopulatesBothTiers(t *testing.T) {
	backend, s := newRedisBackend(t)
	orch := NewOrchestrator[[]string](DefaultConfig(), backend, nil)
	ctx := context.Background()

	var calls atomic.Int32
	_, err := orch.Get(ctx, "full", 15*time.Minute, countingFetch(&calls, []string{"a"}))
	require.NoError(t, err)
	_, err = orch.Get(ctx, "empty", 15*time.Minute, countingFetch(&calls, []string{}))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, s.TTL("test:full"))
	assert.Equal(t, Tier2EmptyTTL, s.TTL("test:empty"))
	assert.Less(t, s.TTL("test:empty"), s.TTL("test:full"))

	full := orch.tier1.Check("full", 15*time.Minute)
	empty := orch.tier1.Check("empty", 15*time.Minute)
	require.True(t, full.IsHit())
	require.True(t, empty.IsHit())
	assert.Less(t, empty.TTLRemaining, full.TTLRemaining)
}

func TestOrchestrator_CorruptTier2TriggersFetch(t *testing.T) {
	backend, s := newRedisBackend(t)
	orch := NewOrchestrator[[]string](DefaultConfig(), backend, nil)
	require.NoError(t, s.Set("test:search:bad", "not-json"))

	var calls atomic.Int32
	value, err := orch.Get(context.Background(), "search:bad", time.Minute, countingFetch(&calls, []string{"ok"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, value)
	assert.Equal(t, int32(1), calls.Load())

	// The corrupt payload was replaced.
	r := orch.tier2.Check(context.Background(), "search:bad")
	assert.True(t, r.IsHit())
}

func TestOrchestrator_ErrorsAreNotCached(t *testing.T) {
	orch := NewOrchestrator[[]string](DefaultConfig(), nil, nil)
	ctx := context.Background()

	var calls atomic.Int32
	boom := errors.New("provider unavailable")
	fetch := func(context.Context) ([]string, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return []string{"a"}, nil
	}

	_, err := orch.Get(ctx, "k", time.Minute, fetch)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, orch.Inflight(), "in-flight entry removed after failure")

	value, err := orch.Get(ctx, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, value)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), orch.Stats().FetchErrors)
}

func TestOrchestrator_FetchPanicBecomesError(t *testing.T) {
	orch := NewOrchestrator[[]string](DefaultConfig(), nil, nil)

	_, err := orch.Get(context.Background(), "k", time.Minute, func(context.Context) ([]string, error) {
		panic("bad provider")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad provider")
	assert.Equal(t, 0, orch.Inflight())
}

func TestOrchestrator_EmptyKeyBypassesCache(t *testing.T) {
	orch := NewOrchestrator[[]string](DefaultConfig(), nil, nil)

	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		value, err := orch.Get(context.Background(), "  ", time.Minute, countingFetch(&calls, []string{"a"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, value)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(2), orch.Stats().Bypasses)
	assert.Equal(t, 0, orch.tier1.Len())
}

func TestOrchestrator_PanicInCachePathBypasses(t *testing.T) {
	orch := NewOrchestrator[[]string](DefaultConfig(), panickyBackend{}, nil)

	var calls atomic.Int32
	value, err := orch.Get(context.Background(), "k", time.Minute, countingFetch(&calls, []string{"a"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, value)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), orch.Stats().Bypasses)
}

func TestOrchestrator_UnavailableTier2StillServes(t *testing.T) {
	backend, s := newRedisBackend(t)
	orch := NewOrchestrator[[]string](DefaultConfig(), backend, nil)
	s.Close()

	var calls atomic.Int32
	value, err := orch.Get(context.Background(), "k", time.Minute, countingFetch(&calls, []string{"a"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, value)

	value, err = orch.Get(context.Background(), "k", time.Minute, countingFetch(&calls, []string{"b"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, value, "served from tier-1")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOrchestrator_DisableRemoteTier(t *testing.T) {
	backend, s := newRedisBackend(t)
	cfg := DefaultConfig()
	cfg.DisableRemoteTier = true
	orch := NewOrchestrator[[]string](cfg, backend, nil)

	var calls atomic.Int32
	_, err := orch.Get(context.Background(), "k", time.Minute, countingFetch(&calls, []string{"a"}))
	require.NoError(t, err)
	assert.False(t, s.Exists("test:k"))
}

func TestOrchestrator_CallerCancellationDoesNotCancelFetch(t *testing.T) {
	orch := NewOrchestrator[[]string](DefaultConfig(), nil, nil)

	release := make(chan struct{})
	fetchDone := make(chan struct{})
	fetch := func(ctx context.Context) ([]string, error) {
		defer close(fetchDone)
		<-release
		return []string{"late"}, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := orch.Get(ctx, "k", time.Minute, fetch)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return orch.Inflight() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-fetchDone
	require.Eventually(t, func() bool { return orch.Inflight() == 0 }, time.Second, time.Millisecond)

	var calls atomic.Int32
	value, err := orch.Get(context.Background(), "k", time.Minute, countingFetch(&calls, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, value, "abandoned fetch still populated the cache")
	assert.Equal(t, int32(0), calls.Load())
}

func TestOrchestrator_DistinctKeysFetchIndependently(t *testing.T) {
	orch := NewOrchestrator[[]string](DefaultConfig(), nil, nil)

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		_, err := orch.Get(context.Background(), fmt.Sprintf("k%d", i), time.Minute, countingFetch(&calls, []string{"a"}))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 5, orch.Stats().Tier1Entries)
}
