// Package cache shields the places provider behind two cache tiers and single-flight
// deduplication. Tier-1 is process-local memory, tier-2 is the shared Redis backend.
package cache

import (
	"time"
)

// Outcome tags a tier lookup result.
type Outcome int

const (
	OutcomeMiss Outcome = iota
	OutcomeHit
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeError:
		return "error"
	default:
		return "miss"
	}
}

// Error reasons reported by tier lookups.
const (
	ReasonUnavailable = "unavailable" // backend not ready
	ReasonBackend     = "backend_error"
	ReasonCorrupt     = "corrupt" // payload could not be decoded
	ReasonInternal    = "internal"
)

// TierResult is the tagged result of a tier lookup: Hit, Miss or Error.
// Errors are never returned as Go errors; callers fall through to the next tier.
type TierResult[T any] struct {
	Outcome      Outcome
	Value        T
	Age          time.Duration
	TTLRemaining time.Duration
	Reason       string
}

// Hit builds a hit result.
func Hit[T any](value T, age, ttlRemaining time.Duration) TierResult[T] {
	return TierResult[T]{Outcome: OutcomeHit, Value: value, Age: age, TTLRemaining: ttlRemaining}
}

// Miss builds a miss result.
func Miss[T any]() TierResult[T] {
	return TierResult[T]{Outcome: OutcomeMiss}
}

// Failed builds an error result carrying the reason.
func Failed[T any](reason string) TierResult[T] {
	return TierResult[T]{Outcome: OutcomeError, Reason: reason}
}

// IsHit reports whether the lookup found a usable value.
func (r TierResult[T]) IsHit() bool {
	return r.Outcome == OutcomeHit
}

// Config holds cache policy and logging settings.
type Config struct {
	DefaultTTL        time.Duration `yaml:"default_ttl"`         // Used when a caller passes an invalid TTL (default: 15m)
	Tier1MaxEntries   int           `yaml:"tier1_max_entries"`   // FIFO cap of the memory tier (default: 500)
	Tier1MaxTTL       time.Duration `yaml:"tier1_max_ttl"`       // Upper bound for non-empty memory entries (default: 60s)
	Tier1EmptyTTL     time.Duration `yaml:"tier1_empty_ttl"`     // Memory TTL for empty results (default: 30s)
	Tier2EmptyTTL     time.Duration `yaml:"tier2_empty_ttl"`     // Redis TTL for empty results (default: 120s)
	Tier2OpTimeout    time.Duration `yaml:"tier2_op_timeout"`    // Per-operation Redis timeout (default: 500ms)
	LogSampleRate     float64       `yaml:"log_sample_rate"`     // Share of routine operations logged (default: 0.05)
	SlowTier1         time.Duration `yaml:"slow_tier1"`          // Always log tier-1 lookups slower than this
	SlowTier2         time.Duration `yaml:"slow_tier2"`          // Always log tier-2 lookups slower than this
	SlowFetch         time.Duration `yaml:"slow_fetch"`          // Always log source fetches slower than this
	DisableRemoteTier bool          `yaml:"disable_remote_tier"` // Run memory-only
}

// DefaultConfig returns the production cache policy.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      DefaultTTL,
		Tier1MaxEntries: DefaultTier1MaxEntries,
		Tier1MaxTTL:     Tier1MaxTTL,
		Tier1EmptyTTL:   Tier1EmptyTTL,
		Tier2EmptyTTL:   Tier2EmptyTTL,
		Tier2OpTimeout:  500 * time.Millisecond,
		LogSampleRate:   0.05,
		SlowTier1:       10 * time.Millisecond,
		SlowTier2:       150 * time.Millisecond,
		SlowFetch:       2 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.Tier1MaxEntries <= 0 {
		c.Tier1MaxEntries = d.Tier1MaxEntries
	}
	if c.Tier1MaxTTL <= 0 {
		c.Tier1MaxTTL = d.Tier1MaxTTL
	}
	if c.Tier1EmptyTTL <= 0 {
		c.Tier1EmptyTTL = d.Tier1EmptyTTL
	}
	if c.Tier2EmptyTTL <= 0 {
		c.Tier2EmptyTTL = d.Tier2EmptyTTL
	}
	if c.Tier2OpTimeout <= 0 {
		c.Tier2OpTimeout = d.Tier2OpTimeout
	}
	return c
}

// Stats holds orchestrator statistics for monitoring.
type Stats struct {
	Tier1Hits     int64   `json:"tier1_hits"`
	Tier2Hits     int64   `json:"tier2_hits"`
	Misses        int64   `json:"misses"`
	Fetches       int64   `json:"fetches"`
	FetchErrors   int64   `json:"fetch_errors"`
	InflightJoins int64   `json:"inflight_joins"`
	Bypasses      int64   `json:"bypasses"`
	Tier1Entries  int     `json:"tier1_entries"`
	HitRate       float64 `json:"hit_rate"`
}
