package observability

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// DefaultSampleRate is the share of routine operations that get logged.
const DefaultSampleRate = 0.05

// Sampler logs a random share of routine events and every event slower than its threshold.
type Sampler struct {
	logger *slog.Logger
	rate   atomic.Uint64 // math.Float64bits of the sample rate
	random func() float64
}

// NewSampler creates a sampler logging through logger at the given rate (clamped to [0,1]).
func NewSampler(logger *slog.Logger, rate float64) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sampler{logger: logger, random: rand.Float64}
	s.SetRate(rate)
	return s
}

// SetRate changes the sample rate.
func (s *Sampler) SetRate(rate float64) {
	if math.IsNaN(rate) || rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	s.rate.Store(math.Float64bits(rate))
}

// Rate returns the current sample rate.
func (s *Sampler) Rate() float64 {
	return math.Float64frombits(s.rate.Load())
}

// Logger returns the underlying logger for events that are never sampled.
func (s *Sampler) Logger() *slog.Logger {
	return s.logger
}

// Log emits msg at debug level when sampled, or at info level with slow=true when
// elapsed reaches slowThreshold. A zero threshold disables forced logging.
func (s *Sampler) Log(ctx context.Context, msg string, elapsed, slowThreshold time.Duration, args ...any) {
	if slowThreshold > 0 && elapsed >= slowThreshold {
		args = append(args, "elapsed_ms", elapsed.Milliseconds(), "slow", true)
		s.logger.Log(ctx, slog.LevelInfo, msg, args...)
		return
	}
	rate := s.Rate()
	if rate <= 0 || s.random() >= rate {
		return
	}
	args = append(args, "elapsed_ms", elapsed.Milliseconds(), "sampled", true)
	s.logger.Log(ctx, slog.LevelDebug, msg, args...)
}
