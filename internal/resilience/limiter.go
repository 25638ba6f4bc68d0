package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/blueberrycongee/dinescout/caches/redis"
)

// Limiter admits one upstream call.
type Limiter interface {
	// Wait blocks until the call may proceed, or fails with a *RateLimitError or the
	// context error.
	Wait(ctx context.Context) error
}

// RateLimitError indicates a rate limit was exceeded.
type RateLimitError struct {
	retryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.retryAfter)
}

// RetryAfter returns a suggested retry delay.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.retryAfter
}

// LocalLimiter is a per-process token bucket.
type LocalLimiter struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

// NewLocalLimiter allows rps calls per second with the given burst. Calls that would wait
// longer than maxWait fail immediately; zero means wait as long as the context allows.
func NewLocalLimiter(rps float64, burst int, maxWait time.Duration) *LocalLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &LocalLimiter{limiter: rate.NewLimiter(limit, burst), maxWait: maxWait}
}

// Wait implements Limiter.
func (l *LocalLimiter) Wait(ctx context.Context) error {
	if l.maxWait <= 0 {
		return l.limiter.Wait(ctx)
	}
	r := l.limiter.Reserve()
	if !r.OK() {
		return &RateLimitError{retryAfter: l.maxWait}
	}
	delay := r.Delay()
	if delay > l.maxWait {
		r.Cancel()
		return &RateLimitError{retryAfter: delay}
	}
	if delay == 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// SetLimit changes the rate, for config reloads.
func (l *LocalLimiter) SetLimit(rps float64) {
	if rps <= 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.limiter.SetLimit(rate.Limit(rps))
}

// fixedWindowScript increments the counter of the current window, starting a new window
// when the previous one has expired. It returns {window start, count}.
var fixedWindowScript = goredis.NewScript(`
local window_key = KEYS[1]
local counter_key = KEYS[2]
local now = tonumber(ARGV[1])
local window_size = tonumber(ARGV[2])

local window_start = redis.call('GET', window_key)
if not window_start or (now - tonumber(window_start)) >= window_size then
    redis.call('SET', window_key, tostring(now), 'EX', window_size)
    redis.call('SET', counter_key, 1, 'EX', window_size)
    return {tostring(now), 1}
end

local counter = redis.call('INCR', counter_key)
if redis.call('TTL', counter_key) == -1 then
    redis.call('EXPIRE', counter_key, window_size)
end
return {window_start, counter}
`)

// WindowResult is the state of a fixed window after one call was counted.
type WindowResult struct {
	Allowed   bool
	Current   int64
	Remaining int64
	ResetAt   time.Time
}

// WindowLimiter enforces a quota shared by all instances through Redis. When Redis is
// unavailable it admits every call.
type WindowLimiter struct {
	client *redis.Client
	name   string
	limit  int64
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewWindowLimiter allows limit calls per window under the given name.
func NewWindowLimiter(client *redis.Client, name string, limit int64, window time.Duration, logger *slog.Logger) *WindowLimiter {
	if window < time.Second {
		window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowLimiter{
		client: client,
		name:   name,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Check counts one call against the current window.
func (w *WindowLimiter) Check(ctx context.Context) (WindowResult, error) {
	// The hash tag keeps both keys on one cluster slot.
	tag := "{ratelimit:" + w.name + "}"
	keys := []string{tag + ":window", tag + ":count"}
	windowSize := int64(w.window / time.Second)

	val, err := w.client.RunScript(ctx, fixedWindowScript, keys, w.now().Unix(), windowSize)
	if err != nil {
		return WindowResult{}, err
	}
	values, ok := val.([]any)
	if !ok || len(values) != 2 {
		return WindowResult{}, fmt.Errorf("unexpected rate limit script result: %v", val)
	}

	start := toInt64(values[0])
	current := toInt64(values[1])
	return WindowResult{
		Allowed:   current <= w.limit,
		Current:   current,
		Remaining: max(w.limit-current, 0),
		ResetAt:   time.Unix(start+windowSize, 0),
	}, nil
}

// Wait implements Limiter. It never blocks: calls over the quota fail with a
// *RateLimitError.
func (w *WindowLimiter) Wait(ctx context.Context) error {
	if w.client == nil || !w.client.Ready() || w.limit <= 0 {
		return nil
	}
	res, err := w.Check(ctx)
	if err != nil {
		w.logger.Warn("shared rate limit check failed, allowing call", "limiter", w.name, "error", err)
		return nil
	}
	if !res.Allowed {
		return &RateLimitError{retryAfter: max(res.ResetAt.Sub(w.now()), time.Second)}
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		i, _ := strconv.ParseInt(fmt.Sprint(n), 10, 64)
		return i
	}
}

// Chain applies limiters in order.
type Chain []Limiter

// Wait implements Limiter.
func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if l == nil {
			continue
		}
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
