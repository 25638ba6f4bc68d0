package cache

import (
	"math"
	"reflect"
	"strings"
	"time"
)

const (
	// DefaultTTL replaces invalid baseline TTLs.
	DefaultTTL = 900 * time.Second
	// TimeSensitiveTTL applies to queries whose answer changes within the hour ("open now").
	TimeSensitiveTTL = 5 * time.Minute
	// StandardTTL applies to every other query.
	StandardTTL = 15 * time.Minute

	// DefaultTier1MaxEntries caps the memory tier.
	DefaultTier1MaxEntries = 500
	// Tier1MaxTTL bounds how long a non-empty result lives in memory.
	Tier1MaxTTL = 60 * time.Second
	// Tier1EmptyTTL is the memory TTL of empty results.
	Tier1EmptyTTL = 30 * time.Second
	// Tier2EmptyTTL is the Redis TTL of empty results.
	Tier2EmptyTTL = 120 * time.Second
)

// NormalizeTTL returns d, or DefaultTTL when d is not a usable TTL.
func NormalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTTL
	}
	return d
}

// TTLFromSeconds converts a configured number of seconds, rejecting NaN, infinities and
// non-positive values in favour of DefaultTTL.
func TTLFromSeconds(seconds float64) time.Duration {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return DefaultTTL
	}
	if seconds > math.MaxInt64/float64(time.Second) {
		return DefaultTTL
	}
	return time.Duration(seconds * float64(time.Second))
}

// tier1TTL applies the memory-tier TTL policy.
func tier1TTL(empty bool, baseTTL, maxTTL, emptyTTL time.Duration) time.Duration {
	ttl := min(NormalizeTTL(baseTTL), maxTTL)
	if empty {
		return min(emptyTTL, ttl)
	}
	return ttl
}

// tier2TTL applies the Redis-tier TTL policy.
func tier2TTL(empty bool, baseTTL, emptyTTL time.Duration) time.Duration {
	ttl := NormalizeTTL(baseTTL)
	if empty {
		return min(emptyTTL, ttl)
	}
	return ttl
}

var timeSensitivePhrases = []string{
	// en
	"open now", "opened now", "right now", "tonight", "today", "this evening", "late night",
	"still open", "open late", "near me now", "currently open",
	// es
	"abierto ahora", "ahora mismo", "esta noche", "hoy",
	// fr
	"ouvert maintenant", "maintenant", "ce soir", "aujourd'hui",
	// he
	"פתוח עכשיו", "עכשיו", "הערב", "היום",
}

// TTLForQuery picks the cache TTL for a search query. Anything that is not a string
// (nil included) gets the standard TTL.
func TTLForQuery(query any) time.Duration {
	text, ok := query.(string)
	if !ok {
		return StandardTTL
	}
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return StandardTTL
	}
	for _, phrase := range timeSensitivePhrases {
		if strings.Contains(text, phrase) {
			return TimeSensitiveTTL
		}
	}
	return StandardTTL
}

// IsEmpty reports whether a cached value counts as an empty result.
// Values may implement IsEmpty() bool; otherwise nil pointers and zero-length
// slices, maps, arrays and strings are empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return true
	}
	if e, ok := v.(interface{ IsEmpty() bool }); ok {
		return e.IsEmpty()
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return IsEmpty(rv.Elem().Interface())
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	default:
		return false
	}
}
