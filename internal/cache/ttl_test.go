package cache

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

func TestNormalizeTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NormalizeTTL(0))
	assert.Equal(t, DefaultTTL, NormalizeTTL(-time.Second))
	assert.Equal(t, time.Minute, NormalizeTTL(time.Minute))
}

func TestTTLFromSeconds(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    time.Duration
	}{
		{"valid", 60, time.Minute},
		{"fractional", 1.5, 1500 * time.Millisecond},
		{"zero", 0, DefaultTTL},
		{"negative", -5, DefaultTTL},
		{"nan", math.NaN(), DefaultTTL},
		{"inf", math.Inf(1), DefaultTTL},
		{"overflow", 1e300, DefaultTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TTLFromSeconds(tt.seconds))
		})
	}
}

func TestTierTTLPolicy(t *testing.T) {
	base := 15 * time.Minute

	// Empty results always live strictly shorter than non-empty ones.
	assert.Less(t, tier1TTL(true, base, Tier1MaxTTL, Tier1EmptyTTL), tier1TTL(false, base, Tier1MaxTTL, Tier1EmptyTTL))
	assert.Less(t, tier2TTL(true, base, Tier2EmptyTTL), tier2TTL(false, base, Tier2EmptyTTL))

	assert.Equal(t, Tier1MaxTTL, tier1TTL(false, base, Tier1MaxTTL, Tier1EmptyTTL))
	assert.Equal(t, Tier1EmptyTTL, tier1TTL(true, base, Tier1MaxTTL, Tier1EmptyTTL))
	assert.Equal(t, 10*time.Second, tier1TTL(false, 10*time.Second, Tier1MaxTTL, Tier1EmptyTTL))
	assert.Equal(t, Tier1MaxTTL, tier1TTL(false, 0, Tier1MaxTTL, Tier1EmptyTTL), "invalid base ttl is normalized")

	assert.Equal(t, base, tier2TTL(false, base, Tier2EmptyTTL))
	assert.Equal(t, Tier2EmptyTTL, tier2TTL(true, base, Tier2EmptyTTL))
	assert.Equal(t, DefaultTTL, tier2TTL(false, -1, Tier2EmptyTTL))
}

func TestTTLForQuery(t *testing.T) {
	tests := []struct {
		name  string
		query any
		want  time.Duration
	}{
		{"plain", "pizza in haifa", StandardTTL},
		{"open now", "pizza OPEN NOW", TimeSensitiveTTL},
		{"tonight", "sushi tonight", TimeSensitiveTTL},
		{"spanish", "tacos abierto ahora", TimeSensitiveTTL},
		{"french", "crêpes ce soir", TimeSensitiveTTL},
		{"hebrew", "פיצה פתוח עכשיו", TimeSensitiveTTL},
		{"empty", "   ", StandardTTL},
		{"nil", nil, StandardTTL},
		{"number", 42, StandardTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TTLForQuery(tt.query))
		})
	}
}

func TestIsEmpty(t *testing.T) {
	var nilPage *types.PlacesPage
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, true},
		{"empty slice", []string{}, true},
		{"nil slice", []string(nil), true},
		{"slice", []string{"a"}, false},
		{"empty map", map[string]int{}, true},
		{"empty string", "", true},
		{"struct", struct{ A int }{}, false},
		{"nil page", nilPage, true},
		{"empty page", types.PlacesPage{}, true},
		{"page pointer", &types.PlacesPage{Restaurants: []types.Restaurant{{ID: "r1"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEmpty(tt.value))
		})
	}
}
