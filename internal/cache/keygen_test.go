package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(f float64) *float64 { return &f }

func TestKeyGenerator_Generate(t *testing.T) {
	gen := NewKeyGenerator("dinescout")

	t.Run("basic key generation", func(t *testing.T) {
		key := gen.Generate(KeyParams{Query: "pizza"})
		assert.True(t, strings.HasPrefix(key, "dinescout:search:"))
		// SHA-256 produces 64 hex characters
		assert.Len(t, key, len("dinescout:search:")+64)
	})

	t.Run("normalized text produces same key", func(t *testing.T) {
		key1 := gen.Generate(KeyParams{Query: "Sushi  near   the Port"})
		key2 := gen.Generate(KeyParams{Query: "  sushi near the port "})
		assert.Equal(t, key1, key2)
	})

	t.Run("different queries produce different keys", func(t *testing.T) {
		assert.NotEqual(t,
			gen.Generate(KeyParams{Query: "pizza"}),
			gen.Generate(KeyParams{Query: "burgers"}))
	})

	t.Run("coordinates are rounded", func(t *testing.T) {
		key1 := gen.Generate(KeyParams{Query: "ramen", Lat: ptr(32.08531), Lng: ptr(34.78182)})
		key2 := gen.Generate(KeyParams{Query: "ramen", Lat: ptr(32.085349), Lng: ptr(34.781849)})
		assert.Equal(t, key1, key2)

		key3 := gen.Generate(KeyParams{Query: "ramen", Lat: ptr(32.0863), Lng: ptr(34.7818)})
		assert.NotEqual(t, key1, key3)
	})

	t.Run("coordinates win over place", func(t *testing.T) {
		key1 := gen.Generate(KeyParams{Query: "ramen", Lat: ptr(1), Lng: ptr(2), Place: "Tel Aviv"})
		key2 := gen.Generate(KeyParams{Query: "ramen", Lat: ptr(1), Lng: ptr(2)})
		assert.Equal(t, key1, key2)
	})

	t.Run("place is normalized", func(t *testing.T) {
		key1 := gen.Generate(KeyParams{Query: "ramen", Place: "Tel Aviv"})
		key2 := gen.Generate(KeyParams{Query: "ramen", Place: " tel  aviv"})
		assert.Equal(t, key1, key2)
	})

	t.Run("filter order does not matter", func(t *testing.T) {
		key1 := gen.Generate(KeyParams{Query: "tacos", Filters: map[string]string{"price": "2", "open": "true"}})
		key2 := gen.Generate(KeyParams{Query: "tacos", Filters: map[string]string{"open": "true", "price": "2"}})
		assert.Equal(t, key1, key2)
	})

	t.Run("empty filters are ignored", func(t *testing.T) {
		key1 := gen.Generate(KeyParams{Query: "tacos", Filters: map[string]string{"price": " "}})
		key2 := gen.Generate(KeyParams{Query: "tacos"})
		assert.Equal(t, key1, key2)
	})

	t.Run("no prefix", func(t *testing.T) {
		key := NewKeyGenerator("").Generate(KeyParams{Query: "pizza"})
		assert.True(t, strings.HasPrefix(key, "search:"))
	})
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "open now pizza", NormalizeText("  Open\tNOW  pizza\n"))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestRoundCoord_NegativeZero(t *testing.T) {
	gen := NewKeyGenerator("")
	assert.Equal(t,
		gen.Generate(KeyParams{Query: "q", Lat: ptr(-0.00001), Lng: ptr(0)}),
		gen.Generate(KeyParams{Query: "q", Lat: ptr(0), Lng: ptr(0)}))
}
