package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// KeyParams contains the request parameters that identify a provider query.
type KeyParams struct {
	Query   string
	Lat     *float64
	Lng     *float64
	Place   string
	Filters map[string]string
}

// KeyGenerator derives cache keys from normalized request parameters.
type KeyGenerator struct {
	// Prefix is prepended to all generated keys.
	Prefix string
}

// NewKeyGenerator creates a new KeyGenerator with optional prefix.
func NewKeyGenerator(prefix string) *KeyGenerator {
	return &KeyGenerator{Prefix: prefix}
}

// Generate creates a SHA-256 key from the normalized parameters.
// The key format is: [prefix:]search:sha256(params)
func (g *KeyGenerator) Generate(params KeyParams) string {
	var sb strings.Builder

	sb.WriteString("q:")
	sb.WriteString(NormalizeText(params.Query))

	// Coordinates win over free-text places; both describe the same thing.
	if params.Lat != nil && params.Lng != nil {
		fmt.Fprintf(&sb, "|loc:%.4f,%.4f", roundCoord(*params.Lat), roundCoord(*params.Lng))
	} else if place := NormalizeText(params.Place); place != "" {
		sb.WriteString("|place:")
		sb.WriteString(place)
	}

	if len(params.Filters) > 0 {
		keys := make([]string, 0, len(params.Filters))
		for k := range params.Filters {
			if NormalizeText(params.Filters[k]) == "" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "|%s=%s", strings.ToLower(strings.TrimSpace(k)), NormalizeText(params.Filters[k]))
		}
	}

	hash := sha256.Sum256([]byte(sb.String()))

	var key strings.Builder
	if g.Prefix != "" {
		key.WriteString(g.Prefix)
		key.WriteString(":")
	}
	key.WriteString("search:")
	key.WriteString(hex.EncodeToString(hash[:]))

	return key.String()
}

// NormalizeText lower-cases s, trims it and collapses inner whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func roundCoord(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0 // normalizes -0
	}
	return r
}
