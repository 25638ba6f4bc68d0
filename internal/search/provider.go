// Package search runs restaurant searches: a places provider behind rate limits and a
// circuit breaker, a cached search service, and the async job runner that feeds the
// assistant stream.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

// Provider looks restaurants up for a query.
type Provider interface {
	Search(ctx context.Context, q types.SearchQuery) (types.PlacesPage, error)
}

// ErrProviderUnavailable is returned when the provider cannot be called at all: the
// circuit is open or the quota is used up.
var ErrProviderUnavailable = errors.New("places provider unavailable")

// StatusError is a non-200 provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("places provider: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure says something about provider health.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPConfig configures the HTTP places provider.
type HTTPConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	Limit   int           `yaml:"limit"`
}

// HTTPProvider calls a JSON places API.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPProvider creates a provider. A nil client uses one with cfg.Timeout.
func NewHTTPProvider(cfg HTTPConfig, client *http.Client) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPProvider{cfg: cfg, client: client}
}

type placesResponse struct {
	Results []placeResult `json:"results"`
}

type placeResult struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"reviewCount"`
	PriceLevel  int      `json:"priceLevel"`
	OpenNow     *bool    `json:"openNow"`
	Cuisines    []string `json:"cuisines"`
	Location    struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

// Search implements Provider.
func (p *HTTPProvider) Search(ctx context.Context, q types.SearchQuery) (types.PlacesPage, error) {
	params := url.Values{}
	params.Set("query", q.Text)
	params.Set("limit", strconv.Itoa(p.cfg.Limit))
	if q.Location.HasCoordinates() {
		params.Set("lat", strconv.FormatFloat(*q.Location.Lat, 'f', 6, 64))
		params.Set("lng", strconv.FormatFloat(*q.Location.Lng, 'f', 6, 64))
	} else if q.Location.Place != "" {
		params.Set("near", q.Location.Place)
	}
	for k, v := range q.Filters {
		params.Set(k, v)
	}
	if q.Language != "" {
		params.Set("language", q.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/places/search?"+params.Encode(), nil)
	if err != nil {
		return types.PlacesPage{}, fmt.Errorf("create places request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.PlacesPage{}, fmt.Errorf("places request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.PlacesPage{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out placesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.PlacesPage{}, fmt.Errorf("decode places response: %w", err)
	}

	page := types.PlacesPage{Restaurants: make([]types.Restaurant, 0, len(out.Results)), Source: "places"}
	for _, r := range out.Results {
		page.Restaurants = append(page.Restaurants, types.Restaurant{
			ID:          r.ID,
			Name:        r.Name,
			Address:     r.Address,
			Rating:      r.Rating,
			ReviewCount: r.ReviewCount,
			PriceLevel:  r.PriceLevel,
			OpenNow:     r.OpenNow,
			Cuisines:    r.Cuisines,
			Lat:         r.Location.Lat,
			Lng:         r.Location.Lng,
		})
	}
	return page, nil
}

// StaticProvider searches a fixed catalog. It is used in development and tests.
type StaticProvider struct {
	catalog []types.Restaurant
	delay   time.Duration
}

// NewStaticProvider creates a provider over catalog. Each search takes at least delay.
func NewStaticProvider(catalog []types.Restaurant, delay time.Duration) *StaticProvider {
	return &StaticProvider{catalog: catalog, delay: delay}
}

// Search returns the catalog entries whose name or cuisines contain every query word,
// best rated first.
func (p *StaticProvider) Search(ctx context.Context, q types.SearchQuery) (types.PlacesPage, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return types.PlacesPage{}, ctx.Err()
		case <-timer.C:
		}
	}

	words := strings.Fields(strings.ToLower(q.Text))
	var matches []types.Restaurant
	for _, r := range p.catalog {
		if matchesAll(r, words) {
			matches = append(matches, r)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Rating > matches[j].Rating
	})
	return types.PlacesPage{Restaurants: matches, Source: "static"}, nil
}

func matchesAll(r types.Restaurant, words []string) bool {
	haystack := strings.ToLower(r.Name + " " + strings.Join(r.Cuisines, " "))
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}

// DefaultCatalog is the development catalog.
func DefaultCatalog() []types.Restaurant {
	return []types.Restaurant{
		{ID: "r-1", Name: "Forno Rosso", Address: "12 Via Roma", Rating: 4.7, ReviewCount: 812, PriceLevel: 2, Cuisines: []string{"pizza", "italian"}},
		{ID: "r-2", Name: "Sakura Bar", Address: "3 Cherry Lane", Rating: 4.5, ReviewCount: 430, PriceLevel: 3, Cuisines: []string{"sushi", "japanese"}},
		{ID: "r-3", Name: "Taqueria Sol", Address: "88 Market St", Rating: 4.3, ReviewCount: 290, PriceLevel: 1, Cuisines: []string{"tacos", "mexican"}},
		{ID: "r-4", Name: "Le Petit Bistro", Address: "5 Rue Cler", Rating: 4.6, ReviewCount: 505, PriceLevel: 3, Cuisines: []string{"french", "bistro"}},
		{ID: "r-5", Name: "Falafel House", Address: "21 Dizengoff", Rating: 4.4, ReviewCount: 970, PriceLevel: 1, Cuisines: []string{"falafel", "israeli", "vegetarian"}},
		{ID: "r-6", Name: "Napoli Express", Address: "7 Harbor Rd", Rating: 3.9, ReviewCount: 120, PriceLevel: 1, Cuisines: []string{"pizza"}},
	}
}
