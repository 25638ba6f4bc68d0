package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func TestHTTPProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "pizza", r.URL.Query().Get("query"))
		assert.Equal(t, "32.080000", r.URL.Query().Get("lat"))
		assert.Equal(t, "34.780000", r.URL.Query().Get("lng"))
		assert.Empty(t, r.URL.Query().Get("near"))
		assert.Equal(t, "2", r.URL.Query().Get("price"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":"p1","name":"Forno","rating":4.5,"openNow":true,"cuisines":["pizza"],"location":{"lat":32.08,"lng":34.78}}]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "secret"}, nil)
	page, err := p.Search(context.Background(), types.SearchQuery{
		Text:     "pizza",
		Location: types.Location{Lat: ptr(32.08), Lng: ptr(34.78), Place: "ignored"},
		Filters:  map[string]string{"price": "2"},
	})
	require.NoError(t, err)
	require.Len(t, page.Restaurants, 1)

	r := page.Restaurants[0]
	assert.Equal(t, "p1", r.ID)
	assert.Equal(t, "Forno", r.Name)
	assert.Equal(t, 4.5, r.Rating)
	require.NotNil(t, r.OpenNow)
	assert.True(t, *r.OpenNow)
	assert.Equal(t, 32.08, r.Lat)
	assert.Equal(t, "places", page.Source)
}

func TestHTTPProvider_StatusError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL}, nil).Search(context.Background(), types.SearchQuery{Text: "x"})
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, "nope", se.Body)
			assert.Equal(t, tt.retryable, se.Retryable())
		})
	}
}

func TestHTTPProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	_, err := p.Search(context.Background(), types.SearchQuery{Text: "x"})
	assert.Error(t, err)
}

func TestStaticProvider_Search(t *testing.T) {
	p := NewStaticProvider(DefaultCatalog(), 0)

	page, err := p.Search(context.Background(), types.SearchQuery{Text: "Pizza"})
	require.NoError(t, err)
	require.Len(t, page.Restaurants, 2)
	assert.Equal(t, "Forno Rosso", page.Restaurants[0].Name, "best rated first")

	page, err = p.Search(context.Background(), types.SearchQuery{Text: "pizza sushi"})
	require.NoError(t, err)
	assert.True(t, page.IsEmpty())
}

func TestStaticProvider_HonoursContext(t *testing.T) {
	p := NewStaticProvider(DefaultCatalog(), time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Search(ctx, types.SearchQuery{Text: "pizza"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
