package types

// Location is either a coordinate pair or a free-text place, never both.
type Location struct {
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
	Place string   `json:"place,omitempty"`
}

// HasCoordinates reports whether both coordinates are set.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// SearchQuery is the user's search request.
type SearchQuery struct {
	Text     string            `json:"text"`
	Location Location          `json:"location"`
	Filters  map[string]string `json:"filters,omitempty"`
	Language string            `json:"language,omitempty"` // UI-declared language
}

// Restaurant is a single place returned by the provider.
type Restaurant struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Address     string   `json:"address,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	ReviewCount int      `json:"reviewCount,omitempty"`
	PriceLevel  int      `json:"priceLevel,omitempty"`
	OpenNow     *bool    `json:"openNow,omitempty"`
	Cuisines    []string `json:"cuisines,omitempty"`
	Lat         float64  `json:"lat,omitempty"`
	Lng         float64  `json:"lng,omitempty"`
}

// PlacesPage is one provider response. It is the cached unit of the search step.
type PlacesPage struct {
	Restaurants []Restaurant `json:"restaurants"`
	Source      string       `json:"source,omitempty"`
}

// IsEmpty reports whether the page carries no restaurants.
func (p PlacesPage) IsEmpty() bool {
	return len(p.Restaurants) == 0
}
