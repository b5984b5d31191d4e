package models

import (
	"fmt"
	"net/url"
)

// Fix is a single coordinate reported by a position stream.
type Fix struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PositionRecord is the live position of one participant within a trip.
// Its ID always equals the participant ID, so each participant owns exactly one record.
type PositionRecord struct {
	// ID is the participant ID.
	ID string `json:"-"`

	// Name is the participant's role label at the time of the write.
	Name string `json:"name"`

	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`

	// UpdatedAt is the writer's clock in milliseconds since epoch.
	// Display only; the store's last write wins.
	UpdatedAt int64 `json:"updated_at"`
}

// Fix returns the coordinates of the record.
func (p PositionRecord) Fix() Fix {
	return Fix{Lat: p.Lat, Lng: p.Lng}
}

// TransitSearchURL returns a map search link for public transport stops around the fix.
func TransitSearchURL(f Fix) string {
	return fmt.Sprintf("https://www.google.com/maps/search/%s/@%f,%f,16z",
		url.PathEscape("KVB Haltestelle"), f.Lat, f.Lng)
}
