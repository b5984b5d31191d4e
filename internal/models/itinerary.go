package models

import "time"

// Default values applied when a candidate is added without them.
const (
	DefaultCategory = "Event"
	DefaultTime     = "12:00"

	// UnsetTimeSortKey is the sort key used for items whose time is empty.
	UnsetTimeSortKey = "00:00"
)

// ItineraryItem represents one planned stop of a trip.
type ItineraryItem struct {
	// ID is the store-assigned document key.
	ID string `json:"-"`

	// Name is the display name of the stop.
	Name string `json:"name"`

	// Category is a small open tag (e.g. "Vibe", "Shopping", "Insta", "Chill", "Event").
	Category string `json:"category"`

	// Time is an "HH:MM" string used only for ordering. It is not validated.
	Time string `json:"time"`

	// Notes is free text and may be empty.
	Notes string `json:"notes"`

	// Order is the creation timestamp in milliseconds since epoch.
	Order int64 `json:"order"`
}

// SortKey returns the time used for ordering, treating an empty time as "00:00".
func (i ItineraryItem) SortKey() string {
	if i.Time == "" {
		return UnsetTimeSortKey
	}
	return i.Time
}

// NewItineraryItem builds the document written for a candidate, filling defaults.
func NewItineraryItem(c Candidate, now time.Time) ItineraryItem {
	item := ItineraryItem{
		Name:     c.Name,
		Category: c.Category,
		Time:     c.RecommendedTime,
		Notes:    c.Description,
		Order:    now.UnixMilli(),
	}
	if item.Category == "" {
		item.Category = DefaultCategory
	}
	if item.Time == "" {
		item.Time = DefaultTime
	}
	return item
}
