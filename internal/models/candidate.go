package models

// Source tells where a candidate came from.
type Source string

const (
	SourceCurated Source = "curated"
	SourceSearch  Source = "search"
)

// Candidate is a normalized suggestion that can be added to the itinerary.
// Both curated spots and search results are mapped into this shape.
type Candidate struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	RecommendedTime string `json:"recommended_time"`
	Source          Source `json:"source,omitempty"`
}
