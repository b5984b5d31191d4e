package models

// CuratedSpot is a hand-picked place shown before any search is run.
type CuratedSpot struct {
	ID           string
	Name         string
	Cat          string
	Lat          float64
	Lng          float64
	Desc         string
	Neighborhood string
}

// Candidate maps the spot onto the normalized candidate shape.
func (s CuratedSpot) Candidate() Candidate {
	return Candidate{
		Name:        s.Name,
		Description: s.Desc,
		Category:    s.Cat,
		Source:      SourceCurated,
	}
}

// CuratedSpots are the default suggestions for a day in Cologne.
var CuratedSpots = []CuratedSpot{
	{ID: "s1", Name: "Ehrenfeld Street Art", Cat: "Vibe", Lat: 50.9472, Lng: 6.9189, Desc: "Best graffiti and photo spots.", Neighborhood: "Ehrenfeld"},
	{ID: "s2", Name: "Picknweight Vintage", Cat: "Shopping", Lat: 50.9392, Lng: 6.9365, Desc: "Vintage clothes by the kilo.", Neighborhood: "Belgisches Viertel"},
	{ID: "s3", Name: "Hohenzollernbrücke", Cat: "Insta", Lat: 50.9413, Lng: 6.9644, Desc: "The classic love-lock bridge.", Neighborhood: "Altstadt-Nord"},
	{ID: "s4", Name: "Kap 676 Skatepark", Cat: "Chill", Lat: 50.9231, Lng: 6.9667, Desc: "Skating and chilling by the Rhine.", Neighborhood: "Rheinauhafen"},
	{ID: "s5", Name: "Cologne Beach Club", Cat: "Vibe", Lat: 50.9475, Lng: 6.9715, Desc: "Sand and skyline views.", Neighborhood: "Deutz"},
}

// CuratedCandidates returns the curated spots as candidates.
func CuratedCandidates() []Candidate {
	out := make([]Candidate, len(CuratedSpots))
	for i, s := range CuratedSpots {
		out[i] = s.Candidate()
	}
	return out
}
