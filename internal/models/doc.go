// Package models defines the core domain models for tripsync.
//
// # Documents
//
// Two kinds of documents live in the remote store, each in its own collection
// scoped to a trip:
//   - ItineraryItem: one planned stop, immutable once created
//   - PositionRecord: one live position per participant, overwritten in place
//
// # Candidates
//
// Candidate is the single normalized shape accepted by the itinerary add path.
// Curated spots and search results use different field names at the source and
// are mapped to Candidate at ingestion, so consumers never check which one they hold.
//
// # Design Principles
//
// 1. **Store is the source of truth**: clients only hold projections of snapshots
// 2. **Ids live outside the payload**: document ids are assigned by the store and
//    are not serialized into the document body
// 3. **Coerce, never reject**: missing fields fall back to defaults
package models
