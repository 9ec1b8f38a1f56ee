package models

import "fmt"

// ConstellationPoint is one spectral peak that survived peak picking in a
// single analysis chunk. Magnitude is normalized against that chunk's
// maximum, so it is only comparable within the chunk.
type ConstellationPoint struct {
	Time      float64 // chunk start, seconds
	Frequency float64 // Hz
	Magnitude float64 // 0-100
}

// ConstellationMap holds the peaks of every analysis chunk, indexed by
// chunk number. Chunks without peaks are present as empty entries.
type ConstellationMap [][]ConstellationPoint

// PointCount returns the total number of peaks across all chunks.
func (m ConstellationMap) PointCount() int {
	n := 0
	for _, pts := range m {
		n += len(pts)
	}
	return n
}

// SongKey identifies a song for first-insert-wins registration.
type SongKey struct {
	Title  string
	Artist string
}

func (k SongKey) String() string {
	return fmt.Sprintf("%q by %q", k.Title, k.Artist)
}

// MatchResult represents a song match result with metadata and scoring.
type MatchResult struct {
	SongID       string  // Database ID of the matched song (UUID)
	Title        string  // Song title
	Artist       string  // Artist name
	DurationMs   int     // Song duration in milliseconds
	MatchedCount int     // Votes in the winning offset bucket
	TimeOffset   float64 // Seconds into the song where the query starts
	Confidence   float64 // Fraction of query fingerprints that voted for the offset (0-1)
}

// Song represents a song entry in the catalog.
type Song struct {
	ID               string // Database ID (UUID)
	Title            string // Song title
	Artist           string // Artist name
	DurationMs       int    // Duration in milliseconds
	FingerprintCount int    // Stored fingerprints, when the backend reports them
}
