package models

// Fingerprint is the unit of catalog lookup: a hash derived from an
// anchor/target peak pair plus the anchor's position in its clip.
// TimeOffset and DeltaT are kept to millisecond precision.
type Fingerprint struct {
	Hash       int64
	TimeOffset float64 // anchor time in seconds
	Confidence float64 // sqrt(anchor magnitude * target magnitude), 0-100 scale
	AnchorFreq float64 // Hz
	TargetFreq float64 // Hz
	DeltaT     float64 // target time - anchor time, seconds
}

// SongInfo is the metadata returned by a catalog lookup by id.
type SongInfo struct {
	Title      string
	Artist     string
	DurationMs int
}

// Match is one candidate song that survived offset voting.
type Match struct {
	SongID       string
	Confidence   float64 // best bucket votes / query fingerprint count, 0-1
	MatchedCount int     // votes in the best bucket
	TimeOffset   float64 // seconds into the song where the query starts
}
