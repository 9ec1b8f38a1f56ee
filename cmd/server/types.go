package main

import (
	"fmt"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

const (
	// MaxFingerprintsHardLimit caps a client-computed query (a few minutes of audio).
	MaxFingerprintsHardLimit = 50000

	// FingerprintWarningThreshold triggers logging for large queries
	FingerprintWarningThreshold = 5000
)

// FingerprintDTO is one client-computed fingerprint. Only hash and
// time_offset take part in matching.
type FingerprintDTO struct {
	Hash       int64   `json:"hash"`
	TimeOffset float64 `json:"time_offset"`
	Confidence float64 `json:"confidence,omitempty"`
	AnchorFreq float64 `json:"anchor_freq,omitempty"`
	TargetFreq float64 `json:"target_freq,omitempty"`
	DeltaT     float64 `json:"delta_t,omitempty"`
}

// MatchFingerprintsRequest is the request body for POST /api/match/fingerprints
type MatchFingerprintsRequest struct {
	Fingerprints []FingerprintDTO `json:"fingerprints"`
}

func (r *MatchFingerprintsRequest) Validate() error {
	if len(r.Fingerprints) == 0 {
		return fmt.Errorf("fingerprints cannot be empty")
	}
	if len(r.Fingerprints) > MaxFingerprintsHardLimit {
		return fmt.Errorf("too many fingerprints: %d (maximum: %d)", len(r.Fingerprints), MaxFingerprintsHardLimit)
	}
	for i, fp := range r.Fingerprints {
		if fp.TimeOffset < 0 {
			return fmt.Errorf("fingerprint %d has negative time_offset", i)
		}
	}
	return nil
}

func (r *MatchFingerprintsRequest) ToModels() []models.Fingerprint {
	fps := make([]models.Fingerprint, len(r.Fingerprints))
	for i, f := range r.Fingerprints {
		fps[i] = models.Fingerprint{
			Hash:       f.Hash,
			TimeOffset: f.TimeOffset,
			Confidence: f.Confidence,
			AnchorFreq: f.AnchorFreq,
			TargetFreq: f.TargetFreq,
			DeltaT:     f.DeltaT,
		}
	}
	return fps
}

type MatchResponse struct {
	Matches []MatchResultDTO `json:"matches"`
	Count   int              `json:"count"`
}

type MatchResultDTO struct {
	SongID       string  `json:"song_id"`
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	DurationMs   int     `json:"duration_ms"`
	MatchedCount int     `json:"matched_count"`
	TimeOffset   float64 `json:"time_offset"`
	Confidence   float64 `json:"confidence"`
}

func toMatchDTOs(matches []models.MatchResult) []MatchResultDTO {
	out := make([]MatchResultDTO, len(matches))
	for i, m := range matches {
		out[i] = MatchResultDTO{
			SongID:       m.SongID,
			Title:        m.Title,
			Artist:       m.Artist,
			DurationMs:   m.DurationMs,
			MatchedCount: m.MatchedCount,
			TimeOffset:   m.TimeOffset,
			Confidence:   m.Confidence,
		}
	}
	return out
}

// AddSongResponse is the response for successful song addition
type AddSongResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
}

// SongDTO represents a song in API responses
type SongDTO struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Artist           string `json:"artist"`
	DurationMs       int    `json:"duration_ms"`
	FingerprintCount int    `json:"fingerprint_count,omitempty"`
}

func toSongDTO(s models.Song) SongDTO {
	return SongDTO{
		ID:               s.ID,
		Title:            s.Title,
		Artist:           s.Artist,
		DurationMs:       s.DurationMs,
		FingerprintCount: s.FingerprintCount,
	}
}

type ListSongsResponse struct {
	Songs []SongDTO `json:"songs"`
	Count int       `json:"count"`
}

type DeleteSongResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// MetricsResponse provides server health and catalog metrics
type MetricsResponse struct {
	Status           string `json:"status"`
	Backend          string `json:"backend"`
	DatabasePath     string `json:"database_path"`
	SongCount        int    `json:"song_count"`
	FingerprintCount int    `json:"fingerprint_count"`
	SampleRate       int    `json:"sample_rate"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
