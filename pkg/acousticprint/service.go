package acousticprint

import (
	"context"
	"errors"
	"fmt"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/fingerprint"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

var ErrNilStorage = errors.New("acousticprint: storage is nil")

// acousticService is the default implementation of the Service interface.
type acousticService struct {
	storage Storage
	log     Logger
	config  *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	stor := cfg.Storage
	if stor == nil {
		var err error
		stor, err = openStorage(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &acousticService{
		storage: stor,
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

// fingerprintSource runs the full pipeline over src and reports the
// conditioned duration in milliseconds.
func (s *acousticService) fingerprintSource(ctx context.Context, src audio.Source) ([]models.Fingerprint, int, error) {
	cond, err := audio.NewConditioner(src, s.config.SampleRate)
	if err != nil {
		return nil, 0, err
	}
	cmap, err := fingerprint.Extract(ctx, cond, cond.SampleRate(), fingerprint.WithExtractWorkers(s.config.Workers))
	if err != nil {
		return nil, 0, fmt.Errorf("constellation extraction failed: %w", err)
	}
	s.log.Debugf("Extracted %d peaks over %d chunks", cmap.PointCount(), len(cmap))

	fps := fingerprint.GenerateFingerprints(cmap)
	return fps, cond.ProducedMs(), nil
}

// AddSong fingerprints the audio file at audioPath and stores it under
// title and artist.
func (s *acousticService) AddSong(ctx context.Context, audioPath, title, artist string) (string, error) {
	s.log.Infof("Processing song: %s by %s", title, artist)

	src, cleanup, err := audio.OpenAny(ctx, audioPath, s.config.TempDir)
	if err != nil {
		return "", err
	}
	defer cleanup()

	return s.AddSource(ctx, src, models.SongKey{Title: title, Artist: artist})
}

// AddSource fingerprints src and inserts it into the catalog. A key that is
// already registered returns the existing id.
func (s *acousticService) AddSource(ctx context.Context, src audio.Source, key models.SongKey) (string, error) {
	if s.storage == nil {
		return "", ErrNilStorage
	}
	fps, durationMs, err := s.fingerprintSource(ctx, src)
	if err != nil {
		return "", err
	}
	s.log.Infof("Generated %d fingerprints (%d ms)", len(fps), durationMs)

	songID, err := s.storage.InsertSongFingerprints(ctx, key, durationMs, fps)
	if err != nil {
		return "", fmt.Errorf("failed to store fingerprints: %w", err)
	}
	s.log.Infof("Stored song %s as %s", key, songID)
	return songID, nil
}

// MatchSong identifies the audio file at audioPath.
func (s *acousticService) MatchSong(ctx context.Context, audioPath string) ([]models.MatchResult, error) {
	s.log.Infof("Matching audio: %s", audioPath)

	src, cleanup, err := audio.OpenAny(ctx, audioPath, s.config.TempDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return s.MatchSource(ctx, src)
}

func (s *acousticService) MatchSource(ctx context.Context, src audio.Source) ([]models.MatchResult, error) {
	fps, durationMs, err := s.fingerprintSource(ctx, src)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Query has %d fingerprints over %d ms", len(fps), durationMs)
	return s.MatchFingerprints(ctx, fps)
}

// MatchFingerprints looks up the query hashes, scores every candidate song
// and attaches catalog metadata to the survivors. Results whose song
// disappeared between lookup and metadata fetch are dropped.
func (s *acousticService) MatchFingerprints(ctx context.Context, fps []models.Fingerprint) ([]models.MatchResult, error) {
	if s.storage == nil {
		return nil, ErrNilStorage
	}
	if len(fps) == 0 {
		return nil, nil
	}

	hashes := make([]int64, len(fps))
	for i, fp := range fps {
		hashes[i] = fp.Hash
	}
	candidates, err := s.storage.LookupByHash(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("hash lookup failed: %w", err)
	}
	s.log.Debugf("Hash lookup returned %d candidate songs", len(candidates))

	matches, err := fingerprint.MatchFingerprints(ctx, fps, candidates, fingerprint.WithMatchWorkers(s.config.Workers))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		s.log.Infof("No matches")
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.SongID
	}
	meta, err := s.storage.GetSongMetadata(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("metadata lookup failed: %w", err)
	}

	results := make([]models.MatchResult, 0, len(matches))
	for _, m := range matches {
		info, ok := meta[m.SongID]
		if !ok {
			s.log.Warnf("Song %s matched but has no metadata", m.SongID)
			continue
		}
		results = append(results, models.MatchResult{
			SongID:       m.SongID,
			Title:        info.Title,
			Artist:       info.Artist,
			DurationMs:   info.DurationMs,
			MatchedCount: m.MatchedCount,
			TimeOffset:   m.TimeOffset,
			Confidence:   m.Confidence,
		})
	}

	s.log.Infof("Returning %d matches", len(results))
	return results, nil
}

func (s *acousticService) SongExists(ctx context.Context, key models.SongKey) (string, bool, error) {
	return s.storage.SongExists(ctx, key)
}

func (s *acousticService) GetSong(ctx context.Context, songID string) (*models.Song, error) {
	return s.storage.GetSong(ctx, songID)
}

func (s *acousticService) ListSongs(ctx context.Context) ([]models.Song, error) {
	return s.storage.ListSongs(ctx)
}

// DeleteSong removes a song and all its fingerprints from the catalog.
func (s *acousticService) DeleteSong(ctx context.Context, songID string) error {
	return s.storage.DeleteSong(ctx, songID)
}

// Close releases all resources held by the service.
func (s *acousticService) Close() error {
	return s.storage.Close()
}
