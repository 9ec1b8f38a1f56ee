package acousticprint

import (
	"context"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

type Service interface {
	AddSong(ctx context.Context, audioPath, title, artist string) (string, error)
	AddSource(ctx context.Context, src audio.Source, key models.SongKey) (string, error)
	MatchSong(ctx context.Context, audioPath string) ([]models.MatchResult, error)
	MatchSource(ctx context.Context, src audio.Source) ([]models.MatchResult, error)
	MatchFingerprints(ctx context.Context, fps []models.Fingerprint) ([]models.MatchResult, error)
	SongExists(ctx context.Context, key models.SongKey) (string, bool, error)
	GetSong(ctx context.Context, songID string) (*models.Song, error)
	ListSongs(ctx context.Context) ([]models.Song, error)
	DeleteSong(ctx context.Context, songID string) error
	Close() error
}

// Storage is the catalog store. InsertSongFingerprints is idempotent on the
// song key: a second insert returns the first id and writes nothing.
type Storage interface {
	InsertSongFingerprints(ctx context.Context, key models.SongKey, durationMs int, fps []models.Fingerprint) (string, error)
	LookupByHash(ctx context.Context, hashes []int64) (map[string][]models.Fingerprint, error)
	GetSongMetadata(ctx context.Context, ids []string) (map[string]models.SongInfo, error)
	SongExists(ctx context.Context, key models.SongKey) (string, bool, error)
	GetSong(ctx context.Context, songID string) (*models.Song, error)
	ListSongs(ctx context.Context) ([]models.Song, error)
	FingerprintCount(ctx context.Context, songID string) (int, error)
	DeleteSong(ctx context.Context, songID string) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
