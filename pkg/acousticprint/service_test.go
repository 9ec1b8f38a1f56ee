package acousticprint

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

const (
	testSourceRate = 16384
	testTargetRate = 8192
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.ERROR, Output: io.Discard})
}

// setupTestService creates a service over an in-memory badger catalog
func setupTestService(t *testing.T) Service {
	t.Helper()

	store, err := NewBadgerStorage("", nil)
	if err != nil {
		t.Fatalf("Failed to open test storage: %v", err)
	}
	service, err := NewService(
		WithStorage(store),
		WithSampleRate(testTargetRate),
		WithTempDir(t.TempDir()),
		WithWorkers(4),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create test service: %v", err)
	}
	t.Cleanup(func() {
		service.Close()
	})
	return service
}

// toneSegments renders one second per base frequency at testSourceRate.
func toneSegments(freqs ...float64) []int16 {
	out := make([]int16, 0, len(freqs)*testSourceRate)
	for _, f := range freqs {
		for i := 0; i < testSourceRate; i++ {
			x := 2 * math.Pi * float64(i) / testSourceRate
			out = append(out, int16(10000*math.Sin(f*x)+6000*math.Sin(2*f*x)))
		}
	}
	return out
}

func songSamples() []int16 {
	return toneSegments(220, 284, 348, 412, 476, 540, 604, 668)
}

func writeWAV(t *testing.T, name string, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	if err := audio.WriteWAV(f, samples, testSourceRate, 1); err != nil {
		f.Close()
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close %s: %v", name, err)
	}
	return path
}

func TestNewService(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_service.sqlite3")
	service, err := NewService(WithDBPath(dbPath), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	impl, ok := service.(*acousticService)
	if !ok {
		t.Fatalf("Unexpected service type %T", service)
	}
	if impl.storage == nil {
		t.Fatal("Expected non-nil storage")
	}
	if impl.log == nil {
		t.Fatal("Expected non-nil logger")
	}
	if impl.config.SampleRate != audio.DefaultTargetRate {
		t.Errorf("Expected default sample rate %d, got %d", audio.DefaultTargetRate, impl.config.SampleRate)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("Expected database at %s: %v", dbPath, err)
	}
}

func TestNewServiceBackends(t *testing.T) {
	dir := t.TempDir()
	service, err := NewService(WithBackend(BackendBadger), WithDBPath(filepath.Join(dir, "badger")), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create badger service: %v", err)
	}
	service.Close()

	if _, err := NewService(WithBackend(BackendMongo), WithLogger(quietLogger())); err == nil {
		t.Error("Expected error for mongo backend without uri")
	}
	if _, err := NewService(WithBackend("cassandra"), WithLogger(quietLogger())); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestAddAndMatchSource(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	samples := songSamples()
	songID, err := service.AddSource(ctx, audio.NewMonoSource(samples, testSourceRate), models.SongKey{Title: "Tones", Artist: "Generator"})
	if err != nil {
		t.Fatalf("AddSource failed: %v", err)
	}
	if songID == "" {
		t.Fatal("Expected non-empty song ID")
	}

	song, err := service.GetSong(ctx, songID)
	if err != nil {
		t.Fatalf("GetSong failed: %v", err)
	}
	if song.DurationMs != 8000 {
		t.Errorf("Expected duration 8000 ms, got %d", song.DurationMs)
	}
	if song.FingerprintCount == 0 {
		t.Error("Expected stored fingerprints")
	}

	excerpt := samples[2*testSourceRate : 5*testSourceRate]
	results, err := service.MatchSource(ctx, audio.NewMonoSource(excerpt, testSourceRate))
	if err != nil {
		t.Fatalf("MatchSource failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Expected a match for the excerpt")
	}
	best := results[0]
	if best.SongID != songID || best.Title != "Tones" || best.Artist != "Generator" {
		t.Errorf("Unexpected best match %+v", best)
	}
	if best.TimeOffset != 2.0 {
		t.Errorf("Expected offset 2.0s, got %v", best.TimeOffset)
	}
	if best.DurationMs != 8000 {
		t.Errorf("Expected duration in result, got %d", best.DurationMs)
	}
}

func TestAddSourceIsIdempotent(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	first, err := service.AddSource(ctx, audio.NewMonoSource(songSamples(), testSourceRate), models.SongKey{Title: "Same", Artist: "Song"})
	if err != nil {
		t.Fatalf("First add failed: %v", err)
	}
	second, err := service.AddSource(ctx, audio.NewMonoSource(toneSegments(300, 700), testSourceRate), models.SongKey{Title: "same", Artist: "SONG"})
	if err != nil {
		t.Fatalf("Second add failed: %v", err)
	}
	if first != second {
		t.Errorf("Expected existing ID %s, got %s", first, second)
	}

	id, ok, err := service.SongExists(ctx, models.SongKey{Title: "Same", Artist: "Song"})
	if err != nil || !ok || id != first {
		t.Errorf("Expected SongExists to report %s, got %q %v %v", first, id, ok, err)
	}
}

func TestAddAndMatchWAVFile(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	samples := songSamples()
	songPath := writeWAV(t, "song.wav", samples)
	songID, err := service.AddSong(ctx, songPath, "File Song", "File Artist")
	if err != nil {
		t.Fatalf("AddSong failed: %v", err)
	}

	queryPath := writeWAV(t, "query.wav", samples[4*testSourceRate:7*testSourceRate])
	results, err := service.MatchSong(ctx, queryPath)
	if err != nil {
		t.Fatalf("MatchSong failed: %v", err)
	}
	if len(results) == 0 || results[0].SongID != songID {
		t.Fatalf("Expected %s to match, got %+v", songID, results)
	}
	if results[0].TimeOffset != 4.0 {
		t.Errorf("Expected offset 4.0s, got %v", results[0].TimeOffset)
	}

	if _, err := service.MatchSong(ctx, filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing query file")
	}
}

func TestDeleteSongRemovesMatches(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	samples := songSamples()
	songID, err := service.AddSource(ctx, audio.NewMonoSource(samples, testSourceRate), models.SongKey{Title: "Temp", Artist: "X"})
	if err != nil {
		t.Fatalf("AddSource failed: %v", err)
	}
	if err := service.DeleteSong(ctx, songID); err != nil {
		t.Fatalf("DeleteSong failed: %v", err)
	}

	results, err := service.MatchSource(ctx, audio.NewMonoSource(samples[:3*testSourceRate], testSourceRate))
	if err != nil {
		t.Fatalf("MatchSource failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no matches after delete, got %+v", results)
	}
	if err := service.DeleteSong(ctx, songID); !errors.Is(err, storage.ErrSongNotFound) {
		t.Errorf("Expected ErrSongNotFound, got %v", err)
	}

	songs, err := service.ListSongs(ctx)
	if err != nil {
		t.Fatalf("ListSongs failed: %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("Expected empty catalog, got %d songs", len(songs))
	}
}

func TestMatchFingerprintsEmptyQuery(t *testing.T) {
	service := setupTestService(t)
	results, err := service.MatchFingerprints(context.Background(), nil)
	if err != nil || results != nil {
		t.Errorf("Expected nil results for empty query, got %+v, %v", results, err)
	}
}

func TestMatchSourceRejectsLowRate(t *testing.T) {
	service := setupTestService(t)
	_, err := service.MatchSource(context.Background(), audio.NewMonoSource(make([]int16, 4096), 4000))
	if !errors.Is(err, audio.ErrUnsupportedRate) {
		t.Errorf("Expected ErrUnsupportedRate, got %v", err)
	}
}

// vanishingStorage answers hash lookups but has lost every song record.
type vanishingStorage struct {
	Storage
	rows map[string][]models.Fingerprint
}

func (v *vanishingStorage) LookupByHash(ctx context.Context, hashes []int64) (map[string][]models.Fingerprint, error) {
	return v.rows, nil
}

func (v *vanishingStorage) GetSongMetadata(ctx context.Context, ids []string) (map[string]models.SongInfo, error) {
	return map[string]models.SongInfo{}, nil
}

func TestMatchFingerprintsSkipsMissingMetadata(t *testing.T) {
	query := []models.Fingerprint{{Hash: 1}, {Hash: 2}, {Hash: 3}}
	stored := []models.Fingerprint{{Hash: 1, TimeOffset: 1}, {Hash: 2, TimeOffset: 1}, {Hash: 3, TimeOffset: 1}}
	service, err := NewService(
		WithStorage(&vanishingStorage{rows: map[string][]models.Fingerprint{"ghost": stored}}),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	results, err := service.MatchFingerprints(context.Background(), query)
	if err != nil {
		t.Fatalf("MatchFingerprints failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected the orphaned match to be dropped, got %+v", results)
	}
}
