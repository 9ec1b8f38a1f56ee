package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/acousticprint/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "acousticprint.sqlite3"

type SQLiteStore struct {
	DB *gorm.DB
	db *sql.DB
}

type Song struct {
	ID               string `gorm:"primaryKey;type:varchar(36)"`
	Title            string `gorm:"index:idx_song_meta,priority:1" json:"title"`
	Artist           string `gorm:"index:idx_song_meta,priority:2" json:"artist"`
	SongKey          string `gorm:"uniqueIndex:idx_song_key" json:"-"`
	DurationMs       int    `json:"duration_ms"`
	FingerprintCount int    `json:"fingerprint_count"`
	CreatedAt        time.Time
}

type Fingerprint struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	SongID     string  `gorm:"type:varchar(36);index:idx_song" json:"song_id"`
	Hash       int64   `gorm:"index:idx_hash" json:"hash"`
	TimeOffset float64 `json:"time_offset"`
	Confidence float64 `json:"confidence"`
	AnchorFreq float64 `json:"anchor_freq"`
	TargetFreq float64 `json:"target_freq"`
	DeltaT     float64 `json:"delta_t"`
}

// NewSQLiteStore opens (creating if needed) the catalog database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Song{}, &Fingerprint{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLiteStore{DB: db, db: sqlDB}, nil
}

func (c *SQLiteStore) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteStore) ready() error {
	if c == nil || c.DB == nil {
		return ErrNilClient
	}
	return nil
}

func (c *SQLiteStore) SongExists(ctx context.Context, key models.SongKey) (string, bool, error) {
	if err := c.ready(); err != nil {
		return "", false, err
	}
	normKey, err := NormalizeKey(key)
	if err != nil {
		return "", false, err
	}
	var song Song
	err = c.DB.WithContext(ctx).Where("song_key = ?", normKey).First(&song).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying existing song: %w", err)
	}
	return song.ID, true, nil
}

// InsertSongFingerprints registers key and stores fps under a new id. When
// key is already registered the existing id is returned and nothing is written.
func (c *SQLiteStore) InsertSongFingerprints(ctx context.Context, key models.SongKey, durationMs int, fps []models.Fingerprint) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	normKey, err := NormalizeKey(key)
	if err != nil {
		return "", err
	}

	var songID string
	err = c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Song
		err := tx.Where("song_key = ?", normKey).First(&existing).Error
		if err == nil {
			songID = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("querying existing song: %w", err)
		}

		song := Song{
			ID:               newSongID(),
			Title:            strings.TrimSpace(key.Title),
			Artist:           strings.TrimSpace(key.Artist),
			SongKey:          normKey,
			DurationMs:       durationMs,
			FingerprintCount: len(fps),
		}
		if err := tx.Create(&song).Error; err != nil {
			return err
		}

		for _, batch := range batches(fps, InsertBatchSize) {
			rows := make([]Fingerprint, len(batch))
			for i, fp := range batch {
				rows[i] = Fingerprint{
					SongID:     song.ID,
					Hash:       fp.Hash,
					TimeOffset: fp.TimeOffset,
					Confidence: fp.Confidence,
					AnchorFreq: fp.AnchorFreq,
					TargetFreq: fp.TargetFreq,
					DeltaT:     fp.DeltaT,
				}
			}
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return fmt.Errorf("batch insert fingerprints: %w", err)
			}
		}
		songID = song.ID
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			id, ok, fetchErr := c.SongExists(ctx, key)
			if fetchErr != nil {
				return "", fmt.Errorf("fetching song after constraint violation: %w", fetchErr)
			}
			if ok {
				return id, nil
			}
		}
		return "", fmt.Errorf("creating song: %w", err)
	}
	return songID, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

// LookupByHash returns, per song, the stored fingerprints whose hash is in
// hashes, in insertion order.
func (c *SQLiteStore) LookupByHash(ctx context.Context, hashes []int64) (map[string][]models.Fingerprint, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	result := make(map[string][]models.Fingerprint)
	unique := uniqueHashes(hashes)
	if len(unique) == 0 {
		return result, nil
	}

	rowsBySong := make(map[string][]Fingerprint)
	for _, batch := range batches(unique, LookupBatchSize) {
		var rows []Fingerprint
		if err := c.DB.WithContext(ctx).Where("hash IN ?", batch).Order("song_id, id").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("batch querying fingerprints: %w", err)
		}
		for _, r := range rows {
			rowsBySong[r.SongID] = append(rowsBySong[r.SongID], r)
		}
	}

	for songID, rows := range rowsBySong {
		// rows from different batches interleave; restore insertion order
		sortRowsByID(rows)
		fps := make([]models.Fingerprint, len(rows))
		for i, r := range rows {
			fps[i] = r.toModel()
		}
		result[songID] = fps
	}
	return result, nil
}

func sortRowsByID(rows []Fingerprint) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
}

func (r Fingerprint) toModel() models.Fingerprint {
	return models.Fingerprint{
		Hash:       r.Hash,
		TimeOffset: r.TimeOffset,
		Confidence: r.Confidence,
		AnchorFreq: r.AnchorFreq,
		TargetFreq: r.TargetFreq,
		DeltaT:     r.DeltaT,
	}
}

func (c *SQLiteStore) GetSongMetadata(ctx context.Context, ids []string) (map[string]models.SongInfo, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	result := make(map[string]models.SongInfo, len(ids))
	for _, batch := range batches(ids, LookupBatchSize) {
		var songs []Song
		if err := c.DB.WithContext(ctx).Where("id IN ?", batch).Find(&songs).Error; err != nil {
			return nil, fmt.Errorf("querying song metadata: %w", err)
		}
		for _, s := range songs {
			result[s.ID] = models.SongInfo{Title: s.Title, Artist: s.Artist, DurationMs: s.DurationMs}
		}
	}
	return result, nil
}

func (c *SQLiteStore) GetSong(ctx context.Context, songID string) (*models.Song, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var s Song
	err := c.DB.WithContext(ctx).Where("id = ?", songID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSongNotFound, songID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying song: %w", err)
	}
	song := s.toModel()
	return &song, nil
}

func (s Song) toModel() models.Song {
	return models.Song{
		ID:               s.ID,
		Title:            s.Title,
		Artist:           s.Artist,
		DurationMs:       s.DurationMs,
		FingerprintCount: s.FingerprintCount,
	}
}

func (c *SQLiteStore) ListSongs(ctx context.Context) ([]models.Song, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var rows []Song
	if err := c.DB.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	songs := make([]models.Song, len(rows))
	for i, r := range rows {
		songs[i] = r.toModel()
	}
	return songs, nil
}

func (c *SQLiteStore) FingerprintCount(ctx context.Context, songID string) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var count int64
	if err := c.DB.WithContext(ctx).Model(&Fingerprint{}).Where("song_id = ?", songID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return int(count), nil
}

func (c *SQLiteStore) DeleteSong(ctx context.Context, songID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", songID).Delete(&Song{})
		if res.Error != nil {
			return fmt.Errorf("deleting song: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrSongNotFound, songID)
		}
		if err := tx.Where("song_id = ?", songID).Delete(&Fingerprint{}).Error; err != nil {
			return fmt.Errorf("deleting fingerprints: %w", err)
		}
		return nil
	})
}
