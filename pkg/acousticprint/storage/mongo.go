package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/himanishpuri/acousticprint/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultMongoDatabase = "acousticprint"
	songsCollection      = "songs"
	fingerprintsColl     = "fingerprints"
)

type MongoStore struct {
	client *mongo.Client
	songs  *mongo.Collection
	fps    *mongo.Collection
}

type mongoSong struct {
	ID               string    `bson:"_id"`
	Title            string    `bson:"title"`
	Artist           string    `bson:"artist"`
	SongKey          string    `bson:"song_key"`
	DurationMs       int       `bson:"duration_ms"`
	FingerprintCount int       `bson:"fingerprint_count"`
	CreatedAt        time.Time `bson:"created_at"`
}

type mongoFingerprint struct {
	SongID     string  `bson:"song_id"`
	Seq        int     `bson:"seq"`
	Hash       int64   `bson:"hash"`
	TimeOffset float64 `bson:"time_offset"`
	Confidence float64 `bson:"confidence"`
	AnchorFreq float64 `bson:"anchor_freq"`
	TargetFreq float64 `bson:"target_freq"`
	DeltaT     float64 `bson:"delta_t"`
}

// NewMongoStore connects to uri and ensures the catalog indexes exist in
// database (DefaultMongoDatabase when empty).
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	db := client.Database(database)
	m := &MongoStore{
		client: client,
		songs:  db.Collection(songsCollection),
		fps:    db.Collection(fingerprintsColl),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := m.songs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "song_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating song key index: %w", err)
	}
	_, err = m.fps.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "hash", Value: 1}}},
		{Keys: bson.D{{Key: "song_id", Value: 1}, {Key: "seq", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating fingerprint indexes: %w", err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) ready() error {
	if m == nil || m.client == nil {
		return ErrNilClient
	}
	return nil
}

func (m *MongoStore) findByKey(ctx context.Context, normKey string) (string, bool, error) {
	var song mongoSong
	err := m.songs.FindOne(ctx, bson.M{"song_key": normKey}).Decode(&song)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying existing song: %w", err)
	}
	return song.ID, true, nil
}

func (m *MongoStore) SongExists(ctx context.Context, key models.SongKey) (string, bool, error) {
	if err := m.ready(); err != nil {
		return "", false, err
	}
	normKey, err := NormalizeKey(key)
	if err != nil {
		return "", false, err
	}
	return m.findByKey(ctx, normKey)
}

// InsertSongFingerprints relies on the unique song_key index for
// first-insert-wins. Fingerprint rows are written in InsertBatchSize
// chunks; a failed chunk removes everything written for the song.
func (m *MongoStore) InsertSongFingerprints(ctx context.Context, key models.SongKey, durationMs int, fps []models.Fingerprint) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	normKey, err := NormalizeKey(key)
	if err != nil {
		return "", err
	}
	if id, ok, err := m.findByKey(ctx, normKey); err != nil || ok {
		return id, err
	}

	song := mongoSong{
		ID:               newSongID(),
		Title:            strings.TrimSpace(key.Title),
		Artist:           strings.TrimSpace(key.Artist),
		SongKey:          normKey,
		DurationMs:       durationMs,
		FingerprintCount: len(fps),
		CreatedAt:        time.Now().UTC(),
	}
	if _, err := m.songs.InsertOne(ctx, song); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			id, ok, fetchErr := m.findByKey(ctx, normKey)
			if fetchErr != nil {
				return "", fmt.Errorf("fetching song after duplicate key: %w", fetchErr)
			}
			if ok {
				return id, nil
			}
		}
		return "", fmt.Errorf("creating song: %w", err)
	}

	seq := 0
	for _, batch := range batches(fps, InsertBatchSize) {
		docs := make([]interface{}, len(batch))
		for i, fp := range batch {
			docs[i] = mongoFingerprint{
				SongID:     song.ID,
				Seq:        seq,
				Hash:       fp.Hash,
				TimeOffset: fp.TimeOffset,
				Confidence: fp.Confidence,
				AnchorFreq: fp.AnchorFreq,
				TargetFreq: fp.TargetFreq,
				DeltaT:     fp.DeltaT,
			}
			seq++
		}
		if _, err := m.fps.InsertMany(ctx, docs); err != nil {
			err = fmt.Errorf("batch insert fingerprints: %w", err)
			if delErr := m.DeleteSong(context.Background(), song.ID); delErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", delErr))
			}
			return "", err
		}
	}
	return song.ID, nil
}

func (m *MongoStore) LookupByHash(ctx context.Context, hashes []int64) (map[string][]models.Fingerprint, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	rowsBySong := make(map[string][]mongoFingerprint)
	for _, batch := range batches(uniqueHashes(hashes), LookupBatchSize) {
		opts := options.Find().SetSort(bson.D{{Key: "song_id", Value: 1}, {Key: "seq", Value: 1}})
		cur, err := m.fps.Find(ctx, bson.M{"hash": bson.M{"$in": batch}}, opts)
		if err != nil {
			return nil, fmt.Errorf("batch querying fingerprints: %w", err)
		}
		var rows []mongoFingerprint
		if err := cur.All(ctx, &rows); err != nil {
			return nil, fmt.Errorf("decoding fingerprints: %w", err)
		}
		for _, r := range rows {
			rowsBySong[r.SongID] = append(rowsBySong[r.SongID], r)
		}
	}

	result := make(map[string][]models.Fingerprint, len(rowsBySong))
	for songID, rows := range rowsBySong {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
		fps := make([]models.Fingerprint, len(rows))
		for i, r := range rows {
			fps[i] = models.Fingerprint{
				Hash:       r.Hash,
				TimeOffset: r.TimeOffset,
				Confidence: r.Confidence,
				AnchorFreq: r.AnchorFreq,
				TargetFreq: r.TargetFreq,
				DeltaT:     r.DeltaT,
			}
		}
		result[songID] = fps
	}
	return result, nil
}

func (m *MongoStore) GetSongMetadata(ctx context.Context, ids []string) (map[string]models.SongInfo, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	result := make(map[string]models.SongInfo, len(ids))
	for _, batch := range batches(ids, LookupBatchSize) {
		cur, err := m.songs.Find(ctx, bson.M{"_id": bson.M{"$in": batch}})
		if err != nil {
			return nil, fmt.Errorf("querying song metadata: %w", err)
		}
		var songs []mongoSong
		if err := cur.All(ctx, &songs); err != nil {
			return nil, fmt.Errorf("decoding songs: %w", err)
		}
		for _, s := range songs {
			result[s.ID] = models.SongInfo{Title: s.Title, Artist: s.Artist, DurationMs: s.DurationMs}
		}
	}
	return result, nil
}

func (s mongoSong) toModel() models.Song {
	return models.Song{
		ID:               s.ID,
		Title:            s.Title,
		Artist:           s.Artist,
		DurationMs:       s.DurationMs,
		FingerprintCount: s.FingerprintCount,
	}
}

func (m *MongoStore) GetSong(ctx context.Context, songID string) (*models.Song, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	var s mongoSong
	err := m.songs.FindOne(ctx, bson.M{"_id": songID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrSongNotFound, songID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying song: %w", err)
	}
	song := s.toModel()
	return &song, nil
}

func (m *MongoStore) ListSongs(ctx context.Context) ([]models.Song, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := m.songs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	var rows []mongoSong
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding songs: %w", err)
	}
	songs := make([]models.Song, len(rows))
	for i, r := range rows {
		songs[i] = r.toModel()
	}
	return songs, nil
}

func (m *MongoStore) FingerprintCount(ctx context.Context, songID string) (int, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	n, err := m.fps.CountDocuments(ctx, bson.M{"song_id": songID})
	if err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return int(n), nil
}

func (m *MongoStore) DeleteSong(ctx context.Context, songID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if _, err := m.fps.DeleteMany(ctx, bson.M{"song_id": songID}); err != nil {
		return fmt.Errorf("deleting fingerprints: %w", err)
	}
	res, err := m.songs.DeleteOne(ctx, bson.M{"_id": songID})
	if err != nil {
		return fmt.Errorf("deleting song: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrSongNotFound, songID)
	}
	return nil
}
