package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	xxhash "github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/badger/v3"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Key layout:
//
//	s/<songID>                       song record (JSON)
//	k/<xxhash64(normalized key)>     songID
//	h/<hash><songID><seq>            fingerprint payload
//	r/<songID><seq>                  hash, for deletes
var (
	prefixSong  = []byte("s/")
	prefixKey   = []byte("k/")
	prefixHash  = []byte("h/")
	prefixRever = []byte("r/")
)

const (
	songIDLen      = 36
	fingerprintLen = 5 * 8
)

var ErrKeyCollision = errors.New("song key hash collision")

// BadgerLogger receives badger's internal log lines.
type BadgerLogger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

type badgerLogAdapter struct {
	log BadgerLogger
}

func (a badgerLogAdapter) Errorf(f string, v ...interface{})   { a.log.Errorf("badger: "+f, v...) }
func (a badgerLogAdapter) Warningf(f string, v ...interface{}) { a.log.Warnf("badger: "+f, v...) }
func (a badgerLogAdapter) Infof(f string, v ...interface{})    { a.log.Debugf("badger: "+f, v...) }
func (a badgerLogAdapter) Debugf(f string, v ...interface{})   { a.log.Debugf("badger: "+f, v...) }

type BadgerStore struct {
	db *badger.DB
}

type badgerSong struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Artist           string    `json:"artist"`
	SongKey          string    `json:"key"`
	DurationMs       int       `json:"duration_ms"`
	FingerprintCount int       `json:"fingerprint_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewBadgerStore opens a badger catalog in dir. An empty dir opens an
// in-memory store. log may be nil to silence badger.
func NewBadgerStore(dir string, log BadgerLogger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if log != nil {
		opts = opts.WithLogger(badgerLogAdapter{log: log})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BadgerStore) ready() error {
	if b == nil || b.db == nil {
		return ErrNilClient
	}
	return nil
}

func keyIndexKey(normKey string) []byte {
	k := make([]byte, len(prefixKey)+8)
	copy(k, prefixKey)
	binary.BigEndian.PutUint64(k[len(prefixKey):], xxhash.ChecksumString64(normKey))
	return k
}

func songKey(songID string) []byte {
	return append(append([]byte{}, prefixSong...), songID...)
}

func hashPrefix(hash int64) []byte {
	k := make([]byte, len(prefixHash)+8)
	copy(k, prefixHash)
	binary.BigEndian.PutUint64(k[len(prefixHash):], uint64(hash))
	return k
}

func hashRowKey(hash int64, songID string, seq uint32) []byte {
	k := hashPrefix(hash)
	k = append(k, songID...)
	return binary.BigEndian.AppendUint32(k, seq)
}

func reverseKey(songID string, seq uint32) []byte {
	k := append(append([]byte{}, prefixRever...), songID...)
	return binary.BigEndian.AppendUint32(k, seq)
}

func encodeFingerprint(fp models.Fingerprint) []byte {
	v := make([]byte, 0, fingerprintLen)
	for _, f := range [5]float64{fp.TimeOffset, fp.Confidence, fp.AnchorFreq, fp.TargetFreq, fp.DeltaT} {
		v = binary.BigEndian.AppendUint64(v, math.Float64bits(f))
	}
	return v
}

func decodeFingerprint(hash int64, v []byte) (models.Fingerprint, error) {
	if len(v) != fingerprintLen {
		return models.Fingerprint{}, fmt.Errorf("corrupt fingerprint value of %d bytes", len(v))
	}
	f := func(i int) float64 { return math.Float64frombits(binary.BigEndian.Uint64(v[i*8:])) }
	return models.Fingerprint{
		Hash:       hash,
		TimeOffset: f(0),
		Confidence: f(1),
		AnchorFreq: f(2),
		TargetFreq: f(3),
		DeltaT:     f(4),
	}, nil
}

// findSong resolves a normalized key to a song record inside txn.
func findSong(txn *badger.Txn, normKey string) (*badgerSong, error) {
	item, err := txn.Get(keyIndexKey(normKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	song, err := getSong(txn, string(id))
	if err != nil {
		return nil, err
	}
	if song.SongKey != normKey {
		return nil, fmt.Errorf("%w: %q and %q", ErrKeyCollision, song.SongKey, normKey)
	}
	return song, nil
}

func getSong(txn *badger.Txn, songID string) (*badgerSong, error) {
	item, err := txn.Get(songKey(songID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSongNotFound, songID)
	}
	if err != nil {
		return nil, err
	}
	var song badgerSong
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &song)
	})
	if err != nil {
		return nil, fmt.Errorf("decoding song %s: %w", songID, err)
	}
	return &song, nil
}

func (b *BadgerStore) SongExists(ctx context.Context, key models.SongKey) (string, bool, error) {
	if err := b.ready(); err != nil {
		return "", false, err
	}
	normKey, err := NormalizeKey(key)
	if err != nil {
		return "", false, err
	}
	var id string
	err = b.db.View(func(txn *badger.Txn) error {
		song, err := findSong(txn, normKey)
		if song != nil {
			id = song.ID
		}
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("querying existing song: %w", err)
	}
	return id, id != "", nil
}

// InsertSongFingerprints registers the song in one transaction and then
// streams its rows through a WriteBatch. A failed row write removes the
// song again.
func (b *BadgerStore) InsertSongFingerprints(ctx context.Context, key models.SongKey, durationMs int, fps []models.Fingerprint) (string, error) {
	if err := b.ready(); err != nil {
		return "", err
	}
	normKey, err := NormalizeKey(key)
	if err != nil {
		return "", err
	}

	var songID string
	created := false
	err = b.db.Update(func(txn *badger.Txn) error {
		existing, err := findSong(txn, normKey)
		if err != nil {
			return err
		}
		if existing != nil {
			songID = existing.ID
			return nil
		}
		song := badgerSong{
			ID:               newSongID(),
			Title:            strings.TrimSpace(key.Title),
			Artist:           strings.TrimSpace(key.Artist),
			SongKey:          normKey,
			DurationMs:       durationMs,
			FingerprintCount: len(fps),
			CreatedAt:        time.Now().UTC(),
		}
		val, err := json.Marshal(song)
		if err != nil {
			return err
		}
		if err := txn.Set(songKey(song.ID), val); err != nil {
			return err
		}
		if err := txn.Set(keyIndexKey(normKey), []byte(song.ID)); err != nil {
			return err
		}
		songID = song.ID
		created = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		id, ok, fetchErr := b.SongExists(ctx, key)
		if fetchErr != nil {
			return "", fmt.Errorf("fetching song after conflict: %w", fetchErr)
		}
		if ok {
			return id, nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("registering song: %w", err)
	}
	if !created {
		return songID, nil
	}

	if err := b.writeRows(ctx, songID, fps); err != nil {
		if delErr := b.DeleteSong(context.Background(), songID); delErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", delErr))
		}
		return "", err
	}
	return songID, nil
}

func (b *BadgerStore) writeRows(ctx context.Context, songID string, fps []models.Fingerprint) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for i, fp := range fps {
		if i%InsertBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		seq := uint32(i)
		if err := wb.Set(hashRowKey(fp.Hash, songID, seq), encodeFingerprint(fp)); err != nil {
			return fmt.Errorf("writing fingerprint: %w", err)
		}
		hv := binary.BigEndian.AppendUint64(nil, uint64(fp.Hash))
		if err := wb.Set(reverseKey(songID, seq), hv); err != nil {
			return fmt.Errorf("writing reverse index: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing fingerprints: %w", err)
	}
	return nil
}

type seqFingerprint struct {
	seq uint32
	fp  models.Fingerprint
}

func (b *BadgerStore) LookupByHash(ctx context.Context, hashes []int64) (map[string][]models.Fingerprint, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	bySong := make(map[string][]seqFingerprint)
	for _, batch := range batches(uniqueHashes(hashes), LookupBatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			for _, h := range batch {
				prefix := hashPrefix(h)
				opts.Prefix = prefix
				it := txn.NewIterator(opts)
				for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
					item := it.Item()
					k := item.Key()
					if len(k) != len(prefix)+songIDLen+4 {
						continue
					}
					songID := string(k[len(prefix) : len(prefix)+songIDLen])
					seq := binary.BigEndian.Uint32(k[len(prefix)+songIDLen:])
					err := item.Value(func(val []byte) error {
						fp, err := decodeFingerprint(h, val)
						if err != nil {
							return err
						}
						bySong[songID] = append(bySong[songID], seqFingerprint{seq: seq, fp: fp})
						return nil
					})
					if err != nil {
						it.Close()
						return err
					}
				}
				it.Close()
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("looking up hashes: %w", err)
		}
	}

	result := make(map[string][]models.Fingerprint, len(bySong))
	for songID, rows := range bySong {
		sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
		fps := make([]models.Fingerprint, len(rows))
		for i, r := range rows {
			fps[i] = r.fp
		}
		result[songID] = fps
	}
	return result, nil
}

func (b *BadgerStore) GetSongMetadata(ctx context.Context, ids []string) (map[string]models.SongInfo, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	result := make(map[string]models.SongInfo, len(ids))
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			song, err := getSong(txn, id)
			if errors.Is(err, ErrSongNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			result[id] = models.SongInfo{Title: song.Title, Artist: song.Artist, DurationMs: song.DurationMs}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying song metadata: %w", err)
	}
	return result, nil
}

func (s *badgerSong) toModel() models.Song {
	return models.Song{
		ID:               s.ID,
		Title:            s.Title,
		Artist:           s.Artist,
		DurationMs:       s.DurationMs,
		FingerprintCount: s.FingerprintCount,
	}
}

func (b *BadgerStore) GetSong(ctx context.Context, songID string) (*models.Song, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	var out models.Song
	err := b.db.View(func(txn *badger.Txn) error {
		song, err := getSong(txn, songID)
		if err != nil {
			return err
		}
		out = song.toModel()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BadgerStore) ListSongs(ctx context.Context) ([]models.Song, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	var songs []badgerSong
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixSong
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixSong); it.ValidForPrefix(prefixSong); it.Next() {
			var s badgerSong
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &s) }); err != nil {
				return err
			}
			songs = append(songs, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	sort.SliceStable(songs, func(i, j int) bool { return songs[i].CreatedAt.Before(songs[j].CreatedAt) })
	out := make([]models.Song, len(songs))
	for i := range songs {
		out[i] = songs[i].toModel()
	}
	return out, nil
}

func (b *BadgerStore) FingerprintCount(ctx context.Context, songID string) (int, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	count := 0
	prefix := append(append([]byte{}, prefixRever...), songID...)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return count, nil
}

// DeleteSong removes the song record, its key index and every row.
func (b *BadgerStore) DeleteSong(ctx context.Context, songID string) error {
	if err := b.ready(); err != nil {
		return err
	}
	var (
		song *badgerSong
		keys [][]byte
	)
	prefix := append(append([]byte{}, prefixRever...), songID...)
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		song, err = getSong(txn, songID)
		if err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rk := item.KeyCopy(nil)
			hv, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(hv) != 8 || len(rk) != len(prefix)+4 {
				continue
			}
			seq := binary.BigEndian.Uint32(rk[len(prefix):])
			keys = append(keys, rk, hashRowKey(int64(binary.BigEndian.Uint64(hv)), songID, seq))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("deleting fingerprint rows: %w", err)
		}
	}
	if err := wb.Delete(keyIndexKey(song.SongKey)); err != nil {
		return fmt.Errorf("deleting key index: %w", err)
	}
	if err := wb.Delete(songKey(songID)); err != nil {
		return fmt.Errorf("deleting song: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing deletes: %w", err)
	}
	return nil
}
