package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

func setupBadger(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore("", nil)
	if err != nil {
		t.Fatalf("Failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestBadgerStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) catalogStore {
		return setupBadger(t)
	})
}

func TestBadgerStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerStore(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	id, err := store.InsertSongFingerprints(context.Background(), models.SongKey{Title: "Disk", Artist: "X"}, 0, testFingerprints(5, 5, 0))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewBadgerStore(dir, nil)
	if err != nil {
		t.Fatalf("Failed to reopen badger: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.LookupByHash(context.Background(), []int64{0, 1, 2, 3, 4})
	if err != nil {
		t.Fatalf("LookupByHash failed: %v", err)
	}
	if len(got[id]) != 5 {
		t.Errorf("Expected 5 fingerprints after reopen, got %d", len(got[id]))
	}
}

func TestBadgerConcurrentFirstInsertWins(t *testing.T) {
	store := setupBadger(t)
	key := models.SongKey{Title: "Race", Artist: "Condition"}

	const writers = 8
	ids := make([]string, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = store.InsertSongFingerprints(context.Background(), key, 0, testFingerprints(10, 10, int64(i*100)))
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("Writer %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("Writer %d got %s, expected %s", i, ids[i], ids[0])
		}
	}
	songs, err := store.ListSongs(context.Background())
	if err != nil {
		t.Fatalf("ListSongs failed: %v", err)
	}
	if len(songs) != 1 {
		t.Errorf("Expected a single registered song, got %d", len(songs))
	}
}

func TestFingerprintEncoding(t *testing.T) {
	fp := models.Fingerprint{Hash: -42, TimeOffset: 1.25, Confidence: 77.5, AnchorFreq: 440, TargetFreq: 660, DeltaT: 0.5}
	got, err := decodeFingerprint(fp.Hash, encodeFingerprint(fp))
	if err != nil {
		t.Fatalf("decodeFingerprint failed: %v", err)
	}
	if got != fp {
		t.Errorf("Expected %+v, got %+v", fp, got)
	}
	if _, err := decodeFingerprint(1, []byte{1, 2, 3}); err == nil {
		t.Error("Expected error for a truncated value")
	}
}

func TestNilBadgerStore(t *testing.T) {
	var store *BadgerStore
	if _, err := store.LookupByHash(context.Background(), []int64{1}); !errors.Is(err, ErrNilClient) {
		t.Errorf("Expected ErrNilClient, got %v", err)
	}
}
