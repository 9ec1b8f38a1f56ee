package storage

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/himanishpuri/acousticprint/pkg/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	// InsertBatchSize bounds fingerprint rows written per round trip.
	InsertBatchSize = 1000
	// LookupBatchSize bounds hashes or ids per lookup query.
	LookupBatchSize = 100
)

var (
	ErrSongNotFound = errors.New("song not found")
	ErrNilClient    = errors.New("storage client is nil")
	ErrEmptyKey     = errors.New("song title and artist must not be empty")
)

// NormalizeKey returns the identity used for first-insert-wins
// registration: trimmed, NFC-normalized and case-folded title and artist.
func NormalizeKey(key models.SongKey) (string, error) {
	title := strings.TrimSpace(key.Title)
	artist := strings.TrimSpace(key.Artist)
	if title == "" || artist == "" {
		return "", ErrEmptyKey
	}
	fold := cases.Fold()
	return fold.String(norm.NFC.String(title)) + "\x1f" + fold.String(norm.NFC.String(artist)), nil
}

func newSongID() string {
	return uuid.NewString()
}

// uniqueHashes drops repeated hashes while keeping first-seen order.
func uniqueHashes(hashes []int64) []int64 {
	seen := make(map[int64]struct{}, len(hashes))
	out := make([]int64, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// batches splits items into consecutive slices of at most size elements.
func batches[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
