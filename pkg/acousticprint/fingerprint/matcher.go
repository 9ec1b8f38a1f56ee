package fingerprint

import (
	"context"
	"math"
	"runtime"
	"sort"

	"github.com/himanishpuri/acousticprint/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	MinMatchCount      = 3
	MinMatchConfidence = 0.05
)

// OffsetBucketMs is the width of a time-offset histogram bucket.
const OffsetBucketMs = 100

type matchConfig struct {
	workers int
}

type MatchOption func(*matchConfig)

// WithMatchWorkers scores up to n candidate songs concurrently.
func WithMatchWorkers(n int) MatchOption {
	return func(c *matchConfig) {
		c.workers = n
	}
}

// MatchFingerprints scores every candidate song by time-offset voting and
// returns the songs that pass the match thresholds, best first.
//
// candidates maps a song id to that song's stored fingerprints whose hash
// appears in query. Songs are scored independently; the result order is
// deterministic for equal inputs.
func MatchFingerprints(ctx context.Context, query []models.Fingerprint, candidates map[string][]models.Fingerprint, opts ...MatchOption) ([]models.Match, error) {
	if len(query) == 0 || len(candidates) == 0 {
		return nil, nil
	}
	cfg := &matchConfig{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}

	byHash := groupByHash(query)

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	scored := make([]*models.Match, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if m, ok := scoreSong(id, candidates[id], byHash, len(query)); ok {
				scored[i] = &m
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []models.Match
	for _, m := range scored {
		if m != nil {
			results = append(results, *m)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
	return results, nil
}

// groupByHash indexes query fingerprints by hash. Every fingerprint sharing
// a hash lands in the same group regardless of its position in query.
func groupByHash(query []models.Fingerprint) map[int64][]models.Fingerprint {
	byHash := make(map[int64][]models.Fingerprint, len(query))
	for _, fp := range query {
		byHash[fp.Hash] = append(byHash[fp.Hash], fp)
	}
	return byHash
}

// scoreSong builds the offset histogram for one song. Offsets are computed
// in whole milliseconds and truncated toward zero into 100 ms buckets, so
// bucket boundaries do not depend on float rounding. The first bucket to
// reach a new maximum keeps the lead on ties.
func scoreSong(songID string, stored []models.Fingerprint, byHash map[int64][]models.Fingerprint, queryCount int) (models.Match, bool) {
	votes := make(map[int64]int)
	best := 0
	var bestBucket int64

	for _, sfp := range stored {
		for _, qfp := range byHash[sfp.Hash] {
			offsetMs := toMillis(sfp.TimeOffset) - toMillis(qfp.TimeOffset)
			bucket := offsetMs / OffsetBucketMs
			votes[bucket]++
			if n := votes[bucket]; n > best {
				best = n
				bestBucket = bucket
			}
		}
	}

	confidence := float64(best) / float64(queryCount)
	if best < MinMatchCount || confidence <= MinMatchConfidence {
		return models.Match{}, false
	}
	return models.Match{
		SongID:       songID,
		Confidence:   confidence,
		MatchedCount: best,
		TimeOffset:   float64(bestBucket*OffsetBucketMs) / 1000,
	}, true
}

func toMillis(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}
