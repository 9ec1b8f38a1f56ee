package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/models"
	"golang.org/x/sync/errgroup"
)

// SampleStream is a finite pull-based stream of mono samples that ends
// with io.EOF. *audio.Conditioner implements it.
type SampleStream interface {
	Next() (int16, error)
}

type extractConfig struct {
	workers int
}

type ExtractOption func(*extractConfig)

// WithExtractWorkers runs chunk analysis on up to n goroutines.
// n <= 1 analyzes chunks inline.
func WithExtractWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractConstellation conditions src down to targetRate and extracts its
// constellation map.
func ExtractConstellation(ctx context.Context, src audio.Source, targetRate int, opts ...ExtractOption) (models.ConstellationMap, error) {
	cond, err := audio.NewConditioner(src, targetRate)
	if err != nil {
		return nil, err
	}
	return Extract(ctx, cond, targetRate, opts...)
}

// Extract slides a ChunkSize window over stream in StepSize steps and
// returns the peaks of every full window, indexed by chunk number. A
// trailing partial window is dropped.
func Extract(ctx context.Context, stream SampleStream, sampleRate int, opts ...ExtractOption) (models.ConstellationMap, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	cfg := &extractConfig{workers: 1}
	for _, opt := range opts {
		opt(cfg)
	}

	a := newAnalyzer(sampleRate)
	buf := make([]float64, ChunkSize)
	filled := 0
	idx := 0

	var chunks models.ConstellationMap
	var (
		mu      sync.Mutex
		byIndex map[int][]models.ConstellationPoint
		g       *errgroup.Group
		gctx    = ctx
	)
	parallel := cfg.workers > 1
	if parallel {
		byIndex = make(map[int][]models.ConstellationPoint)
		g, gctx = errgroup.WithContext(ctx)
		g.SetLimit(cfg.workers)
	}

	var readErr error
	for {
		s, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = fmt.Errorf("reading samples at chunk %d: %w", idx, err)
			}
			break
		}
		buf[filled] = float64(s)
		filled++
		if filled < ChunkSize {
			continue
		}

		if err := gctx.Err(); err != nil {
			readErr = err
			break
		}

		if parallel {
			chunk := make([]float64, ChunkSize)
			copy(chunk, buf)
			i := idx
			g.Go(func() error {
				pts := placePeaks(a.analyze(chunk), a.chunkTime(i))
				mu.Lock()
				byIndex[i] = pts
				mu.Unlock()
				return nil
			})
		} else {
			chunks = append(chunks, placePeaks(a.analyze(buf), a.chunkTime(idx)))
		}

		copy(buf, buf[StepSize:])
		filled = ChunkSize - StepSize
		idx++
	}

	if parallel {
		if err := g.Wait(); err != nil && readErr == nil {
			readErr = err
		}
		chunks = make(models.ConstellationMap, idx)
		for i := range chunks {
			chunks[i] = byIndex[i]
		}
	}
	if readErr != nil {
		return nil, readErr
	}
	return chunks, nil
}
