package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/models"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

// AudioExtensions lists the file suffixes picked up by a directory walk.
var AudioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
	".aac":  true,
	".opus": true,
}

// Catalog is the part of the service the indexer needs.
type Catalog interface {
	SongExists(ctx context.Context, key models.SongKey) (string, bool, error)
	AddSong(ctx context.Context, audioPath, title, artist string) (string, error)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type Options struct {
	Workers int
	// Progress receives the progress bar; nil disables it.
	Progress io.Writer
	Log      Logger
}

type FileResult struct {
	Path   string
	SongID string
	Key    models.SongKey
	// Skipped is set when the key was already in the catalog.
	Skipped bool
	Err     error
}

type Summary struct {
	Added   int
	Skipped int
	Failed  int
	Files   []FileResult
}

// CollectFiles walks root and returns every audio file below it, sorted.
func CollectFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if AudioExtensions[strings.ToLower(filepath.Ext(path))] {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// Run fingerprints every audio file under root into cat. Per-file failures
// are collected in the summary; only context cancellation and walk errors
// abort the run.
func Run(ctx context.Context, cat Catalog, root string, opts Options) (*Summary, error) {
	files, err := CollectFiles(root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no audio files under %s", root)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := opts.Progress
	if out == nil {
		out = io.Discard
	}
	p := mpb.New(mpb.WithWidth(64), mpb.WithOutput(out))
	bar := p.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Indexing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)

	results := make([]FileResult, len(files))
	var mu sync.Mutex
	summary := &Summary{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			defer bar.Increment()
			if err := gctx.Err(); err != nil {
				return err
			}
			r := indexFile(gctx, cat, path)
			if r.Err != nil && errors.Is(r.Err, context.Canceled) {
				return r.Err
			}
			results[i] = r

			mu.Lock()
			defer mu.Unlock()
			switch {
			case r.Err != nil:
				summary.Failed++
				if opts.Log != nil {
					opts.Log.Warnf("Indexing %s failed: %v", path, r.Err)
				}
			case r.Skipped:
				summary.Skipped++
			default:
				summary.Added++
				if opts.Log != nil {
					opts.Log.Infof("Indexed %s as %s", r.Key, r.SongID)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	if err != nil {
		bar.Abort(false)
	}
	p.Wait()
	if err != nil {
		return nil, err
	}

	summary.Files = results
	return summary, nil
}

func indexFile(ctx context.Context, cat Catalog, path string) FileResult {
	title, artist := audio.GuessTitleArtist(path)
	r := FileResult{Path: path, Key: models.SongKey{Title: title, Artist: artist}}

	if _, err := os.Stat(path); err != nil {
		r.Err = err
		return r
	}
	id, ok, err := cat.SongExists(ctx, r.Key)
	if err != nil {
		r.Err = err
		return r
	}
	if ok {
		r.SongID = id
		r.Skipped = true
		return r
	}

	id, err = cat.AddSong(ctx, path, title, artist)
	if err != nil {
		r.Err = err
		return r
	}
	r.SongID = id
	return r
}
