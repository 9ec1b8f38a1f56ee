package audio

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/himanishpuri/acousticprint/pkg/utils"
)

type ConvertWAVConfig struct {
	// SampleRate resamples the output when non-zero. The conditioner does
	// its own decimation, so callers normally leave this at zero.
	SampleRate int
	// Channels downmixes the output when non-zero.
	Channels int
	Timeout  time.Duration
}

// IsWAV reports whether path looks like a WAV file by extension.
func IsWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

// ConvertToWAV decodes any ffmpeg-readable input into a 16-bit PCM WAV file
// in outputDir and returns its path.
func ConvertToWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	// per-call name: indexing may convert equal base names concurrently
	outputPath := filepath.Join(outputDir, base+"."+uuid.NewString()[:8]+".pcm16.wav")
	tmpPath := outputPath + ".tmp.wav"
	defer utils.RemoveQuietly(tmpPath)

	args := []string{"-y", "-v", "quiet", "-i", inputPath}
	if cfg.Channels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", cfg.Channels))
	}
	if cfg.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", cfg.SampleRate))
	}
	args = append(args, "-c:a", "pcm_s16le", tmpPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// OpenAny opens path as a streaming source, converting through ffmpeg first
// when it is not already a WAV file. The returned cleanup removes any
// temporary file and closes the source.
func OpenAny(ctx context.Context, path, tempDir string) (*WAVSource, func(), error) {
	if IsWAV(path) {
		src, err := OpenWAV(path)
		if err == nil {
			return src, func() { src.Close() }, nil
		}
	}

	wavPath, err := ConvertToWAV(ctx, path, tempDir, ConvertWAVConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("audio conversion failed: %w", err)
	}
	src, err := OpenWAV(wavPath)
	if err != nil {
		utils.RemoveQuietly(wavPath)
		return nil, nil, err
	}
	return src, func() {
		src.Close()
		utils.RemoveQuietly(wavPath)
	}, nil
}
