package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/eligwz/spectrogram"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/logger"
)

// handleSpectrogram renders the conditioned signal, i.e. what the
// extractor actually sees, as a PNG.
func handleSpectrogram(ctx context.Context, args []string) {
	log := logger.GetLogger()

	audioPath, flagArgs := splitArgs(args)
	specCmd := flag.NewFlagSet("spectrogram", flag.ExitOnError)
	out := specCmd.String("out", "", "Output PNG (default: <audio_file>.png)")
	width := specCmd.Int("width", 2048, "Image width in pixels")
	height := specCmd.Int("height", 512, "Image height in pixels, also the FFT bin count")
	specCmd.Parse(flagArgs)

	if audioPath == "" {
		fmt.Println("Usage: acousticprint spectrogram <audio_file> [--out <png>] [--width <px>] [--height <px>]")
		os.Exit(1)
	}
	if *out == "" {
		*out = strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath)) + ".png"
	}

	if err := renderSpectrogram(ctx, audioPath, *out, *width, *height); err != nil {
		failColor.Printf("❌ Failed to render spectrogram: %v\n", err)
		log.Errorf("Spectrogram failed: %v", err)
		os.Exit(1)
	}
	okColor.Printf("✅ Saved spectrogram to %s\n", *out)
}

func renderSpectrogram(ctx context.Context, audioPath, outPath string, width, height int) error {
	src, cleanup, err := audio.OpenAny(ctx, audioPath, tempDir)
	if err != nil {
		return err
	}
	defer cleanup()

	cond, err := audio.NewConditioner(src, sampleRate)
	if err != nil {
		return err
	}
	pcm, err := cond.ReadAll()
	if err != nil {
		return fmt.Errorf("reading samples: %w", err)
	}
	if len(pcm) == 0 {
		return fmt.Errorf("no samples in %s", audioPath)
	}

	samples := make([]float64, len(pcm))
	for i, v := range pcm {
		samples[i] = float64(v) / 32768
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, linear magnitude
	spectrogram.Drawfft(img, samples, uint32(cond.SampleRate()), uint32(height), false, false, true, false)

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return spectrogram.SavePng(img, outPath)
}
