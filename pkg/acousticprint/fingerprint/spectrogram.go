package fingerprint

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
)

// ChunkSize samples (ChunkBytes of 16-bit mono PCM) are analyzed per
// window; consecutive windows overlap by OverlapPercent and advance by
// StepSize samples.
const (
	ChunkBytes     = 8192
	BytesPerSample = 2
	ChunkSize      = ChunkBytes / (BytesPerSample * 1)
	OverlapPercent = 50
	StepSize       = ChunkSize - ChunkSize*OverlapPercent/100
)

// Hamming returns the n-point symmetric Hamming window
// 0.54 - 0.46*cos(2*pi*i/(n-1)).
func Hamming(n int) []float64 {
	return window.Hamming(n)
}

// FFT returns the full complex spectrum of a real frame.
func FFT(frame []float64) []complex128 {
	return fft.FFTReal(frame)
}

// MagnitudeSpectrum returns the modulus of every bin, mirrored half included.
func MagnitudeSpectrum(spectrum []complex128) []float64 {
	mag := make([]float64, len(spectrum))
	for i, c := range spectrum {
		mag[i] = cmplx.Abs(c)
	}
	return mag
}

// analyzer holds the per-rate constants shared by every chunk. It is
// read-only after construction and safe for concurrent use.
type analyzer struct {
	window     []float64
	sampleRate int
	resolution float64
}

func newAnalyzer(sampleRate int) *analyzer {
	return &analyzer{
		window:     Hamming(ChunkSize),
		sampleRate: sampleRate,
		resolution: float64(sampleRate) / float64(ChunkSize),
	}
}

// chunkTime is the start time of a chunk's step.
func (a *analyzer) chunkTime(idx int) float64 {
	return float64(idx*StepSize) / float64(a.sampleRate)
}

// analyze windows a copy of chunk, transforms it and returns its peaks.
func (a *analyzer) analyze(chunk []float64) []peakPoint {
	frame := make([]float64, len(chunk))
	copy(frame, chunk)
	floats.Mul(frame, a.window)

	mags := MagnitudeSpectrum(FFT(frame))
	return pickPeaks(mags, a.resolution)
}
