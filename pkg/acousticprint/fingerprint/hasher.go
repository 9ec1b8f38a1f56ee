package fingerprint

import (
	"math"
)

const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211

	harmonicTolerance = 0.05
	sameBandHz        = 20.0

	// deltaEpsilon absorbs float error when truncating delta_t*100, so a
	// delta that is exactly a whole number of centiseconds is not pushed
	// into the bucket below.
	deltaEpsilon = 1e-9
)

// Unison through octave.
var harmonicRatios = []float64{1.0, 1.125, 1.2, 1.25, 1.333, 1.5, 1.667, 1.875, 2.0}

// QuantizeFrequency maps a frequency to an integer bucket: 5 Hz below
// 300 Hz, 10 Hz below 1 kHz and 20 Hz above. Halves round to even.
func QuantizeFrequency(freq float64) uint64 {
	switch {
	case freq <= 0:
		return 0
	case freq < 300:
		return uint64(math.RoundToEven(freq / 5))
	case freq < 1000:
		return uint64(math.RoundToEven(freq / 10))
	default:
		return uint64(math.RoundToEven(freq / 20))
	}
}

// quantizeDelta truncates deltaT to whole centiseconds. Negative deltas map to 0.
func quantizeDelta(deltaT float64) uint64 {
	v := deltaT * 100
	if v <= 0 {
		return 0
	}
	return uint64(v + deltaEpsilon)
}

// Hash folds the quantized anchor frequency, target frequency and delta
// into a 64-bit FNV-1a value. Equal quantized triples always collide.
func Hash(anchorFreq, targetFreq, deltaT float64) int64 {
	h := fnvOffset
	for _, v := range [3]uint64{
		QuantizeFrequency(anchorFreq),
		QuantizeFrequency(targetFreq),
		quantizeDelta(deltaT),
	} {
		h ^= v
		h *= fnvPrime
	}
	return int64(h)
}

// IsHarmonicallyRelated reports whether two frequencies sit on a common
// musical interval (within tolerance) or within 20 Hz of each other.
func IsHarmonicallyRelated(f1, f2 float64) bool {
	lo, hi := f1, f2
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo > 0 {
		ratio := hi / lo
		for _, r := range harmonicRatios {
			if math.Abs(ratio-r) < harmonicTolerance {
				return true
			}
		}
	}
	return math.Abs(f2-f1) < sameBandHz
}

// roundTo rounds v to the given number of decimal places, halves to even.
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.RoundToEven(v*p) / p
}
