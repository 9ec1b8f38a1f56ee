package fingerprint

import (
	"sort"

	"github.com/himanishpuri/acousticprint/pkg/models"
	"gonum.org/v1/gonum/floats"
)

const (
	MinPeakFreq   = 20.0
	MaxPeakFreq   = 5000.0
	PeaksPerChunk = 4
)

// peakPoint is a picked peak before it is placed in time.
type peakPoint struct {
	freq float64
	mag  float64 // normalized 0-100
}

// pickPeaks finds strict 5-bin local maxima (b0<b1<b2>b3>b4) in mags,
// keeps those inside the band, and returns the strongest PeaksPerChunk of
// them with magnitudes normalized against the largest bin in mags.
func pickPeaks(mags []float64, resolution float64) []peakPoint {
	if len(mags) < 5 {
		return nil
	}
	maxMag := floats.Max(mags)

	var found []peakPoint
	for b := 0; b+4 < len(mags); b++ {
		w := mags[b : b+5]
		if !(w[0] < w[1] && w[1] < w[2] && w[2] > w[3] && w[3] > w[4]) {
			continue
		}
		freq := float64(b+2) * resolution
		if freq < MinPeakFreq || freq > MaxPeakFreq {
			continue
		}
		found = append(found, peakPoint{freq: freq, mag: w[2]})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].mag > found[j].mag })
	if len(found) > PeaksPerChunk {
		found = found[:PeaksPerChunk]
	}

	for i := range found {
		if maxMag == 0 {
			found[i].mag = 0
			continue
		}
		found[i].mag = found[i].mag / maxMag * 100
	}
	return found
}

func placePeaks(peaks []peakPoint, t float64) []models.ConstellationPoint {
	if len(peaks) == 0 {
		return nil
	}
	out := make([]models.ConstellationPoint, len(peaks))
	for i, p := range peaks {
		out[i] = models.ConstellationPoint{Time: t, Frequency: p.freq, Magnitude: p.mag}
	}
	return out
}
