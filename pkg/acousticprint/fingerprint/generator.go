package fingerprint

import (
	"math"
	"sort"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

const (
	AnchorsPerChunk   = 3
	MaxPairsPerAnchor = 3
	MinPairConfidence = 40.0
	timeDecimalPlaces = 3
)

// TargetOffsets are the chunk distances tried for each anchor, in order.
var TargetOffsets = [...]int{1, 2, 3, 4, 5, 6, 8, 12}

// GenerateFingerprints pairs the strongest peaks of every chunk with the
// strongest peak of later chunks and hashes each accepted pair.
func GenerateFingerprints(cmap models.ConstellationMap) []models.Fingerprint {
	var fps []models.Fingerprint

	for c, pts := range cmap {
		if len(pts) == 0 {
			continue
		}
		anchors := make([]models.ConstellationPoint, len(pts))
		copy(anchors, pts)
		sort.SliceStable(anchors, func(i, j int) bool { return anchors[i].Magnitude > anchors[j].Magnitude })
		if len(anchors) > AnchorsPerChunk {
			anchors = anchors[:AnchorsPerChunk]
		}

		for _, anchor := range anchors {
			pairs := 0
			for _, off := range TargetOffsets {
				t := c + off
				if t >= len(cmap) || len(cmap[t]) == 0 {
					continue
				}
				target := strongest(cmap[t])

				if !IsHarmonicallyRelated(anchor.Frequency, target.Frequency) {
					continue
				}
				if pairConfidence(anchor, target) < MinPairConfidence {
					continue
				}

				fps = append(fps, NewFingerprint(anchor, target))
				pairs++
				if pairs >= MaxPairsPerAnchor {
					break
				}
			}
		}
	}
	return fps
}

// NewFingerprint builds the fingerprint of an anchor/target pair.
func NewFingerprint(anchor, target models.ConstellationPoint) models.Fingerprint {
	deltaT := target.Time - anchor.Time
	return models.Fingerprint{
		Hash:       Hash(anchor.Frequency, target.Frequency, deltaT),
		TimeOffset: roundTo(anchor.Time, timeDecimalPlaces),
		Confidence: pairConfidence(anchor, target),
		AnchorFreq: anchor.Frequency,
		TargetFreq: target.Frequency,
		DeltaT:     roundTo(deltaT, timeDecimalPlaces),
	}
}

// strongest returns the highest-magnitude point; the last one wins ties.
func strongest(pts []models.ConstellationPoint) models.ConstellationPoint {
	best := pts[0]
	for _, p := range pts[1:] {
		if p.Magnitude >= best.Magnitude {
			best = p
		}
	}
	return best
}

func pairConfidence(a, b models.ConstellationPoint) float64 {
	return math.Sqrt(a.Magnitude * b.Magnitude)
}
