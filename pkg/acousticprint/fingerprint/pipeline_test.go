package fingerprint

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

const (
	testSourceRate = 16384
	testTargetRate = 8192
)

// toneSegments renders one second per base frequency, each a tone at f
// over a weaker tone at 2f.
func toneSegments(freqs []float64) []int16 {
	return toneSegmentsAt(testSourceRate, freqs)
}

func toneSegmentsAt(rate int, freqs []float64) []int16 {
	out := make([]int16, 0, len(freqs)*rate)
	for _, f := range freqs {
		for i := 0; i < rate; i++ {
			x := 2 * math.Pi * float64(i) / float64(rate)
			out = append(out, int16(10000*math.Sin(f*x)+6000*math.Sin(2*f*x)))
		}
	}
	return out
}

func fingerprintSamples(t *testing.T, samples []int16) []models.Fingerprint {
	t.Helper()
	return fingerprintSamplesAt(t, samples, testSourceRate, testTargetRate)
}

func fingerprintSamplesAt(t *testing.T, samples []int16, sourceRate, targetRate int) []models.Fingerprint {
	t.Helper()
	src := audio.NewMonoSource(samples, sourceRate)
	cmap, err := ExtractConstellation(context.Background(), src, targetRate, WithExtractWorkers(4))
	if err != nil {
		t.Fatalf("ExtractConstellation failed: %v", err)
	}
	return GenerateFingerprints(cmap)
}

// catalog is an in-memory hash index of fingerprinted songs.
type catalog map[int64][]struct {
	songID string
	fp     models.Fingerprint
}

func (c catalog) add(songID string, fps []models.Fingerprint) {
	for _, f := range fps {
		c[f.Hash] = append(c[f.Hash], struct {
			songID string
			fp     models.Fingerprint
		}{songID, f})
	}
}

func (c catalog) candidates(query []models.Fingerprint) map[string][]models.Fingerprint {
	seen := make(map[int64]bool)
	out := make(map[string][]models.Fingerprint)
	for _, q := range query {
		if seen[q.Hash] {
			continue
		}
		seen[q.Hash] = true
		for _, e := range c[q.Hash] {
			out[e.songID] = append(out[e.songID], e.fp)
		}
	}
	return out
}

func testCatalog(t *testing.T) (catalog, []int16) {
	t.Helper()
	return testCatalogAt(t, testSourceRate, testTargetRate)
}

func testCatalogAt(t *testing.T, sourceRate, targetRate int) (catalog, []int16) {
	t.Helper()
	var freqsA, freqsB []float64
	for k := 0; k < 10; k++ {
		freqsA = append(freqsA, float64(220+64*k))
		freqsB = append(freqsB, float64(1010+100*k))
	}
	songA := toneSegmentsAt(sourceRate, freqsA)

	c := catalog{}
	c.add("a", fingerprintSamplesAt(t, songA, sourceRate, targetRate))
	c.add("b", fingerprintSamplesAt(t, toneSegmentsAt(sourceRate, freqsB), sourceRate, targetRate))
	return c, songA
}

func TestPipelineFindsExcerpt(t *testing.T) {
	c, songA := testCatalog(t)

	// 3 s starting 2 s in; 2 s at the source rate is 16384 conditioned samples,
	// a whole number of steps
	excerpt := songA[2*testSourceRate : 5*testSourceRate]
	query := fingerprintSamples(t, excerpt)
	if len(query) == 0 {
		t.Fatal("Expected fingerprints for the excerpt")
	}

	matches, err := MatchFingerprints(context.Background(), query, c.candidates(query))
	if err != nil {
		t.Fatalf("MatchFingerprints failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("Expected at least one match")
	}
	best := matches[0]
	if best.SongID != "a" {
		t.Errorf("Expected song a to rank first, got %+v", matches)
	}
	if best.TimeOffset != 2.0 {
		t.Errorf("Expected offset 2.0s, got %v", best.TimeOffset)
	}
	if best.MatchedCount < MinMatchCount {
		t.Errorf("Expected at least %d votes, got %d", MinMatchCount, best.MatchedCount)
	}
}

func TestPipelineFindsExcerptAtDefaultRate(t *testing.T) {
	const sourceRate = 44100
	c, songA := testCatalogAt(t, sourceRate, audio.DefaultTargetRate)

	// 2 s is 22050 conditioned samples here, not a whole number of steps
	excerpt := songA[2*sourceRate : 5*sourceRate]
	query := fingerprintSamplesAt(t, excerpt, sourceRate, audio.DefaultTargetRate)
	if len(query) == 0 {
		t.Fatal("Expected fingerprints for the excerpt")
	}

	matches, err := MatchFingerprints(context.Background(), query, c.candidates(query))
	if err != nil {
		t.Fatalf("MatchFingerprints failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("Expected at least one match")
	}
	best := matches[0]
	if best.SongID != "a" {
		t.Errorf("Expected song a to rank first, got %+v", matches)
	}
	if math.Abs(best.TimeOffset-2.0) > 0.2 {
		t.Errorf("Expected offset near 2.0s, got %v", best.TimeOffset)
	}
	if best.MatchedCount < MinMatchCount {
		t.Errorf("Expected at least %d votes, got %d", MinMatchCount, best.MatchedCount)
	}
}

func TestPipelineRejectsNoise(t *testing.T) {
	c, _ := testCatalog(t)

	rng := rand.New(rand.NewSource(7))
	noise := make([]int16, 3*testSourceRate)
	for i := range noise {
		noise[i] = int16(rng.Intn(16000) - 8000)
	}
	query := fingerprintSamples(t, noise)

	matches, err := MatchFingerprints(context.Background(), query, c.candidates(query))
	if err != nil {
		t.Fatalf("MatchFingerprints failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no match for noise, got %+v", matches)
	}
}

func TestPipelineDeterministic(t *testing.T) {
	samples := toneSegments([]float64{300, 420, 510})
	first := fingerprintSamples(t, samples)

	src := audio.NewMonoSource(samples, testSourceRate)
	cmap, err := ExtractConstellation(context.Background(), src, testTargetRate)
	if err != nil {
		t.Fatalf("ExtractConstellation failed: %v", err)
	}
	second := GenerateFingerprints(cmap)

	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("Expected equal non-empty runs, got %d and %d fingerprints", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("Fingerprint %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
