package audio

import (
	"errors"
	"fmt"
	"io"
)

// DefaultTargetRate is the analysis rate used across the catalog.
const DefaultTargetRate = 11025

const (
	highPassCoef float32 = 0.98 // ~20 Hz cutoff
	lowPassCoef  float32 = 0.2  // ~5 kHz cutoff
)

// ErrUnsupportedRate is returned when a source cannot be decimated to the
// requested rate.
var ErrUnsupportedRate = errors.New("unsupported sample rate")

// Conditioner turns a PCM source into a band-limited mono stream at a
// fixed target rate. For each output sample it consumes ratio frames, keeps
// the last one (averaged across channels) and runs it through a high-pass
// and a low-pass single-pole filter.
//
// The ratio is floor(source/target). When the rates do not divide evenly
// the output runs slightly longer than an exact resampling would; catalogs
// depend on this, so it is not corrected.
type Conditioner struct {
	src      Source
	target   int
	ratio    int
	channels int
	produced int

	x1  float32
	hp1 float32
	lp1 float32
}

// NewConditioner prepares a conditioner reading from src.
func NewConditioner(src Source, targetRate int) (*Conditioner, error) {
	if src == nil {
		return nil, errors.New("nil audio source")
	}
	if targetRate <= 0 {
		return nil, fmt.Errorf("%w: target %d Hz", ErrUnsupportedRate, targetRate)
	}
	rate := src.SampleRate()
	if rate < targetRate {
		return nil, fmt.Errorf("%w: source %d Hz is below target %d Hz", ErrUnsupportedRate, rate, targetRate)
	}
	channels := src.Channels()
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	return &Conditioner{
		src:      src,
		target:   targetRate,
		ratio:    rate / targetRate,
		channels: channels,
	}, nil
}

// Next returns the next conditioned sample, or io.EOF when the source is
// exhausted. A trailing partial frame is dropped.
func (c *Conditioner) Next() (int16, error) {
	for i := 0; i < c.ratio-1; i++ {
		for ch := 0; ch < c.channels; ch++ {
			if _, err := c.src.ReadSample(); err != nil {
				return 0, err
			}
		}
	}

	var sample int16
	if c.channels == 1 {
		s, err := c.src.ReadSample()
		if err != nil {
			return 0, err
		}
		sample = s
	} else {
		var sum int32
		for ch := 0; ch < c.channels; ch++ {
			s, err := c.src.ReadSample()
			if err != nil {
				return 0, err
			}
			sum += int32(s)
		}
		sample = int16(sum / int32(c.channels))
	}

	c.produced++
	return c.filter(sample), nil
}

func (c *Conditioner) filter(sample int16) int16 {
	x := float32(sample)

	hp := highPassCoef * (c.hp1 + x - c.x1)
	c.x1 = x
	c.hp1 = hp

	lp := lowPassCoef*hp + (1-lowPassCoef)*c.lp1
	c.lp1 = lp

	return saturate16(lp)
}

// saturate16 truncates toward zero and clamps to the int16 range.
func saturate16(v float32) int16 {
	switch {
	case v != v:
		return 0
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	}
	return int16(v)
}

// ReadAll drains the conditioner. Intended for short clips and tests.
func (c *Conditioner) ReadAll() ([]int16, error) {
	var out []int16
	for {
		s, err := c.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}

func (c *Conditioner) SampleRate() int { return c.target }
func (c *Conditioner) Ratio() int      { return c.ratio }

// Produced reports how many conditioned samples have been emitted so far.
func (c *Conditioner) Produced() int { return c.produced }

// ProducedMs converts Produced into milliseconds at the target rate.
func (c *Conditioner) ProducedMs() int {
	return int(int64(c.produced) * 1000 / int64(c.target))
}
