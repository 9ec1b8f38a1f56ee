package audio

import (
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
)

// Source is a sequential supply of interleaved 16-bit PCM samples.
// ReadSample returns io.EOF once the stream is exhausted.
type Source interface {
	ReadSample() (int16, error)
	Channels() int
	SampleRate() int
}

// DurationSource is implemented by sources that know their total length.
type DurationSource interface {
	Duration() (time.Duration, error)
}

// BufferSource serves samples from an in-memory go-audio IntBuffer.
// Values outside the int16 range are rescaled from SourceBitDepth.
type BufferSource struct {
	buf      *goaudio.IntBuffer
	pos      int
	bitDepth int
}

// NewBufferSource wraps buf. A zero SourceBitDepth is treated as 16 bit.
func NewBufferSource(buf *goaudio.IntBuffer) *BufferSource {
	return &BufferSource{buf: buf, bitDepth: buf.SourceBitDepth}
}

// NewMonoSource is a convenience for tests and callers holding raw samples.
func NewMonoSource(samples []int16, sampleRate int) *BufferSource {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	return NewBufferSource(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
}

func (s *BufferSource) ReadSample() (int16, error) {
	if s.pos >= len(s.buf.Data) {
		return 0, io.EOF
	}
	v := s.buf.Data[s.pos]
	s.pos++
	return toInt16(v, s.bitDepth), nil
}

func (s *BufferSource) Channels() int {
	if s.buf.Format == nil || s.buf.Format.NumChannels == 0 {
		return 1
	}
	return s.buf.Format.NumChannels
}

func (s *BufferSource) SampleRate() int {
	if s.buf.Format == nil {
		return 0
	}
	return s.buf.Format.SampleRate
}

func (s *BufferSource) Duration() (time.Duration, error) {
	rate := s.SampleRate()
	if rate == 0 {
		return 0, nil
	}
	frames := len(s.buf.Data) / s.Channels()
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

// toInt16 scales a decoded PCM value of the given bit depth to 16 bits.
// 8-bit WAV data is unsigned and is re-centered first.
func toInt16(v, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		v = (v - 128) << 8
	case bitDepth > 16:
		v >>= uint(bitDepth - 16)
	}
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}
