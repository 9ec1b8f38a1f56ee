package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when a stream is not a readable PCM WAV container.
var ErrInvalidWAV = errors.New("invalid or unsupported WAV data")

const wavReadFrames = 4096

// WAVSource streams samples out of a PCM WAV container without loading
// the whole data chunk into memory.
type WAVSource struct {
	closer   io.Closer
	dec      *wav.Decoder
	buf      *goaudio.IntBuffer
	n        int
	pos      int
	bitDepth int
	channels int
	rate     int
	eof      bool
}

// OpenWAV opens a WAV file for streaming. The caller must Close it.
func OpenWAV(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wav: %w", err)
	}
	src, err := NewWAVSource(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.closer = f
	return src, nil
}

// NewWAVSource reads the container headers from r and prepares streaming.
func NewWAVSource(r io.ReadSeeker) (*WAVSource, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return nil, ErrInvalidWAV
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit samples", ErrInvalidWAV, dec.BitDepth)
	}

	channels := int(dec.NumChans)
	return &WAVSource{
		dec: dec,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, wavReadFrames*channels),
		},
		bitDepth: int(dec.BitDepth),
		channels: channels,
		rate:     int(dec.SampleRate),
	}, nil
}

func (s *WAVSource) ReadSample() (int16, error) {
	if s.pos >= s.n {
		if err := s.fill(); err != nil {
			return 0, err
		}
	}
	v := s.buf.Data[s.pos]
	s.pos++
	return toInt16(v, s.bitDepth), nil
}

func (s *WAVSource) fill() error {
	if s.eof {
		return io.EOF
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return fmt.Errorf("reading pcm: %w", err)
	}
	if n == 0 {
		s.eof = true
		return io.EOF
	}
	s.n, s.pos = n, 0
	return nil
}

func (s *WAVSource) Channels() int   { return s.channels }
func (s *WAVSource) SampleRate() int { return s.rate }
func (s *WAVSource) BitDepth() int   { return s.bitDepth }

func (s *WAVSource) Duration() (time.Duration, error) {
	return s.dec.Duration()
}

func (s *WAVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// WriteWAV encodes interleaved 16-bit samples as a PCM WAV file.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate, channels int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	return enc.Close()
}
