package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVBackend decodes integer PCM WAV files already at the output rate without
// an external process. Anything else is ErrUnsupported.
type WAVBackend struct {
	SampleRate int
	Channels   int
}

// NewWAVBackend creates a backend for WAV files at rate, mapped to channels.
func NewWAVBackend(rate, channels int) *WAVBackend {
	return &WAVBackend{SampleRate: rate, Channels: channels}
}

func (b *WAVBackend) Open(path string) (Stream, error) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return nil, ErrUnsupported
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wav open %s: %w", path, err)
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() || d.WavAudioFormat != 1 || int(d.SampleRate) != b.SampleRate {
		f.Close()
		return nil, ErrUnsupported
	}
	switch d.BitDepth {
	case 16, 24, 32:
	default:
		f.Close()
		return nil, ErrUnsupported
	}
	if d.NumChans == 0 {
		f.Close()
		return nil, ErrUnsupported
	}
	if err := d.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav %s: %w", path, err)
	}
	start, err := d.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wav %s: %w", path, err)
	}

	fileCh := int(d.NumChans)
	frameBytes := int64(fileCh) * int64(d.BitDepth/8)
	return &wavStream{
		f:         f,
		d:         d,
		outCh:     b.Channels,
		fileCh:    fileCh,
		dataStart: start,
		frames:    int64(d.PCMSize) / frameBytes,
		frameSize: frameBytes,
		pcm:       &goaudio.IntBuffer{SourceBitDepth: int(d.BitDepth)},
	}, nil
}

type wavStream struct {
	f         *os.File
	d         *wav.Decoder
	outCh     int
	fileCh    int
	dataStart int64
	frames    int64 // whole frames in the data chunk
	frameSize int64 // bytes per file frame
	pos       int64 // next frame to read
	pcm       *goaudio.IntBuffer
}

func (s *wavStream) Seek(frame uint64) error {
	if int64(frame) > s.frames {
		return fmt.Errorf("frame %d: %w", frame, ErrSeek)
	}
	return s.seek(int64(frame))
}

// seek moves the decoder to frame and rebuilds its data chunk reader, whose
// byte limit would otherwise still count from the old position.
func (s *wavStream) seek(frame int64) error {
	off := frame * s.frameSize
	if _, err := s.d.Seek(s.dataStart+off, io.SeekStart); err != nil {
		return err
	}
	s.d.PCMChunk.R = io.LimitReader(s.f, (s.frames-frame)*s.frameSize)
	s.pos = frame
	return nil
}

func (s *wavStream) Read(dst []float32) (int, error) {
	frames := int64(len(dst) / s.outCh)
	if left := s.frames - s.pos; frames > left {
		frames = left
	}
	if frames <= 0 {
		return 0, nil
	}
	n := int(frames) * s.fileCh
	if cap(s.pcm.Data) < n {
		s.pcm.Data = make([]int, n)
	}
	s.pcm.Data = s.pcm.Data[:n]

	got, err := s.d.PCMBuffer(s.pcm)
	if err != nil {
		return 0, err
	}
	whole := got / s.fileCh
	if whole == 0 {
		return 0, nil
	}
	if got%s.fileCh != 0 {
		// A short read split a frame; resume at its start.
		if err := s.seek(s.pos + int64(whole)); err != nil {
			return 0, err
		}
	} else {
		s.pos += int64(whole)
	}

	s.pcm.Data = s.pcm.Data[:whole*s.fileCh]
	samples := s.pcm.AsFloat32Buffer().Data
	for i := 0; i < whole; i++ {
		s.mapFrame(dst[i*s.outCh:(i+1)*s.outCh], samples[i*s.fileCh:(i+1)*s.fileCh])
	}
	return whole, nil
}

// mapFrame converts one file frame to the output channel layout: mono is
// spread to every channel, a mono output averages, otherwise channels map
// one to one and extra output channels stay silent.
func (s *wavStream) mapFrame(dst, src []float32) {
	switch {
	case s.fileCh == s.outCh:
		copy(dst, src)
	case s.fileCh == 1:
		for c := range dst {
			dst[c] = src[0]
		}
	case s.outCh == 1:
		var sum float32
		for _, v := range src {
			sum += v
		}
		dst[0] = sum / float32(s.fileCh)
	default:
		for c := range dst {
			if c < s.fileCh {
				dst[c] = src[c]
			} else {
				dst[c] = 0
			}
		}
	}
}

func (s *wavStream) Close() error {
	return s.f.Close()
}
