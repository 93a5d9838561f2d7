package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported means a backend cannot decode this file; a Chain moves on
	// to the next backend.
	ErrUnsupported = errors.New("audio: unsupported format")
	// ErrSeek means the requested frame is outside the stream.
	ErrSeek = errors.New("audio: seek out of range")
)

// Stream yields decoded, interleaved float32 frames in the output format
// (output sample rate and channel count) from an arbitrary frame offset.
type Stream interface {
	// Seek moves the read position to an output-domain frame.
	Seek(frame uint64) error
	// Read fills dst with whole frames and returns the number of frames read.
	// Fewer frames than requested means the stream has ended.
	Read(dst []float32) (int, error)
	Close() error
}

// Backend opens decode streams.
type Backend interface {
	Open(path string) (Stream, error)
}

// Chain tries each backend in order until one accepts the file.
type Chain []Backend

func (c Chain) Open(path string) (Stream, error) {
	var firstErr error
	for _, b := range c {
		s, err := b.Open(path)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrUnsupported) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, fmt.Errorf("open %s: %w", path, ErrUnsupported)
}
