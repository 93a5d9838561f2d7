// Package engine is the real-time sequencing core: the render-side
// AudioEngine and the control-side IOEngine, connected only by two message
// queues and a small set of atomics.
package engine

import (
	"errors"
	"fmt"
)

// Fixed arrangement size.
const (
	NumTracks    = 4
	NumPlayheads = 2
)

// ErrConfig wraps every configuration validation failure.
var ErrConfig = errors.New("engine: invalid configuration")

// Config is the immutable tuning of one engine instance.
type Config struct {
	SampleRate int // output domain
	Channels   int

	PreloadFrames     int // eagerly decoded frames at each clip head
	ChunkFrames       int // frames per streamed chunk
	ChunkWindowFrames int // look-ahead before the next chunk is decoded

	PoolCapacity        int    // messages in flight per queue
	StretchBlockFrames  int    // source frames fed to the stretcher per push
	ContinuityTolerance uint64 // frames of drift treated as continuous
	MaxPeriodFrames     int    // largest render period a host may request
}

// DefaultConfig returns the stock tuning at 48 kHz stereo.
func DefaultConfig() Config {
	return Config{
		SampleRate:          48000,
		Channels:            2,
		PreloadFrames:       176400,
		ChunkFrames:         176400,
		ChunkWindowFrames:   176400,
		PoolCapacity:        1024,
		StretchBlockFrames:  519,
		ContinuityTolerance: 2,
		MaxPeriodFrames:     4096,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"sample rate", c.SampleRate},
		{"channels", c.Channels},
		{"preload frames", c.PreloadFrames},
		{"chunk frames", c.ChunkFrames},
		{"chunk window frames", c.ChunkWindowFrames},
		{"pool capacity", c.PoolCapacity},
		{"stretch block frames", c.StretchBlockFrames},
		{"max period frames", c.MaxPeriodFrames},
	}
	for _, chk := range checks {
		if chk.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrConfig, chk.name, chk.value)
		}
	}
	return nil
}
