package output

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/beatgrid/internal/audio"
)

// tapBuffers is how many 20ms periods Feed can have in flight to Drain.
const tapBuffers = 64

// Pipeline cuts rendered audio into 20ms stereo int16 frames for the
// monitors. Run clocks the source itself; Feed accepts audio rendered
// elsewhere, such as by a Device, and Drain turns it into frames.
type Pipeline struct {
	src       Source
	channels  int
	frameSize int // frames per 20ms at the source rate
	frameCh   chan []int16

	buf []float32 // Run only
	acc []float32 // Drain only

	// Feed takes from tapFree and sends to tapFull; Drain hands buffers back.
	tapFree chan []float32
	tapFull chan []float32

	emitted atomic.Uint64
	dropped atomic.Uint64
}

// NewPipeline creates a pipeline for a source producing channels channels
// at sampleRate.
func NewPipeline(src Source, sampleRate, channels int) *Pipeline {
	frameSize := sampleRate * int(audio.FrameDuration/time.Millisecond) / 1000
	p := &Pipeline{
		src:       src,
		channels:  channels,
		frameSize: frameSize,
		frameCh:   make(chan []int16, 100),
		buf:       make([]float32, frameSize*channels),
		acc:       make([]float32, 0, 2*frameSize*channels),
		tapFree:   make(chan []float32, tapBuffers),
		tapFull:   make(chan []float32, tapBuffers),
	}
	for i := 0; i < tapBuffers; i++ {
		p.tapFree <- make([]float32, frameSize*channels)
	}
	return p
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// FrameSize returns the frames per channel in each 20ms frame.
func (p *Pipeline) FrameSize() int { return p.frameSize }

// Status returns how much audio has gone out and how many frames were
// dropped because nobody was reading.
func (p *Pipeline) Status() (position time.Duration, dropped uint64) {
	return time.Duration(p.emitted.Load()) * audio.FrameDuration, p.dropped.Load()
}

// Run renders one frame per tick. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.src.Render(p.buf)
		if !p.sendFrame(ctx, p.convert(p.buf)) {
			return
		}
	}
}

// Feed hands externally rendered audio to Drain. It runs on the device's
// render thread, so it never blocks, locks or allocates: audio that finds
// no free period buffer is dropped and counted.
func (p *Pipeline) Feed(samples []float32) {
	for len(samples) > 0 {
		var buf []float32
		select {
		case buf = <-p.tapFree:
		default:
			size := p.frameSize * p.channels
			p.dropped.Add(uint64((len(samples) + size - 1) / size))
			return
		}
		n := copy(buf[:cap(buf)], samples)
		samples = samples[n:]
		// Only tapBuffers buffers exist, so tapFull always has room.
		p.tapFull <- buf[:n]
	}
}

// Drain cuts fed audio into frames until ctx is cancelled, then closes
// Frames. Frames nobody is ready for are dropped.
func (p *Pipeline) Drain(ctx context.Context) {
	defer close(p.frameCh)
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-p.tapFull:
			p.accumulate(buf)
		}
	}
}

func (p *Pipeline) accumulate(buf []float32) {
	p.acc = append(p.acc, buf...)
	p.tapFree <- buf[:cap(buf)]

	n := p.frameSize * p.channels
	for len(p.acc) >= n {
		frame := p.convert(p.acc[:n])
		select {
		case p.frameCh <- frame:
			p.emitted.Add(1)
		default:
			p.dropped.Add(1)
		}
		p.acc = append(p.acc[:0], p.acc[n:]...)
	}
}

// Close ends the frame stream of a pipeline neither Run nor Drain drives.
func (p *Pipeline) Close() { close(p.frameCh) }

// convert maps interleaved float audio to stereo int16.
func (p *Pipeline) convert(src []float32) []int16 {
	frames := len(src) / p.channels
	out := make([]int16, frames*audio.Channels)
	switch p.channels {
	case audio.Channels:
		audio.FloatToInt16(out, src)
	default:
		tmp := make([]float32, len(out))
		for f := 0; f < frames; f++ {
			for c := 0; c < audio.Channels; c++ {
				sc := c
				if sc >= p.channels {
					sc = p.channels - 1
				}
				tmp[f*audio.Channels+c] = src[f*p.channels+sc]
			}
		}
		audio.FloatToInt16(out, tmp)
	}
	return out
}

func (p *Pipeline) sendFrame(ctx context.Context, frame []int16) bool {
	select {
	case p.frameCh <- frame:
		p.emitted.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}
