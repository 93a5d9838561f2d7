// Package stretch defines the tempo/pitch processor the render path feeds
// and a small varispeed implementation of it.
package stretch

import "math"

// Processor is a streaming tempo/pitch transform. Source frames go in with
// PushSource and transformed frames come out with PullOutput; the processor
// may hold some frames back between calls. Over time it consumes exactly the
// tempo ratio in source frames per output frame, whatever the pitch. Implementations used on the render
// path must not allocate or block after construction.
type Processor interface {
	SetPitchSemitones(semitones float64)
	SetTempoRatio(ratio float64)
	// PushSource queues frames interleaved frames from samples.
	PushSource(samples []float32, frames int)
	// PullOutput writes at most maxFrames frames to dst and returns how many
	// it wrote.
	PullOutput(dst []float32, maxFrames int) int
	// Clear drops all buffered input and output.
	Clear()
}

// Factory builds one processor per playhead/track pair.
type Factory func(channels, blockFrames int) Processor

// shiftWindow is the delay line of the pitch shifter, in frames.
const shiftWindow = 1024

// Varispeed resamples by linear interpolation at the tempo ratio, so source
// frames are consumed at exactly tempo per output frame. A nonzero pitch is
// applied afterwards by a two-tap delay-line shifter that changes pitch but
// never timing.
type Varispeed struct {
	channels  int
	ring      []float32
	capFrames int
	start     int // oldest buffered frame
	count     int // buffered frames

	pos  float64 // read offset from start, in frames
	rate float64 // source frames per output frame

	shift pitchShifter
}

// NewVarispeed returns a processor that can buffer up to four source blocks.
func NewVarispeed(channels, blockFrames int) Processor {
	capFrames := 4*blockFrames + 2
	return &Varispeed{
		channels:  channels,
		ring:      make([]float32, capFrames*channels),
		capFrames: capFrames,
		rate:      1,
		shift:     newPitchShifter(channels, shiftWindow),
	}
}

// SetPitchSemitones sets the pitch shift. It has no effect on how fast
// source frames are consumed.
func (v *Varispeed) SetPitchSemitones(semitones float64) {
	if math.IsNaN(semitones) || math.IsInf(semitones, 0) {
		return
	}
	v.shift.setRatio(math.Exp2(semitones / 12))
}

func (v *Varispeed) SetTempoRatio(ratio float64) {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return
	}
	v.rate = ratio
}

// Rate returns the current read speed in source frames per output frame.
func (v *Varispeed) Rate() float64 { return v.rate }

func (v *Varispeed) PushSource(samples []float32, frames int) {
	ch := v.channels
	if free := v.capFrames - v.count; frames > free {
		frames = free
	}
	for f := 0; f < frames; f++ {
		dst := ((v.start + v.count) % v.capFrames) * ch
		copy(v.ring[dst:dst+ch], samples[f*ch:f*ch+ch])
		v.count++
	}
}

func (v *Varispeed) PullOutput(dst []float32, maxFrames int) int {
	ch := v.channels
	if room := len(dst) / ch; maxFrames > room {
		maxFrames = room
	}
	n := 0
	for n < maxFrames {
		i := int(v.pos)
		if i+1 >= v.count {
			break
		}
		frac := float32(v.pos - float64(i))
		a := ((v.start + i) % v.capFrames) * ch
		b := ((v.start + i + 1) % v.capFrames) * ch
		for c := 0; c < ch; c++ {
			x := v.ring[a+c]
			dst[n*ch+c] = x + (v.ring[b+c]-x)*frac
		}
		if v.shift.active() {
			v.shift.process(dst[n*ch : n*ch+ch])
		}
		n++

		v.pos += v.rate
		if drop := int(v.pos); drop > 0 {
			if drop > v.count {
				drop = v.count
			}
			v.start = (v.start + drop) % v.capFrames
			v.count -= drop
			v.pos -= float64(drop)
		}
	}
	return n
}

func (v *Varispeed) Clear() {
	v.start = 0
	v.count = 0
	v.pos = 0
	v.shift.reset()
}

// pitchShifter reads a delay line through two taps half a window apart
// that move at the pitch ratio relative to the write head. Each tap fades
// out before it wraps, and the gains of the two taps always sum to one.
type pitchShifter struct {
	channels int
	window   int
	size     int // ring frames, window + 2
	buf      []float32
	w        int     // newest frame
	delay    float64 // delay of tap A, in [0, window)
	ratio    float64
}

func newPitchShifter(channels, window int) pitchShifter {
	size := window + 2
	return pitchShifter{
		channels: channels,
		window:   window,
		size:     size,
		buf:      make([]float32, size*channels),
		ratio:    1,
	}
}

func (s *pitchShifter) active() bool { return s.ratio != 1 }

func (s *pitchShifter) setRatio(r float64) {
	if r <= 0 {
		return
	}
	s.ratio = r
}

func (s *pitchShifter) reset() {
	clear(s.buf)
	s.w = 0
	s.delay = 0
}

// process replaces one interleaved frame in place with its shifted value.
func (s *pitchShifter) process(frame []float32) {
	ch := s.channels
	s.w = (s.w + 1) % s.size
	copy(s.buf[s.w*ch:s.w*ch+ch], frame)

	win := float64(s.window)
	dA := s.delay
	dB := dA + win/2
	if dB >= win {
		dB -= win
	}
	gA := math.Sin(math.Pi * dA / win)
	gA *= gA
	gB := 1 - gA
	for c := 0; c < ch; c++ {
		frame[c] = float32(gA)*s.tap(dA, c) + float32(gB)*s.tap(dB, c)
	}

	s.delay += 1 - s.ratio
	for s.delay < 0 {
		s.delay += win
	}
	for s.delay >= win {
		s.delay -= win
	}
}

// tap reads channel c delay frames behind the write head.
func (s *pitchShifter) tap(delay float64, c int) float32 {
	p := float64(s.w) - delay
	i := int(math.Floor(p))
	frac := float32(p - float64(i))
	a := ((i%s.size + s.size) % s.size) * s.channels
	b := (((i+1)%s.size + s.size) % s.size) * s.channels
	x := s.buf[a+c]
	return x + (s.buf[b+c]-x)*frac
}
