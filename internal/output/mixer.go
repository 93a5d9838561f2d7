// Package output turns the world's per-track renders into a stream of
// periods: a Mixer that sums them, a ticker-driven Pipeline feeding the
// network monitors, and a Device that plays through the sound card.
package output

import (
	"github.com/satindergrewal/beatgrid/internal/engine"
	"github.com/satindergrewal/beatgrid/internal/world"
)

// Source renders interleaved float32 audio on demand.
type Source interface {
	Render(dst []float32)
}

// Mixer sums every active playhead/track pair. It is the render thread:
// only one goroutine may call Render.
type Mixer struct {
	w         *world.World
	channels  int
	maxFrames int
	route     bool
	scratch   []float32
}

// NewMixer creates a mixer. With routeByPlayhead, playhead p is heard only
// on channel p modulo the channel count.
func NewMixer(w *world.World, routeByPlayhead bool) *Mixer {
	cfg := w.Config()
	return &Mixer{
		w:         w,
		channels:  cfg.Channels,
		maxFrames: cfg.MaxPeriodFrames,
		route:     routeByPlayhead,
		scratch:   make([]float32, cfg.MaxPeriodFrames*cfg.Channels),
	}
}

// Channels returns the interleaved channel count.
func (m *Mixer) Channels() int { return m.channels }

// Render fills dst, splitting it into periods of at most MaxPeriodFrames.
func (m *Mixer) Render(dst []float32) {
	ch := m.channels
	for len(dst) >= ch {
		n := len(dst) / ch
		if n > m.maxFrames {
			n = m.maxFrames
		}
		m.period(dst[:n*ch], n)
		dst = dst[n*ch:]
	}
	clear(dst)
}

func (m *Mixer) period(out []float32, frames int) {
	clear(out)
	m.w.PumpRender()
	ch := m.channels
	buf := m.scratch[:frames*ch]
	for p := 0; p < engine.NumPlayheads; p++ {
		if !m.w.PlayheadActive(p) {
			continue
		}
		for t := 0; t < engine.NumTracks; t++ {
			if !m.w.TrackActive(t) {
				continue
			}
			m.w.Render(p, t, buf, frames)
			if m.route {
				for i := p % ch; i < len(buf); i += ch {
					out[i] += buf[i]
				}
			} else {
				for i, s := range buf {
					out[i] += s
				}
			}
		}
		m.w.Advance(p, frames)
	}
}
