// Package world ties the library and the two engine halves into one object
// with a render-thread surface, a control-thread loop and a thread-safe
// control API.
package world

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/beatgrid/internal/audio"
	"github.com/satindergrewal/beatgrid/internal/engine"
	"github.com/satindergrewal/beatgrid/internal/library"
	"github.com/satindergrewal/beatgrid/internal/stretch"
)

// Options holds the optional collaborators of a World.
type Options struct {
	Stretcher stretch.Factory   // nil uses stretch.NewVarispeed
	Probe     library.ProbeFunc // nil uses library.Probe
	Logger    *log.Logger       // nil uses the standard logger
}

// World is the composition root.
//
// Render thread: PumpRender, then Render for each pair, then Advance for
// each playhead, once per period. Control thread: PumpIO in a loop, or
// RunIO. Everything else may be called from any goroutine.
type World struct {
	cfg    engine.Config
	lib    *library.Library
	audio  *engine.AudioEngine
	io     *engine.IOEngine
	probe  library.ProbeFunc
	logger *log.Logger

	playheadOn [engine.NumPlayheads]atomic.Bool
	trackOn    [engine.NumTracks]atomic.Bool
}

// New builds a world rendering at cfg.SampleRate, starting at bpm with
// playhead 0 and every track active.
func New(cfg engine.Config, bpm float64, backend audio.Backend, opts Options) (*World, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	lib := library.New(cfg.SampleRate)
	a, e, err := engine.New(cfg, lib, bpm, backend, opts.Stretcher, opts.Logger)
	if err != nil {
		return nil, err
	}
	w := &World{
		cfg:    cfg,
		lib:    lib,
		audio:  a,
		io:     e,
		probe:  opts.Probe,
		logger: opts.Logger,
	}
	w.playheadOn[0].Store(true)
	for t := range w.trackOn {
		w.trackOn[t].Store(true)
	}
	return w, nil
}

// Config returns the engine configuration.
func (w *World) Config() engine.Config { return w.cfg }

// Library returns the song registry.
func (w *World) Library() *library.Library { return w.lib }

// RegisterSong adds a song. A zero rate or bpm is filled in by probing the
// file.
func (w *World) RegisterSong(filename string, nativeRate, bpm float64) (int, error) {
	return w.lib.Register(filename, nativeRate, bpm, w.probe)
}

// Songs lists every registered song.
func (w *World) Songs() []library.Song { return w.lib.Songs() }

// InsertClip places songID on track over [start,end). firstFrame is in the
// song's native sample domain.
func (w *World) InsertClip(track int, start, end, fadeIn, fadeOut, pitch float64, firstFrame uint64, songID int) bool {
	return w.io.InsertClip(track, start, end, fadeIn, fadeOut, pitch, firstFrame, songID)
}

// EraseRange clears [from,to) on track.
func (w *World) EraseRange(track int, from, to float64) bool {
	return w.io.EraseRange(track, from, to)
}

// SetTempo changes the master tempo from the next render period on.
func (w *World) SetTempo(bpm float64) { w.audio.SetBPM(bpm) }

// JumpPlayhead moves playhead p to beat.
func (w *World) JumpPlayhead(p int, beat float64) bool {
	return w.io.JumpPlayhead(p, beat)
}

func (w *World) BPM() float64             { return w.audio.BPM() }
func (w *World) Beat(p int) float64       { return w.audio.Beat(p) }
func (w *World) CurClip(p, track int) int { return w.audio.CurClipIdx(p, track) }
func (w *World) CurSong(p, track int) int { return w.audio.CurSongID(p, track) }

// SetPlayheadActive turns playhead p on or off. Inactive playheads are
// neither rendered nor advanced.
func (w *World) SetPlayheadActive(p int, on bool) bool {
	if p < 0 || p >= engine.NumPlayheads {
		return false
	}
	w.playheadOn[p].Store(on)
	return true
}

// TogglePlayhead flips playhead p and returns its new state.
func (w *World) TogglePlayhead(p int) bool {
	if p < 0 || p >= engine.NumPlayheads {
		return false
	}
	for {
		old := w.playheadOn[p].Load()
		if w.playheadOn[p].CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (w *World) PlayheadActive(p int) bool {
	return p >= 0 && p < engine.NumPlayheads && w.playheadOn[p].Load()
}

// SetTrackActive mutes or unmutes track t on every playhead.
func (w *World) SetTrackActive(t int, on bool) bool {
	if t < 0 || t >= engine.NumTracks {
		return false
	}
	w.trackOn[t].Store(on)
	return true
}

// ToggleTrack flips track t and returns its new state.
func (w *World) ToggleTrack(t int) bool {
	if t < 0 || t >= engine.NumTracks {
		return false
	}
	for {
		old := w.trackOn[t].Load()
		if w.trackOn[t].CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (w *World) TrackActive(t int) bool {
	return t >= 0 && t < engine.NumTracks && w.trackOn[t].Load()
}

// PumpRender drains messages bound for the render side. Call first in every
// period.
func (w *World) PumpRender() { w.audio.HandleAllMsgs() }

// Render fills dest with frames of track t at playhead p.
func (w *World) Render(p, t int, dest []float32, frames int) {
	w.audio.Pull(p, t, dest, frames)
}

// Advance moves playhead p on by frames. Call once per period.
func (w *World) Advance(p, frames int) {
	w.audio.PullDoneAdvancePlayhead(p, frames)
}

// PumpIO runs one control-side iteration: apply messages, then decode
// ahead for every active pair.
func (w *World) PumpIO() {
	w.io.HandleAllMsgs()
	for p := 0; p < engine.NumPlayheads; p++ {
		if !w.playheadOn[p].Load() {
			continue
		}
		for t := 0; t < engine.NumTracks; t++ {
			if w.trackOn[t].Load() {
				w.io.DecodeNextCacheChunks(p, t)
			}
		}
	}
}

// RunIO drives PumpIO every interval. Blocks until ctx is cancelled, then
// closes every decode stream.
func (w *World) RunIO(ctx context.Context, interval time.Duration) {
	defer w.io.Close()
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.PumpIO()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PairStatus is what one playhead is playing on one track.
type PairStatus struct {
	Clip int `json:"clip"`
	Song int `json:"song"`
}

// PlayheadStatus is a read-only view of one playhead.
type PlayheadStatus struct {
	Index  int          `json:"index"`
	Active bool         `json:"active"`
	Beat   float64      `json:"beat"`
	Tracks []PairStatus `json:"tracks"`
}

// Status is a lock-free snapshot of the world.
type Status struct {
	BPM       float64          `json:"bpm"`
	Playheads []PlayheadStatus `json:"playheads"`
	Tracks    []bool           `json:"tracks_active"`
	Songs     int              `json:"songs"`
}

// Status collects the current read-only view.
func (w *World) Status() Status {
	st := Status{BPM: w.BPM(), Songs: w.lib.Len()}
	for p := 0; p < engine.NumPlayheads; p++ {
		ps := PlayheadStatus{Index: p, Active: w.PlayheadActive(p), Beat: w.Beat(p)}
		for t := 0; t < engine.NumTracks; t++ {
			ps.Tracks = append(ps.Tracks, PairStatus{Clip: w.CurClip(p, t), Song: w.CurSong(p, t)})
		}
		st.Playheads = append(st.Playheads, ps)
	}
	for t := 0; t < engine.NumTracks; t++ {
		st.Tracks = append(st.Tracks, w.TrackActive(t))
	}
	return st
}
