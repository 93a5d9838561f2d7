package engine

import (
	"math"

	"github.com/satindergrewal/beatgrid/internal/msgq"
	"github.com/satindergrewal/beatgrid/internal/stretch"
	"github.com/satindergrewal/beatgrid/internal/timeline"
)

// State is the continuity state of one playhead/track pair.
type State int

const (
	StateIdle          State = iota // no current clip
	StateTracking                   // reading on from where the last pull stopped
	StateDiscontinuous              // next pull clears the stretcher and reseeks
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateDiscontinuous:
		return "discontinuous"
	}
	return "unknown"
}

type playheadTrack struct {
	st           stretch.Processor
	pitch        float64
	tempo        float64
	stConfigured bool

	head, tail *Chunk
	chunks     int

	cursor      uint64 // next source frame to feed the stretcher
	expect      uint64 // first frame the next pull should ask for
	expectValid bool

	clipIdx int // -1 when idle
	songID  int
	origin  float64 // song frame at beat 0 of the current clip
	reset   bool
	urgent  bool // emergency chunk requested, waiting for delivery
}

// Playhead is the render-side state of one scan position across all tracks.
// Only the render thread touches it.
type Playhead struct {
	idx     int
	cfg     Config
	shared  *sharedState
	toIO    *msgq.Queue[ioMsg]
	tracks  [NumTracks]playheadTrack
	src     []float32
	jumpSeq uint64
}

func newPlayhead(idx int, cfg Config, shared *sharedState, toIO *msgq.Queue[ioMsg], newStretcher stretch.Factory) *Playhead {
	ph := &Playhead{
		idx:    idx,
		cfg:    cfg,
		shared: shared,
		toIO:   toIO,
		src:    make([]float32, cfg.StretchBlockFrames*cfg.Channels),
	}
	for t := range ph.tracks {
		ph.tracks[t].st = newStretcher(cfg.Channels, cfg.StretchBlockFrames)
		ph.tracks[t].clipIdx = -1
		ph.tracks[t].songID = -1
	}
	return ph
}

// Beat returns the playhead position.
func (ph *Playhead) Beat() float64 { return ph.shared.loadBeat(ph.idx) }

func (ph *Playhead) advance(beats float64) {
	ph.shared.storeBeat(ph.idx, ph.Beat()+beats)
}

func (ph *Playhead) state(t int) State {
	pt := &ph.tracks[t]
	switch {
	case pt.clipIdx < 0:
		return StateIdle
	case pt.reset || !pt.expectValid:
		return StateDiscontinuous
	}
	return StateTracking
}

// setCurClip makes clip idx of song the pair's current clip. A clip of the
// same song with the same origin, within the continuity tolerance, is the
// same material under a new index and keeps the chunk cache. Anything else
// empties the cache and forces a reseek.
func (ph *Playhead) setCurClip(t, idx, songID int, origin float64) {
	pt := &ph.tracks[t]
	if idx >= 0 && pt.clipIdx >= 0 && songID == pt.songID &&
		math.Abs(origin-pt.origin) <= float64(ph.cfg.ContinuityTolerance) {
		if idx != pt.clipIdx {
			pt.clipIdx = idx
			ph.shared.curClip[ph.idx][t].Store(int64(idx))
		}
		return
	}
	if idx == pt.clipIdx && songID == pt.songID && origin == pt.origin {
		return
	}
	ph.popAll(t)
	pt.clipIdx = idx
	pt.songID = songID
	pt.origin = origin
	pt.reset = true
	pt.urgent = false
	ph.shared.curClip[ph.idx][t].Store(int64(idx))
	ph.shared.curSong[ph.idx][t].Store(int64(songID))
}

// jump moves the playhead. Every track of a jump arrives as its own
// message; only the first one with a new sequence number resets state.
func (ph *Playhead) jump(seq uint64, beat float64) {
	if seq == ph.jumpSeq {
		return
	}
	ph.jumpSeq = seq
	ph.shared.storeBeat(ph.idx, beat)
	for t := range ph.tracks {
		pt := &ph.tracks[t]
		ph.popAll(t)
		pt.reset = true
		pt.expectValid = false
		pt.urgent = false
	}
}

func (ph *Playhead) receiveChunk(t int, c *Chunk) {
	pt := &ph.tracks[t]
	c.next = nil
	if pt.tail != nil && c.FirstFrame < pt.tail.end() {
		// Decoded after a reseek; what is queued is the old look-ahead.
		ph.popAll(t)
	}
	if pt.tail == nil {
		pt.head = c
	} else {
		pt.tail.next = c
	}
	pt.tail = c
	pt.chunks++
	pt.urgent = false
}

// popHead hands the oldest chunk back to the control side.
func (ph *Playhead) popHead(t int) {
	pt := &ph.tracks[t]
	c := pt.head
	pt.head = c.next
	if pt.head == nil {
		pt.tail = nil
	}
	c.next = nil
	pt.chunks--
	mustPush(ph.toIO, ioMsg{kind: ioDeleteChunk, playhead: ph.idx, track: t, chunk: c})
}

func (ph *Playhead) popAll(t int) {
	for ph.tracks[t].head != nil {
		ph.popHead(t)
	}
}

// pullStretch renders frames output frames of clip into dest through the
// pair's stretcher. origin is the clip's song frame at beat 0. first is the song frame the output should start at and
// next the one the following call is expected to ask for. Returns the number
// of frames produced; the rest of dest is silenced.
func (ph *Playhead) pullStretch(t, clipIdx int, clip *timeline.Clip, origin, tempo float64, dest []float32, first uint64, frames int, next uint64) int {
	pt := &ph.tracks[t]
	ch := ph.cfg.Channels
	ph.setCurClip(t, clipIdx, clip.SongID, origin)

	if pt.reset || !pt.expectValid || absDiff(first, pt.expect) > ph.cfg.ContinuityTolerance {
		pt.st.Clear()
		pt.cursor = first
		pt.reset = false
	}
	if !pt.stConfigured || pt.pitch != clip.Pitch {
		pt.st.SetPitchSemitones(clip.Pitch)
		pt.pitch = clip.Pitch
	}
	if !pt.stConfigured || pt.tempo != tempo {
		pt.st.SetTempoRatio(tempo)
		pt.tempo = tempo
	}
	pt.stConfigured = true

	block := ph.cfg.StretchBlockFrames
	total := 0
	failed := false
	for total < frames {
		got := pt.st.PullOutput(dest[total*ch:frames*ch], frames-total)
		total += got
		if total >= frames {
			break
		}
		if got == 0 {
			if failed {
				break
			}
			n := ph.pullSource(t, clip, block)
			if n > 0 {
				pt.st.PushSource(ph.src[:n*ch], n)
			}
			if n < block {
				failed = true
			}
		}
	}
	if total < frames {
		clear(dest[total*ch : frames*ch])
		pt.reset = true
	}

	pt.expect = next
	pt.expectValid = true
	ph.shared.wantFrame[ph.idx][t].Store(pt.cursor)
	ph.shared.waitWant[ph.idx][t].Store(false)
	return total
}

// pullSource copies up to frames source frames at the cursor into ph.src,
// from the clip preload first and then the chunk cache. The cursor always
// moves by frames.
func (ph *Playhead) pullSource(t int, clip *timeline.Clip, frames int) int {
	pt := &ph.tracks[t]
	ch := ph.cfg.Channels
	dst := ph.src
	want := pt.cursor

	got := clip.Preload.Read(dst, want, frames, ch)
	for got < frames && pt.head != nil {
		c := pt.head
		pos := want + uint64(got)
		if c.SongID != pt.songID || c.end() <= pos {
			ph.popHead(t)
			continue
		}
		if pos < c.FirstFrame {
			break
		}
		off := pos - c.FirstFrame
		k := c.NumFrames - off
		if rest := uint64(frames - got); k > rest {
			k = rest
		}
		copy(dst[got*ch:(got+int(k))*ch], c.Frames[int(off)*ch:int(off+k)*ch])
		got += int(k)
		if off+k >= c.NumFrames {
			ph.popHead(t)
		}
	}
	pt.cursor = want + uint64(frames)

	if got < frames && !pt.urgent {
		pt.urgent = true
		mustPush(ph.toIO, ioMsg{kind: ioEmergencyChunk, playhead: ph.idx, track: t})
	}
	return got
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
