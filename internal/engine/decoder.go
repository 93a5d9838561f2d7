package engine

import (
	"log"
	"math"

	"github.com/satindergrewal/beatgrid/internal/audio"
	"github.com/satindergrewal/beatgrid/internal/library"
	"github.com/satindergrewal/beatgrid/internal/timeline"
)

// Decoder streams one song for one playhead/track pair in fixed chunks,
// staying a bounded window ahead of the render cursor. Control side only.
type Decoder struct {
	cfg     Config
	lib     *library.Library
	backend audio.Backend
	pool    *bufferPool
	logger  *log.Logger

	stream    audio.Stream
	songID    int
	exhausted bool

	clipIdx     int
	origin      float64 // output-domain song frame at beat 0 of the clip
	originValid bool
	preloadFrom uint64
	preloadEnd  uint64

	pos      uint64 // stream read position
	posValid bool

	next      uint64 // first frame not yet delivered
	nextValid bool
	lastWant  uint64
}

func newDecoder(cfg Config, lib *library.Library, backend audio.Backend, pool *bufferPool, logger *log.Logger) *Decoder {
	return &Decoder{cfg: cfg, lib: lib, backend: backend, pool: pool, logger: logger, songID: -1, clipIdx: -1}
}

// SongID returns the song the decoder is set to, or -1.
func (d *Decoder) SongID() int { return d.songID }

// Exhausted reports whether decoding stopped at end of song or on failure.
func (d *Decoder) Exhausted() bool { return d.exhausted }

// SetSong opens song id unless it is already the current song. A failed
// open leaves the decoder exhausted until a different song is set.
func (d *Decoder) SetSong(id int) {
	if id == d.songID {
		return
	}
	d.closeStream()
	d.songID = id
	d.clipIdx = -1
	d.originValid = false
	d.ResetWindow()

	path := d.lib.Filename(id)
	s, err := d.backend.Open(path)
	if err != nil {
		d.logger.Printf("decoder: open song %d (%s): %v", id, path, err)
		d.exhausted = true
		return
	}
	d.stream = s
	d.exhausted = false
}

// SetClip records the clip being streamed. A clip whose song-frame origin
// differs by more than the continuity tolerance restarts the window.
func (d *Decoder) SetClip(idx int, clip timeline.Clip, outSamplesPerBeat float64) {
	origin := float64(clip.FirstFrame) - clip.Start*outSamplesPerBeat
	seamless := d.originValid && math.Abs(origin-d.origin) <= float64(d.cfg.ContinuityTolerance)
	d.clipIdx = idx
	d.origin = origin
	d.originValid = true
	d.preloadFrom = clip.Preload.FirstFrame
	d.preloadEnd = clip.Preload.FirstFrame + clip.Preload.NumFrames
	if seamless {
		return
	}
	d.ResetWindow()
	if d.stream != nil {
		d.exhausted = false
	}
}

// InvalidateClip forgets the clip index after an edit. The next SetClip
// keeps the window only if its origin matches the last clip's.
func (d *Decoder) InvalidateClip() { d.clipIdx = -1 }

// ResetWindow forgets delivery progress so the next Decode starts at the
// wanted frame.
func (d *Decoder) ResetWindow() {
	d.nextValid = false
	d.next = 0
	d.lastWant = 0
}

// Reset drops the song entirely.
func (d *Decoder) Reset() {
	d.closeStream()
	d.songID = -1
	d.clipIdx = -1
	d.originValid = false
	d.exhausted = false
	d.ResetWindow()
}

func (d *Decoder) closeStream() {
	if d.stream == nil {
		return
	}
	if err := d.stream.Close(); err != nil {
		d.logger.Printf("decoder: close song %d: %v", d.songID, err)
	}
	d.stream = nil
	d.posValid = false
}

// Decode returns the next chunk once want is inside the look-ahead window
// of the delivery boundary, or nil when nothing is due.
func (d *Decoder) Decode(want uint64) *Chunk {
	if d.stream == nil || d.exhausted {
		return nil
	}
	chunk := uint64(d.cfg.ChunkFrames)
	if d.nextValid && (want < d.lastWant || want > d.next+chunk) {
		d.ResetWindow()
	}
	if !d.nextValid && want >= d.preloadFrom && want < d.preloadEnd {
		// The clip preload already covers the head.
		d.next = d.preloadEnd
		d.nextValid = true
		d.lastWant = want
	}
	from := want
	if d.nextValid {
		var threshold uint64
		if w := uint64(d.cfg.ChunkWindowFrames); d.next > w {
			threshold = d.next - w
		}
		if want < threshold {
			return nil
		}
		from = d.next
	}

	if !d.posValid || d.pos != from {
		if err := d.stream.Seek(from); err != nil {
			d.logger.Printf("decoder: seek song %d to %d: %v", d.songID, from, err)
			d.exhausted = true
			return nil
		}
		d.pos = from
		d.posValid = true
	}

	c := d.pool.getChunk()
	n, err := d.stream.Read(c.Frames)
	d.pos += uint64(n)
	if err != nil {
		d.logger.Printf("decoder: read song %d at %d: %v", d.songID, from, err)
		d.exhausted = true
	} else if n < d.cfg.ChunkFrames {
		d.exhausted = true
	}
	if n == 0 {
		d.pool.putChunk(c)
		return nil
	}
	c.SongID = d.songID
	c.FirstFrame = from
	c.NumFrames = uint64(n)
	c.Frames = c.Frames[:n*d.cfg.Channels]
	d.next = from + uint64(n)
	d.nextValid = true
	d.lastWant = want
	return c
}
