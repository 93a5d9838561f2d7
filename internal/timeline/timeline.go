// Package timeline holds the authoritative clip arrangement of one track.
//
// A Track is owned by the control side. The render side only ever sees
// copies made with CopyClips, which are never mutated afterwards.
package timeline

import "sort"

// Preload is the eagerly decoded head of a clip, in the output domain.
type Preload struct {
	FirstFrame uint64
	NumFrames  uint64
	Frames     []float32 // interleaved
}

// Contains reports whether frame lies inside the preload window.
func (p Preload) Contains(frame uint64) bool {
	return p.NumFrames > 0 && frame >= p.FirstFrame && frame < p.FirstFrame+p.NumFrames
}

// Read copies up to frames frames starting at from into dst and returns how
// many were copied.
func (p Preload) Read(dst []float32, from uint64, frames, channels int) int {
	if !p.Contains(from) || frames <= 0 {
		return 0
	}
	off := from - p.FirstFrame
	n := p.NumFrames - off
	if uint64(frames) < n {
		n = uint64(frames)
	}
	copy(dst[:int(n)*channels], p.Frames[int(off)*channels:int(off+n)*channels])
	return int(n)
}

// Clip places a slice of a song on the beat timeline.
type Clip struct {
	Start   float64 // beats, inclusive
	End     float64 // beats, exclusive
	FadeIn  float64 // beats
	FadeOut float64 // beats
	Pitch   float64 // semitones
	SongID  int

	// FirstFrame is the output-domain song frame heard at Start.
	FirstFrame uint64
	Preload    Preload

	// Where the clip was inserted. Trims and splits keep the anchor so
	// FirstFrame is always one rounding away from it.
	AnchorBeat  float64
	AnchorFrame uint64
}

// Length returns the clip length in beats.
func (c Clip) Length() float64 { return c.End - c.Start }

// Converter maps song positions into the output domain.
type Converter interface {
	NativeToOut(songID int, frames uint64) uint64
	BeatsToOutSamples(songID int, beats float64) uint64
}

// Preloader decodes the head of a song starting at an output-domain frame.
// A failed decode returns an empty Preload.
type Preloader interface {
	Preload(songID int, firstFrame uint64) Preload
}

// Track is a sorted list of non-overlapping clips.
type Track struct {
	conv      Converter
	preloader Preloader
	clips     []Clip
	retired   [][]float32
}

// NewTrack creates an empty track.
func NewTrack(conv Converter, preloader Preloader) *Track {
	return &Track{conv: conv, preloader: preloader}
}

// Len returns the number of clips.
func (t *Track) Len() int { return len(t.clips) }

// Clip returns clip i.
func (t *Track) Clip(i int) (Clip, bool) {
	if i < 0 || i >= len(t.clips) {
		return Clip{}, false
	}
	return t.clips[i], true
}

// InsertClip clears [start,end) and places a new clip there. firstFrame is
// in the song's native domain and is converted once, here. Returns false and
// leaves the track untouched when start >= end.
func (t *Track) InsertClip(start, end, fadeIn, fadeOut float64, songID int, firstFrame uint64, pitch float64) bool {
	if !(start < end) {
		return false
	}
	t.EraseRange(start, end)

	ff := t.conv.NativeToOut(songID, firstFrame)
	c := Clip{
		Start:      start,
		End:        end,
		FadeIn:     fadeIn,
		FadeOut:    fadeOut,
		Pitch:      pitch,
		SongID:     songID,
		FirstFrame:  ff,
		Preload:     t.preloader.Preload(songID, ff),
		AnchorBeat:  start,
		AnchorFrame: ff,
	}

	i := sort.Search(len(t.clips), func(i int) bool { return t.clips[i].Start >= end })
	t.clips = append(t.clips, Clip{})
	copy(t.clips[i+1:], t.clips[i:])
	t.clips[i] = c
	return true
}

// EraseRange removes everything in [from,to), trimming clips that straddle
// either bound. A range strictly inside one clip splits it in two; the left
// half keeps the original preload.
func (t *Track) EraseRange(from, to float64) {
	if !(from < to) {
		return
	}
	for i := 0; i < len(t.clips); {
		c := &t.clips[i]
		if c.End <= from {
			i++
			continue
		}
		if c.Start >= to {
			return
		}

		coversStart := from <= c.Start
		coversEnd := to >= c.End
		switch {
		case coversStart && coversEnd:
			t.retire(c.Preload)
			t.clips = append(t.clips[:i], t.clips[i+1:]...)
		case coversEnd:
			c.End = from
			i++
		case coversStart:
			t.retire(t.trimHead(c, to))
			return
		default:
			right := *c
			c.End = from
			t.trimHead(&right, to) // left half still owns the old preload
			t.clips = append(t.clips, Clip{})
			copy(t.clips[i+2:], t.clips[i+1:])
			t.clips[i+1] = right
			return
		}
	}
}

// trimHead moves c's start to newStart, deriving its first frame from the
// anchor and decoding a fresh preload. It returns the preload it replaced.
func (t *Track) trimHead(c *Clip, newStart float64) Preload {
	c.FirstFrame = c.AnchorFrame + t.conv.BeatsToOutSamples(c.SongID, newStart-c.AnchorBeat)
	c.Start = newStart
	old := c.Preload
	c.Preload = t.preloader.Preload(c.SongID, c.FirstFrame)
	return old
}

func (t *Track) retire(p Preload) {
	if p.Frames != nil {
		t.retired = append(t.retired, p.Frames)
	}
}

// IndexAt returns the last clip starting at or before beat, 0 when beat
// precedes every clip, or -1 for an empty track.
func (t *Track) IndexAt(beat float64) int {
	if len(t.clips) == 0 {
		return -1
	}
	i := sort.Search(len(t.clips), func(i int) bool { return t.clips[i].Start > beat })
	if i == 0 {
		return 0
	}
	return i - 1
}

// CopyClips returns a snapshot of the clip list that the track will never
// touch again.
func (t *Track) CopyClips() []Clip {
	out := make([]Clip, len(t.clips))
	copy(out, t.clips)
	return out
}

// DrainRetired hands over the preload buffers retired since the last call.
func (t *Track) DrainRetired() [][]float32 {
	r := t.retired
	t.retired = nil
	return r
}
