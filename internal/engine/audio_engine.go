package engine

import (
	"math"
	"sync/atomic"

	"github.com/satindergrewal/beatgrid/internal/audio"
	"github.com/satindergrewal/beatgrid/internal/library"
	"github.com/satindergrewal/beatgrid/internal/msgq"
	"github.com/satindergrewal/beatgrid/internal/stretch"
	"github.com/satindergrewal/beatgrid/internal/timeline"
)

// AudioEngine is the render side. HandleAllMsgs, Pull and
// PullDoneAdvancePlayhead must all be called from the one render thread;
// SetBPM and the read queries are safe from anywhere.
type AudioEngine struct {
	cfg    Config
	lib    *library.Library
	inbox  *msgq.Queue[renderMsg]
	toIO   *msgq.Queue[ioMsg]
	shared *sharedState

	bpm        float64 // applied tempo, render thread only
	pendingBPM atomic.Uint64

	tracks    [NumTracks][]timeline.Clip
	cur       [NumPlayheads][NumTracks]int
	playheads [NumPlayheads]*Playhead
	msg       renderMsg
}

func newAudioEngine(cfg Config, lib *library.Library, inbox *msgq.Queue[renderMsg], toIO *msgq.Queue[ioMsg], shared *sharedState, newStretcher stretch.Factory) *AudioEngine {
	a := &AudioEngine{
		cfg:    cfg,
		lib:    lib,
		inbox:  inbox,
		toIO:   toIO,
		shared: shared,
		bpm:    shared.loadBPM(),
	}
	for p := range a.playheads {
		a.playheads[p] = newPlayhead(p, cfg, shared, toIO, newStretcher)
	}
	return a
}

// SetBPM schedules a tempo change; the next HandleAllMsgs applies it.
func (a *AudioEngine) SetBPM(bpm float64) {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return
	}
	a.pendingBPM.Store(math.Float64bits(bpm))
}

// BPM returns the applied master tempo.
func (a *AudioEngine) BPM() float64 { return a.shared.loadBPM() }

// Beat returns the position of playhead p, or 0 for an invalid index.
func (a *AudioEngine) Beat(p int) float64 {
	if !validPlayhead(p) {
		return 0
	}
	return a.shared.loadBeat(p)
}

// CurClipIdx returns the clip playhead p last rendered on track t, or -1.
func (a *AudioEngine) CurClipIdx(p, t int) int {
	if !validPlayhead(p) || !validTrack(t) {
		return -1
	}
	return int(a.shared.curClip[p][t].Load())
}

// CurSongID returns the song playhead p last rendered on track t, or -1.
func (a *AudioEngine) CurSongID(p, t int) int {
	if !validPlayhead(p) || !validTrack(t) {
		return -1
	}
	return int(a.shared.curSong[p][t].Load())
}

// State reports the continuity state of a pair. Render thread only.
func (a *AudioEngine) State(p, t int) State {
	if !validPlayhead(p) || !validTrack(t) {
		return StateIdle
	}
	return a.playheads[p].state(t)
}

// CachedChunks returns the number of chunks queued for a pair. Render
// thread only.
func (a *AudioEngine) CachedChunks(p, t int) int {
	if !validPlayhead(p) || !validTrack(t) {
		return 0
	}
	return a.playheads[p].tracks[t].chunks
}

// HandleAllMsgs applies a pending tempo and every queued message. It must
// run at the start of each render period.
func (a *AudioEngine) HandleAllMsgs() {
	if bits := a.pendingBPM.Swap(0); bits != 0 {
		a.bpm = math.Float64frombits(bits)
		a.shared.bpm.Store(bits)
	}

	m := &a.msg
	for a.inbox.Pop(m) {
		switch m.kind {
		case renderClips:
			old := a.tracks[m.track]
			a.tracks[m.track] = m.clips
			if old != nil {
				mustPush(a.toIO, ioMsg{kind: ioDeleteClips, track: m.track, clips: old})
			}
		case renderRetiredPreloads:
			mustPush(a.toIO, ioMsg{kind: ioDeletePreloads, track: m.track, preloads: m.preloads})
		case renderChunk:
			if a.chunkWanted(m.playhead, m.track, m.chunk) {
				a.playheads[m.playhead].receiveChunk(m.track, m.chunk)
			} else {
				mustPush(a.toIO, ioMsg{kind: ioDeleteChunk, playhead: m.playhead, track: m.track, chunk: m.chunk})
			}
		case renderCurClip:
			a.setCur(m.playhead, m.track, m.clipIdx)
		case renderJump:
			a.playheads[m.playhead].jump(m.seq, m.beat)
			a.setCur(m.playhead, m.track, m.clipIdx)
			mustPush(a.toIO, ioMsg{kind: ioJumped, playhead: m.playhead, track: m.track, seq: m.seq})
		}
		*m = renderMsg{}
	}
}

// chunkWanted drops chunks decoded for a song the pair has since left.
func (a *AudioEngine) chunkWanted(p, t int, c *Chunk) bool {
	pt := &a.playheads[p].tracks[t]
	return pt.clipIdx >= 0 && c.SongID == pt.songID
}

func (a *AudioEngine) setCur(p, t, idx int) {
	clips := a.tracks[t]
	if idx < 0 || idx >= len(clips) {
		a.cur[p][t] = 0
		a.playheads[p].setCurClip(t, -1, -1, 0)
		return
	}
	a.cur[p][t] = idx
	c := &clips[idx]
	song, _ := a.lib.Song(c.SongID)
	a.playheads[p].setCurClip(t, idx, c.SongID, clipOrigin(c, song))
}

// clipOrigin is the output-domain song frame a clip would play at beat 0.
func clipOrigin(c *timeline.Clip, song library.Song) float64 {
	return float64(c.FirstFrame) - c.Start*song.OutSamplesPerBeat()
}

func (a *AudioEngine) samplesPerBeat() float64 {
	return library.SamplesPerBeat(a.bpm, float64(a.cfg.SampleRate))
}

// updateCurClipIdx moves the cached index to the last clip starting at or
// before beat. It only walks backwards when the index has gone stale.
func (a *AudioEngine) updateCurClipIdx(p, t int, beat float64) int {
	clips := a.tracks[t]
	i := a.cur[p][t]
	if i < 0 || i >= len(clips) || clips[i].Start > beat {
		i = 0
	}
	for i+1 < len(clips) && clips[i+1].Start <= beat {
		i++
	}
	a.cur[p][t] = i
	return i
}

// Pull renders frames interleaved frames of track t at playhead p into
// dest. Clips are time-stretched to the master tempo and faded; anything
// outside a clip is silence.
func (a *AudioEngine) Pull(p, t int, dest []float32, frames int) {
	ch := a.cfg.Channels
	if n := len(dest) / ch; frames > n {
		frames = n
	}
	if frames <= 0 {
		return
	}
	dest = dest[:frames*ch]
	if !validPlayhead(p) || !validTrack(t) || len(a.tracks[t]) == 0 {
		clear(dest)
		return
	}

	ph := a.playheads[p]
	clips := a.tracks[t]
	spb := a.samplesPerBeat()
	bpf := 1 / spb
	firstBeat := ph.Beat()
	lastBeat := firstBeat + float64(frames)*bpf

	i := a.updateCurClipIdx(p, t, firstBeat)
	if clips[i].End <= firstBeat {
		i++
	}

	pos := 0
	for ; i < len(clips) && clips[i].Start < lastBeat; i++ {
		clip := &clips[i]
		cFirst := math.Max(firstBeat, clip.Start)
		cLast := math.Min(lastBeat, clip.End)
		if cLast <= cFirst {
			continue
		}
		off0 := clampFrames(library.BeatsToFrames(cFirst-firstBeat, spb), frames)
		off1 := clampFrames(library.BeatsToFrames(cLast-firstBeat, spb), frames)
		if off0 < pos {
			off0 = pos
		}
		if off1 <= off0 {
			continue
		}
		clear(dest[pos*ch : off0*ch])

		seg := dest[off0*ch : off1*ch]
		song, ok := a.lib.Song(clip.SongID)
		if !ok {
			clear(seg)
			pos = off1
			continue
		}
		songFirst := clip.FirstFrame + song.BeatsToOutSamples(cFirst-clip.Start)
		songNext := clip.FirstFrame + song.BeatsToOutSamples(cLast-clip.Start)
		a.cur[p][t] = i
		ph.pullStretch(t, i, clip, clipOrigin(clip, song), a.bpm/song.BPM, seg, songFirst, off1-off0, songNext)

		segBeat := firstBeat + float64(off0)*bpf
		applyClipFades(seg, ch, clip, segBeat, bpf)
		pos = off1
	}
	clear(dest[pos*ch:])
}

func applyClipFades(seg []float32, ch int, clip *timeline.Clip, segBeat, bpf float64) {
	n := len(seg) / ch
	if clip.FadeIn > 0 && segBeat < clip.Start+clip.FadeIn {
		m := int(math.Ceil((clip.Start + clip.FadeIn - segBeat) / bpf))
		if m > n {
			m = n
		}
		audio.ApplyFade(seg[:m*ch], ch, (segBeat-clip.Start)/clip.FadeIn, bpf/clip.FadeIn)
	}
	if clip.FadeOut > 0 {
		fadeStart := clip.End - clip.FadeOut
		k0 := 0
		if fadeStart > segBeat {
			k0 = int(math.Ceil((fadeStart - segBeat) / bpf))
		}
		if k0 < n {
			beatK0 := segBeat + float64(k0)*bpf
			audio.ApplyFade(seg[k0*ch:], ch, (clip.End-beatK0)/clip.FadeOut, -bpf/clip.FadeOut)
		}
	}
}

func clampFrames(v uint64, max int) int {
	if v > uint64(max) {
		return max
	}
	return int(v)
}

// PullDoneAdvancePlayhead moves playhead p forward by frames at the current
// tempo. Call once per period, after that playhead's pulls.
func (a *AudioEngine) PullDoneAdvancePlayhead(p, frames int) {
	if !validPlayhead(p) || frames <= 0 {
		return
	}
	a.playheads[p].advance(float64(frames) / a.samplesPerBeat())
}
