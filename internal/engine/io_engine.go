package engine

import (
	"log"
	"math"

	"github.com/satindergrewal/beatgrid/internal/audio"
	"github.com/satindergrewal/beatgrid/internal/library"
	"github.com/satindergrewal/beatgrid/internal/msgq"
	"github.com/satindergrewal/beatgrid/internal/timeline"
)

// Stats counts buffers the render side has handed back.
type Stats struct {
	FreedChunks     int
	FreedPreloads   int
	FreedClipArrays int
}

type ioPlayhead struct {
	jumpBeat  float64
	jumping   bool // jump seen this pump, not yet committed
	waitJump  bool // committed, render has not acknowledged every track
	jumpSeq   uint64
	acks      int
	clipDirty [NumTracks]bool
}

// IOEngine is the control side: it owns the authoritative timelines and the
// decoders. HandleAllMsgs and DecodeNextCacheChunks belong to the one
// control thread; InsertClip, EraseRange and JumpPlayhead may be called
// from any goroutine.
type IOEngine struct {
	cfg      Config
	lib      *library.Library
	inbox    *msgq.Queue[ioMsg]
	toRender *msgq.Queue[renderMsg]
	shared   *sharedState
	logger   *log.Logger
	pool     *bufferPool

	tracks     [NumTracks]*timeline.Track
	trackDirty [NumTracks]bool
	decoders   [NumPlayheads][NumTracks]*Decoder
	ph         [NumPlayheads]ioPlayhead
	stats      Stats
	msg        ioMsg
}

func newIOEngine(cfg Config, lib *library.Library, inbox *msgq.Queue[ioMsg], toRender *msgq.Queue[renderMsg], shared *sharedState, backend audio.Backend, logger *log.Logger) *IOEngine {
	e := &IOEngine{
		cfg:      cfg,
		lib:      lib,
		inbox:    inbox,
		toRender: toRender,
		shared:   shared,
		logger:   logger,
		pool:     newBufferPool(cfg.ChunkFrames*cfg.Channels, 64),
	}
	pre := &preloader{cfg: cfg, lib: lib, backend: backend, pool: e.pool, logger: logger}
	for t := range e.tracks {
		e.tracks[t] = timeline.NewTrack(lib, pre)
	}
	for p := range e.decoders {
		for t := range e.decoders[p] {
			e.decoders[p][t] = newDecoder(cfg, lib, backend, e.pool, logger)
		}
	}
	return e
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// InsertClip queues a clip insertion. It reports false, and queues nothing,
// for an invalid track, song or range.
func (e *IOEngine) InsertClip(track int, start, end, fadeIn, fadeOut, pitch float64, firstFrame uint64, songID int) bool {
	if !validTrack(track) || !e.lib.Valid(songID) || !finite(start, end, fadeIn, fadeOut, pitch) {
		return false
	}
	if !(start < end) || fadeIn < 0 || fadeOut < 0 {
		return false
	}
	mustPush(e.inbox, ioMsg{
		kind:       ioInsertClip,
		track:      track,
		songID:     songID,
		start:      start,
		end:        end,
		fadeIn:     fadeIn,
		fadeOut:    fadeOut,
		pitch:      pitch,
		firstFrame: firstFrame,
	})
	return true
}

// EraseRange queues removal of [from,to) on track.
func (e *IOEngine) EraseRange(track int, from, to float64) bool {
	if !validTrack(track) || !finite(from, to) || !(from < to) {
		return false
	}
	mustPush(e.inbox, ioMsg{kind: ioEraseRange, track: track, start: from, end: to})
	return true
}

// JumpPlayhead queues a move of playhead p to beat.
func (e *IOEngine) JumpPlayhead(p int, beat float64) bool {
	if !validPlayhead(p) || !finite(beat) {
		return false
	}
	mustPush(e.inbox, ioMsg{kind: ioJump, playhead: p, beat: beat})
	return true
}

// Stats returns the recycling counters. Control thread only.
func (e *IOEngine) Stats() Stats { return e.stats }

// Track returns the authoritative timeline of track t. Control thread only.
func (e *IOEngine) Track(t int) *timeline.Track {
	if !validTrack(t) {
		return nil
	}
	return e.tracks[t]
}

// Decoder returns the decoder of a pair. Control thread only.
func (e *IOEngine) Decoder(p, t int) *Decoder {
	if !validPlayhead(p) || !validTrack(t) {
		return nil
	}
	return e.decoders[p][t]
}

// WaitingForJump reports whether decode-ahead on p is blocked on a jump
// acknowledgement. Control thread only.
func (e *IOEngine) WaitingForJump(p int) bool {
	return validPlayhead(p) && e.ph[p].waitJump
}

// HandleAllMsgs applies queued edits, jumps and buffer returns, then sends
// the render side fresh snapshots and current-clip indices for whatever
// changed.
func (e *IOEngine) HandleAllMsgs() {
	m := &e.msg
	for e.inbox.Pop(m) {
		switch m.kind {
		case ioInsertClip:
			if e.tracks[m.track].InsertClip(m.start, m.end, m.fadeIn, m.fadeOut, m.songID, m.firstFrame, m.pitch) {
				e.trackDirty[m.track] = true
			}
		case ioEraseRange:
			e.tracks[m.track].EraseRange(m.start, m.end)
			e.trackDirty[m.track] = true
		case ioDeleteClips:
			e.stats.FreedClipArrays++
		case ioDeletePreloads:
			for _, buf := range m.preloads {
				e.pool.putFrames(buf)
				e.stats.FreedPreloads++
			}
		case ioDeleteChunk:
			e.pool.putChunk(m.chunk)
			e.stats.FreedChunks++
		case ioJump:
			e.beginJump(m.playhead, m.beat)
		case ioJumped:
			ps := &e.ph[m.playhead]
			if m.seq == ps.jumpSeq && ps.waitJump {
				ps.acks++
				if ps.acks >= NumTracks {
					ps.waitJump = false
				}
			}
		case ioEmergencyChunk:
			e.decoders[m.playhead][m.track].ResetWindow()
		}
		*m = ioMsg{}
	}

	for t := range e.trackDirty {
		if !e.trackDirty[t] {
			continue
		}
		e.trackDirty[t] = false
		for p := range e.ph {
			e.ph[p].clipDirty[t] = true
			e.shared.waitWant[p][t].Store(true)
			e.decoders[p][t].InvalidateClip()
		}
		mustPush(e.toRender, renderMsg{kind: renderClips, track: t, clips: e.tracks[t].CopyClips()})
		if old := e.tracks[t].DrainRetired(); len(old) > 0 {
			mustPush(e.toRender, renderMsg{kind: renderRetiredPreloads, track: t, preloads: old})
		}
	}

	for p := range e.ph {
		ps := &e.ph[p]
		beat := e.shared.loadBeat(p)
		if ps.jumping {
			beat = ps.jumpBeat
		}
		for t := range ps.clipDirty {
			if !ps.clipDirty[t] {
				continue
			}
			ps.clipDirty[t] = false
			idx := e.tracks[t].IndexAt(beat)
			if ps.jumping {
				mustPush(e.toRender, renderMsg{kind: renderJump, playhead: p, track: t, clipIdx: idx, beat: beat, seq: ps.jumpSeq})
			} else {
				mustPush(e.toRender, renderMsg{kind: renderCurClip, playhead: p, track: t, clipIdx: idx})
			}
		}
		ps.jumping = false
	}
}

func (e *IOEngine) beginJump(p int, beat float64) {
	ps := &e.ph[p]
	ps.jumpSeq++
	ps.jumpBeat = beat
	ps.jumping = true
	ps.waitJump = true
	ps.acks = 0
	for t := range ps.clipDirty {
		ps.clipDirty[t] = true
		e.shared.waitWant[p][t].Store(true)
		e.decoders[p][t].Reset()
	}
}

// DecodeNextCacheChunks streams ahead for one pair, sending every chunk that
// is due to the render side.
func (e *IOEngine) DecodeNextCacheChunks(p, t int) {
	if !validPlayhead(p) || !validTrack(t) {
		return
	}
	tr := e.tracks[t]
	if tr.Len() == 0 || e.ph[p].waitJump || e.shared.waitWant[p][t].Load() {
		return
	}
	idx := int(e.shared.curClip[p][t].Load())
	songID := int(e.shared.curSong[p][t].Load())
	clip, ok := tr.Clip(idx)
	if !ok || clip.SongID != songID {
		return
	}
	song, ok := e.lib.Song(songID)
	if !ok || clip.Length() < 1 {
		return
	}
	beat := e.shared.loadBeat(p)
	if beat < clip.Start || beat >= clip.End {
		return
	}

	d := e.decoders[p][t]
	d.SetSong(songID)
	d.SetClip(idx, clip, song.OutSamplesPerBeat())
	want := e.shared.wantFrame[p][t].Load()
	for {
		c := d.Decode(want)
		if c == nil {
			return
		}
		mustPush(e.toRender, renderMsg{kind: renderChunk, playhead: p, track: t, chunk: c})
	}
}

// Close releases every open decode stream. Control thread only.
func (e *IOEngine) Close() {
	for p := range e.decoders {
		for t := range e.decoders[p] {
			e.decoders[p][t].Reset()
		}
	}
}

// preloader decodes clip heads for the timelines.
type preloader struct {
	cfg     Config
	lib     *library.Library
	backend audio.Backend
	pool    *bufferPool
	logger  *log.Logger
}

func (pl *preloader) Preload(songID int, firstFrame uint64) timeline.Preload {
	path := pl.lib.Filename(songID)
	s, err := pl.backend.Open(path)
	if err != nil {
		pl.logger.Printf("preload: open song %d (%s): %v", songID, path, err)
		return timeline.Preload{}
	}
	defer s.Close()
	if err := s.Seek(firstFrame); err != nil {
		pl.logger.Printf("preload: seek song %d to %d: %v", songID, firstFrame, err)
		return timeline.Preload{}
	}
	buf := pl.pool.getFrames(pl.cfg.PreloadFrames * pl.cfg.Channels)
	n, err := s.Read(buf)
	if err != nil {
		pl.logger.Printf("preload: read song %d at %d: %v", songID, firstFrame, err)
	}
	if n <= 0 {
		pl.pool.putFrames(buf)
		return timeline.Preload{}
	}
	return timeline.Preload{FirstFrame: firstFrame, NumFrames: uint64(n), Frames: buf[:n*pl.cfg.Channels]}
}
