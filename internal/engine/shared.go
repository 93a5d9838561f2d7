package engine

import (
	"math"
	"sync/atomic"
)

// sharedState is the lock-free view both sides read. Each field has a single
// writer: beats, clip/song ids and cursors are written by the render side,
// waitWant is raised by the control side and lowered by the render side.
type sharedState struct {
	bpm       atomic.Uint64
	beat      [NumPlayheads]atomic.Uint64
	curClip   [NumPlayheads][NumTracks]atomic.Int64
	curSong   [NumPlayheads][NumTracks]atomic.Int64
	wantFrame [NumPlayheads][NumTracks]atomic.Uint64
	waitWant  [NumPlayheads][NumTracks]atomic.Bool
}

func newSharedState(bpm float64) *sharedState {
	s := &sharedState{}
	s.bpm.Store(math.Float64bits(bpm))
	for p := 0; p < NumPlayheads; p++ {
		for t := 0; t < NumTracks; t++ {
			s.curClip[p][t].Store(-1)
			s.curSong[p][t].Store(-1)
		}
	}
	return s
}

func (s *sharedState) loadBeat(p int) float64 {
	return math.Float64frombits(s.beat[p].Load())
}

func (s *sharedState) storeBeat(p int, beat float64) {
	s.beat[p].Store(math.Float64bits(beat))
}

func (s *sharedState) loadBPM() float64 {
	return math.Float64frombits(s.bpm.Load())
}
