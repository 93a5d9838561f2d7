package engine

import (
	"fmt"

	"github.com/satindergrewal/beatgrid/internal/msgq"
	"github.com/satindergrewal/beatgrid/internal/timeline"
)

// Chunk is one streamed block of decoded song audio, output domain.
type Chunk struct {
	SongID     int
	FirstFrame uint64
	NumFrames  uint64
	Frames     []float32

	next *Chunk
}

func (c *Chunk) end() uint64 { return c.FirstFrame + c.NumFrames }

type renderKind uint8

const (
	renderClips renderKind = iota + 1
	renderRetiredPreloads
	renderChunk
	renderCurClip
	renderJump
)

// renderMsg travels control -> render. Slices and chunks it carries belong
// to the receiver once pushed.
type renderMsg struct {
	kind     renderKind
	playhead int
	track    int
	clipIdx  int
	beat     float64
	seq      uint64
	clips    []timeline.Clip
	preloads [][]float32
	chunk    *Chunk
}

type ioKind uint8

const (
	ioInsertClip ioKind = iota + 1
	ioEraseRange
	ioJump
	ioJumped
	ioDeleteClips
	ioDeletePreloads
	ioDeleteChunk
	ioEmergencyChunk
)

// ioMsg travels anything -> control.
type ioMsg struct {
	kind       ioKind
	playhead   int
	track      int
	songID     int
	start      float64
	end        float64
	fadeIn     float64
	fadeOut    float64
	pitch      float64
	firstFrame uint64
	beat       float64
	seq        uint64
	clips      []timeline.Clip
	preloads   [][]float32
	chunk      *Chunk
}

// mustPush treats a full pool as a fatal sizing error.
func mustPush[T any](q *msgq.Queue[T], m T) {
	if err := q.Push(m); err != nil {
		panic(fmt.Errorf("engine: configuration overflow, raise PoolCapacity above %d: %w", q.Cap(), err))
	}
}

func validTrack(t int) bool    { return t >= 0 && t < NumTracks }
func validPlayhead(p int) bool { return p >= 0 && p < NumPlayheads }
