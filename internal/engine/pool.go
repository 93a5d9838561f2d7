package engine

// bufferPool recycles sample buffers handed back by the render side.
// Control side only.
type bufferPool struct {
	frameLen int // floats per chunk buffer
	chunks   []*Chunk
	frames   [][]float32
	limit    int
}

func newBufferPool(chunkFloats, limit int) *bufferPool {
	return &bufferPool{frameLen: chunkFloats, limit: limit}
}

func (p *bufferPool) getChunk() *Chunk {
	if n := len(p.chunks); n > 0 {
		c := p.chunks[n-1]
		p.chunks[n-1] = nil
		p.chunks = p.chunks[:n-1]
		return c
	}
	return &Chunk{Frames: make([]float32, p.frameLen)}
}

func (p *bufferPool) putChunk(c *Chunk) {
	if c == nil || cap(c.Frames) < p.frameLen || len(p.chunks) >= p.limit {
		return
	}
	*c = Chunk{Frames: c.Frames[:p.frameLen]}
	p.chunks = append(p.chunks, c)
}

// getFrames returns a buffer of exactly n floats.
func (p *bufferPool) getFrames(n int) []float32 {
	for i := len(p.frames) - 1; i >= 0; i-- {
		if cap(p.frames[i]) >= n {
			buf := p.frames[i][:n]
			last := len(p.frames) - 1
			p.frames[i] = p.frames[last]
			p.frames[last] = nil
			p.frames = p.frames[:last]
			return buf
		}
	}
	return make([]float32, n)
}

func (p *bufferPool) putFrames(buf []float32) {
	if cap(buf) == 0 || len(p.frames) >= p.limit {
		return
	}
	p.frames = append(p.frames, buf[:0])
}
