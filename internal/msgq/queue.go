// Package msgq is a lock-free multi-producer, single-consumer message queue
// over a fixed pool of pre-allocated nodes.
//
// Push never allocates: a producer takes a node from the pool's free list,
// fills it and links it in. The single consumer copies the value out and
// returns the node to the pool. Running out of nodes is reported as
// ErrPoolExhausted rather than growing the pool.
package msgq

import (
	"errors"
	"sync/atomic"
)

// ErrPoolExhausted is returned by Push when every node in the pool is in flight.
var ErrPoolExhausted = errors.New("msgq: message pool exhausted")

const nilIndex = ^uint32(0)

type node[T any] struct {
	next     atomic.Uint32 // queue link, written by producers
	freeNext atomic.Uint32 // free-list link
	val      T
}

// Queue is an intrusive MPSC queue (Vyukov) whose links are indices into a
// node arena. The free list is a Treiber stack with a generation tag in the
// upper 32 bits of its head to rule out ABA.
type Queue[T any] struct {
	nodes []node[T]
	stub  uint32

	free  atomic.Uint64
	head  atomic.Uint32
	inUse atomic.Int64

	tail uint32 // consumer only
}

// New creates a queue backed by capacity pre-allocated nodes.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		nodes: make([]node[T], capacity+1),
		stub:  uint32(capacity),
	}
	for i := 0; i < capacity; i++ {
		next := uint32(i + 1)
		if i == capacity-1 {
			next = nilIndex
		}
		q.nodes[i].freeNext.Store(next)
	}
	q.free.Store(pack(0, 0))
	q.nodes[q.stub].next.Store(nilIndex)
	q.head.Store(q.stub)
	q.tail = q.stub
	return q
}

// Cap returns the number of messages that can be in flight at once.
func (q *Queue[T]) Cap() int { return len(q.nodes) - 1 }

// InUse returns the number of nodes currently taken from the pool.
func (q *Queue[T]) InUse() int { return int(q.inUse.Load()) }

// Push enqueues v. Safe for concurrent use by any number of producers.
// The caller gives up ownership of anything v references.
func (q *Queue[T]) Push(v T) error {
	idx, ok := q.alloc()
	if !ok {
		return ErrPoolExhausted
	}
	q.nodes[idx].val = v
	q.link(idx)
	return nil
}

// Pop dequeues the oldest message into v and reports whether one was
// available. Only one goroutine may call Pop at a time.
//
// Pop can report false while a producer is halfway through a Push; that
// message is seen on a later call.
func (q *Queue[T]) Pop(v *T) bool {
	tail := q.tail
	next := q.nodes[tail].next.Load()
	if tail == q.stub {
		if next == nilIndex {
			return false
		}
		q.tail = next
		tail = next
		next = q.nodes[next].next.Load()
	}
	if next != nilIndex {
		q.tail = next
		q.take(tail, v)
		return true
	}
	if tail != q.head.Load() {
		return false
	}
	q.link(q.stub)
	next = q.nodes[tail].next.Load()
	if next != nilIndex {
		q.tail = next
		q.take(tail, v)
		return true
	}
	return false
}

func (q *Queue[T]) link(idx uint32) {
	q.nodes[idx].next.Store(nilIndex)
	prev := q.head.Swap(idx)
	q.nodes[prev].next.Store(idx)
}

func (q *Queue[T]) take(idx uint32, v *T) {
	var zero T
	*v = q.nodes[idx].val
	q.nodes[idx].val = zero
	q.release(idx)
}

func (q *Queue[T]) alloc() (uint32, bool) {
	for {
		old := q.free.Load()
		idx := uint32(old)
		if idx == nilIndex {
			return 0, false
		}
		next := q.nodes[idx].freeNext.Load()
		if q.free.CompareAndSwap(old, pack(uint32(old>>32)+1, next)) {
			q.inUse.Add(1)
			return idx, true
		}
	}
}

func (q *Queue[T]) release(idx uint32) {
	q.inUse.Add(-1)
	for {
		old := q.free.Load()
		q.nodes[idx].freeNext.Store(uint32(old))
		if q.free.CompareAndSwap(old, pack(uint32(old>>32)+1, idx)) {
			return
		}
	}
}

func pack(tag, idx uint32) uint64 {
	return uint64(tag)<<32 | uint64(idx)
}
