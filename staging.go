package rhi

import (
	"fmt"
	"math/bits"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Staging block size classes run from 1<<minStagingShift to
// 1<<maxStagingShift bytes. Larger requests get an exact-size block that is
// not pooled.
const (
	minStagingShift = 10
	maxStagingShift = 24
)

// stagingPool hands out scratch blocks for buffer updates too large to be
// stored inline in an entry list.
//
// The pool enforces a byte budget with a weighted semaphore. Acquisition
// never blocks: a request that does not fit fails with ErrStagingFull.
type stagingPool struct {
	budget   *semaphore.Weighted
	capacity int64
	classes  [maxStagingShift - minStagingShift + 1]sync.Pool

	mu    sync.Mutex
	inUse int64
}

// stagingBlock is a pooled scratch allocation captured by an entry list.
type stagingBlock struct {
	pool   *stagingPool
	data   []byte
	weight int64
	class  int // -1 when not pooled
}

func newStagingPool(capacity int64) *stagingPool {
	return &stagingPool{
		budget:   semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// sizeClass returns the pool index and rounded size for n bytes.
func sizeClass(n int) (class int, size int) {
	if n <= 1<<minStagingShift {
		return 0, 1 << minStagingShift
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxStagingShift {
		return -1, n
	}
	return shift - minStagingShift, 1 << shift
}

// acquire returns a block holding a copy of data.
func (p *stagingPool) acquire(data []byte) (*stagingBlock, error) {
	class, size := sizeClass(len(data))
	weight := int64(size)
	if !p.budget.TryAcquire(weight) {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrStagingFull, len(data), p.used(), p.capacity)
	}

	p.mu.Lock()
	p.inUse += weight
	p.mu.Unlock()

	var buf []byte
	if class >= 0 {
		if v, ok := p.classes[class].Get().(*[]byte); ok {
			buf = *v
		}
	}
	if buf == nil {
		buf = make([]byte, size)
	}
	n := copy(buf[:len(data)], data)
	return &stagingBlock{pool: p, data: buf[:n], weight: weight, class: class}, nil
}

// release returns b to its pool and its bytes to the budget. Releasing a
// block twice is a no-op.
func (b *stagingBlock) release() {
	if b == nil || b.pool == nil {
		return
	}
	p := b.pool
	b.pool = nil

	if b.class >= 0 {
		buf := b.data[:cap(b.data)]
		p.classes[b.class].Put(&buf)
	}
	b.data = nil

	p.mu.Lock()
	p.inUse -= b.weight
	p.mu.Unlock()
	p.budget.Release(b.weight)
}

// used returns the bytes currently held by live blocks.
func (p *stagingPool) used() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// inlineArena is a bump allocator owned by one entry list. Small update
// payloads are copied into it so the caller's slice may be reused at once.
// Chunks are never reallocated, so slices handed out stay valid.
type inlineArena struct {
	chunks [][]byte
	cur    []byte
	size   int
}

const inlineChunkSize = 4 << 10

// copyBytes returns a copy of data allocated from the arena.
func (a *inlineArena) copyBytes(data []byte) []byte {
	n := len(data)
	if n == 0 {
		return nil
	}
	if cap(a.cur)-len(a.cur) < n {
		size := inlineChunkSize
		if n > size {
			size = n
		}
		a.cur = make([]byte, 0, size)
		a.chunks = append(a.chunks, a.cur)
	}
	start := len(a.cur)
	a.cur = append(a.cur, data...)
	a.size += n
	return a.cur[start:len(a.cur):len(a.cur)]
}

// bytes returns the number of payload bytes held.
func (a *inlineArena) bytes() int { return a.size }

// reset drops all chunks.
func (a *inlineArena) reset() {
	a.chunks = nil
	a.cur = nil
	a.size = 0
}
