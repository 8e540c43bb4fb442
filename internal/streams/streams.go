// Package streams allocates CQL stream ids for a single connection.
//
// Stream 0 is reserved and never handed out; negative ids belong to server
// pushed events.
package streams

import (
	"math/bits"
	"sync/atomic"
)

const bucketBits = 64

// Allocator hands out stream ids in [1, size). It is safe for concurrent use.
//
// An id is returned by Acquire only after a Release for its previous use,
// so at most one request owns a given id at any time.
type Allocator struct {
	size    int
	buckets []atomic.Uint64
	offset  atomic.Uint32
	inUse   atomic.Int32
}

// New creates an allocator for size stream ids (128 for protocol v2,
// 32768 for v3 and later).
//
// Parameters:
//   - size: Number of stream ids, including the reserved id 0
//
// Returns:
//   - *Allocator: A new allocator
func New(size int) *Allocator {
	if size < 2 {
		size = 2
	}

	n := (size + bucketBits - 1) / bucketBits
	a := &Allocator{
		size:    size,
		buckets: make([]atomic.Uint64, n),
	}

	// id 0 is reserved
	a.buckets[0].Store(1)

	// ids past size in the last bucket are permanently taken
	if rem := size % bucketBits; rem != 0 {
		last := &a.buckets[n-1]
		last.Store(last.Load() | ^uint64(0)<<uint(rem))
	}

	return a
}

// Acquire reserves a free stream id.
//
// Returns:
//   - int: The reserved id
//   - bool: false when every id is in use
func (a *Allocator) Acquire() (int, bool) {
	n := len(a.buckets)
	start := int(a.offset.Add(1) % uint32(n))

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		bucket := &a.buckets[idx]

		for {
			cur := bucket.Load()
			if cur == ^uint64(0) {
				break
			}

			bit := bits.TrailingZeros64(^cur)
			if bucket.CompareAndSwap(cur, cur|1<<uint(bit)) {
				a.inUse.Add(1)

				return idx*bucketBits + bit, true
			}
		}
	}

	return 0, false
}

// Release frees a stream id.
//
// Returns:
//   - bool: false if the id was not in use or is out of range
func (a *Allocator) Release(id int) bool {
	if id <= 0 || id >= a.size {
		return false
	}

	bucket := &a.buckets[id/bucketBits]
	mask := uint64(1) << uint(id%bucketBits)

	for {
		cur := bucket.Load()
		if cur&mask == 0 {
			return false
		}
		if bucket.CompareAndSwap(cur, cur&^mask) {
			a.inUse.Add(-1)

			return true
		}
	}
}

// IsInUse reports whether id is currently reserved.
func (a *Allocator) IsInUse(id int) bool {
	if id <= 0 || id >= a.size {
		return false
	}

	return a.buckets[id/bucketBits].Load()&(uint64(1)<<uint(id%bucketBits)) != 0
}

// InUse returns the number of reserved ids.
func (a *Allocator) InUse() int {
	return int(a.inUse.Load())
}

// Capacity returns the number of ids that can be handed out.
func (a *Allocator) Capacity() int {
	return a.size - 1
}

// Available returns the number of free ids.
func (a *Allocator) Available() int {
	return a.Capacity() - a.InUse()
}
