// Package hashtable implements a multi-value hash table keyed by 32-bit
// hashes and storing dense element indices.
//
// Buckets hold the most recently added index; each index links to the next
// one of the same bucket. Keys are not stored: callers compare the element
// behind each visited index themselves. Concurrent insertion and lookup are
// phase separated: AddConcurrent may run from many goroutines, but no lookup
// may overlap it.
package hashtable

import (
	"math/bits"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const invalid = ^uint32(0)

// Table is a bucketed index chain.
type Table struct {
	mask uint32
	hash []uint32
	next []uint32
}

// New returns a table with at least hashSize buckets and room for
// indexSize elements. hashSize is rounded up to a power of two.
func New(hashSize, indexSize int) *Table {
	hashSize = max(hashSize, 1)
	size := uint32(1) << bits.Len32(uint32(hashSize-1))
	t := &Table{
		mask: size - 1,
		hash: make([]uint32, size),
		next: make([]uint32, indexSize),
	}
	for i := range t.hash {
		t.hash[i] = invalid
	}
	return t
}

// Add inserts index under key. Not safe for concurrent use.
func (t *Table) Add(key uint32, index uint32) {
	if int(index) >= len(t.next) {
		t.grow(int(index) + 1)
	}
	b := key & t.mask
	t.next[index] = t.hash[b]
	t.hash[b] = index
}

// AddConcurrent inserts index under key with a lock-free push. The index
// capacity must already cover index.
func (t *Table) AddConcurrent(key uint32, index uint32) {
	b := &t.hash[key&t.mask]
	for {
		head := atomic.LoadUint32(b)
		t.next[index] = head
		if atomic.CompareAndSwapUint32(b, head, index) {
			return
		}
	}
}

// ForEach calls fn for every index in the bucket of key until fn returns false.
func (t *Table) ForEach(key uint32, fn func(index uint32) bool) {
	for i := t.hash[key&t.mask]; i != invalid; i = t.next[i] {
		if !fn(i) {
			return
		}
	}
}

func (t *Table) grow(n int) {
	n = max(n, 2*len(t.next))
	next := make([]uint32, n)
	copy(next, t.next)
	t.next = next
}

// Key folds a 64-bit xxhash digest into a table key.
func Key(h uint64) uint32 {
	return uint32(h) ^ uint32(h>>32)
}

// HashBytes hashes raw bytes into a table key.
func HashBytes(b []byte) uint32 {
	return Key(xxhash.Sum64(b))
}
