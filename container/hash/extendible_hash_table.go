package hash

import (
	"sync"

	"github.com/spaolacci/murmur3"
	"github.com/vmihailenco/msgpack"
)

// ExtendibleHashTable maps keys to values through a directory of 2^globalDepth
// bucket pointers. Buckets split when full; the directory doubles when a full
// bucket is already at global depth. Buckets are never merged.
func NewExtendibleHashTable[K comparable, V any](bucketSize int) *ExtendibleHashTable[K, V] {
	table := &ExtendibleHashTable[K, V]{
		globalDepth: 0,
		bucketSize:  bucketSize,
		numBuckets:  1,
		hashFn:      hashKey[K],
	}
	table.dir = append(table.dir, newBucket[K, V](bucketSize, 0))

	return table
}

func (h *ExtendibleHashTable[K, V]) Find(key K) (V, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.dir[h.indexOf(key)].find(key)
}

func (h *ExtendibleHashTable[K, V]) Insert(key K, value V) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.insertInternal(key, value)
}

func (h *ExtendibleHashTable[K, V]) Remove(key K) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.dir[h.indexOf(key)].remove(key)
}

func (h *ExtendibleHashTable[K, V]) GlobalDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.globalDepth
}

func (h *ExtendibleHashTable[K, V]) LocalDepth(dirIndex int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.dir[dirIndex].localDepth
}

func (h *ExtendibleHashTable[K, V]) NumBuckets() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.numBuckets
}

// indexOf is the low globalDepth bits of the key's hash. Callers hold the latch.
func (h *ExtendibleHashTable[K, V]) indexOf(key K) uint64 {
	mask := uint64(1)<<h.globalDepth - 1
	return h.hashFn(key) & mask
}

func (h *ExtendibleHashTable[K, V]) insertInternal(key K, value V) {
	target := h.dir[h.indexOf(key)]
	if target.insert(key, value) {
		return
	}

	// bucket is full but below global depth, a local split is enough
	if target.localDepth < h.globalDepth {
		h.splitBucket(target)
		h.insertInternal(key, value)
		return
	}

	// bucket is full at global depth, double the directory first
	oldMask := uint64(1)<<h.globalDepth - 1
	h.globalDepth += 1

	newDir := make([]*bucket[K, V], 1<<h.globalDepth)
	for i := range newDir {
		newDir[i] = h.dir[uint64(i)&oldMask]
	}
	h.dir = newDir

	h.splitBucket(target)
	h.insertInternal(key, value)
}

// splitBucket replaces target with two buckets one level deeper, partitioning
// its entries by the new depth bit. Callers hold the latch.
func (h *ExtendibleHashTable[K, V]) splitBucket(target *bucket[K, V]) {
	newDepth := target.localDepth + 1
	baseMask := uint64(1)<<target.localDepth - 1
	splitMask := uint64(1)<<newDepth - 1

	first := newBucket[K, V](h.bucketSize, newDepth)
	second := newBucket[K, V](h.bucketSize, newDepth)

	lowIndex := h.hashFn(target.entries[0].key) & baseMask
	for _, e := range target.entries {
		if h.hashFn(e.key)&splitMask == lowIndex {
			first.entries = append(first.entries, e)
		} else {
			second.entries = append(second.entries, e)
		}
	}

	for i := range h.dir {
		if uint64(i)&baseMask != lowIndex {
			continue
		}

		if uint64(i)&splitMask == lowIndex {
			h.dir[i] = first
		} else {
			h.dir[i] = second
		}
	}

	h.numBuckets += 1
}

func newBucket[K comparable, V any](size, depth int) *bucket[K, V] {
	return &bucket[K, V]{size: size, localDepth: depth}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}

	var zero V
	return zero, false
}

// insert upserts and reports false when the bucket is full.
func (b *bucket[K, V]) insert(key K, value V) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries[i].value = value
			return true
		}
	}

	if len(b.entries) >= b.size {
		return false
	}

	b.entries = append(b.entries, entry[K, V]{key: key, value: value})
	return true
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}

	return false
}

func hashKey[K any](key K) uint64 {
	data, err := msgpack.Marshal(key)
	if err != nil {
		panic("unhashable key type")
	}

	return murmur3.Sum64(data)
}

type ExtendibleHashTable[K comparable, V any] struct {
	mu          sync.Mutex
	globalDepth int
	bucketSize  int
	numBuckets  int
	dir         []*bucket[K, V]
	hashFn      func(K) uint64
}

type bucket[K comparable, V any] struct {
	entries    []entry[K, V]
	size       int
	localDepth int
}

type entry[K comparable, V any] struct {
	key   K
	value V
}
