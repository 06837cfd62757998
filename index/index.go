// Package index provides the ordered key-value store the rest of Spitfire
// treats as an opaque external collaborator (spec.md §1: "the B+-tree index
// implementation (consumed as an opaque ordered key-value store)"). The
// operation shape — Insert with a predicate, Delete, LookupForUpdate, a
// Get, and RangeScan — is adapted from the teacher's BLTree API
// (bltree.go: InsertKey/DeleteKey/FindKey/RangeScan), but the underlying
// structure is a single sorted slice guarded by one sync.RWMutex rather than
// a paged B+-tree: the B+-tree's physical page layout is explicitly out of
// scope (spec.md §1), and the missing low-level node/latch scaffolding
// referenced by bltree.go (Page, Latchs, HashEntry, Uid, ...) was never
// present in the retrieved teacher slice (see DESIGN.md).
package index

import (
	"sort"
	"sync"
)

// Ordered is the key constraint: any type with a well-defined total order
// via Less, matching the teacher's byte-slice key comparisons generalized
// to Go generics (spec.md §1 "generalized with Go generics").
type Ordered interface {
	Less(other any) bool
	Equal(other any) bool
}

// Index is a concurrent ordered key-value store keyed by K with opaque
// values V (spec.md §1, §4.7: executors consume it as pid/value pairs or
// key/TuplePointer pairs).
type Index[K Ordered, V any] struct {
	mu   sync.RWMutex
	keys []K
	vals []V
}

// New constructs an empty index.
func New[K Ordered, V any]() *Index[K, V] {
	return &Index[K, V]{}
}

func (idx *Index[K, V]) search(key K) int {
	return sort.Search(len(idx.keys), func(i int) bool {
		return !idx.keys[i].Less(key)
	})
}

// Get returns the value at key, if present.
func (idx *Index[K, V]) Get(key K) (V, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	i := idx.search(key)
	if i < len(idx.keys) && idx.keys[i].Equal(key) {
		return idx.vals[i], true
	}
	var zero V
	return zero, false
}

// Insert inserts key→value if pred(existing, found) reports true (or there
// is no existing entry), matching the teacher's InsertKey uniqueness-guard
// shape generalized into a caller-supplied predicate (spec.md §4.7:
// "CAS-insert into the index predicated on no visible row"). It returns
// whether the insert happened and the previous value (if any).
func (idx *Index[K, V]) Insert(key K, value V, pred func(existing V, found bool) bool) (inserted bool, previous V, hadPrevious bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i := idx.search(key)
	found := i < len(idx.keys) && idx.keys[i].Equal(key)
	var existing V
	if found {
		existing = idx.vals[i]
	}
	if !pred(existing, found) {
		return false, existing, found
	}

	if found {
		idx.vals[i] = value
		return true, existing, true
	}

	idx.keys = append(idx.keys, key)
	idx.vals = append(idx.vals, value)
	copy(idx.keys[i+1:], idx.keys[i:len(idx.keys)-1])
	copy(idx.vals[i+1:], idx.vals[i:len(idx.vals)-1])
	idx.keys[i] = key
	idx.vals[i] = value
	return true, existing, found
}

// Delete removes key, returning its value if present.
func (idx *Index[K, V]) Delete(key K) (V, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	i := idx.search(key)
	if i >= len(idx.keys) || !idx.keys[i].Equal(key) {
		var zero V
		return zero, false
	}
	v := idx.vals[i]
	idx.keys = append(idx.keys[:i], idx.keys[i+1:]...)
	idx.vals = append(idx.vals[:i], idx.vals[i+1:]...)
	return v, true
}

// LookupForUpdate returns key's current value along with a setter closure
// that atomically replaces it — or inserts it, if key was not found —
// while still holding the index's exclusive section (spec.md §4.7
// "lookup-for-update on index"). The setter must be called at most once
// and release must always be called exactly once to drop the latch.
func (idx *Index[K, V]) LookupForUpdate(key K) (value V, found bool, set func(V), release func()) {
	idx.mu.Lock()
	i := idx.search(key)
	found = i < len(idx.keys) && idx.keys[i].Equal(key)
	if found {
		value = idx.vals[i]
	}
	done := false
	set = func(v V) {
		if done {
			return
		}
		done = true
		if found {
			idx.vals[i] = v
			return
		}
		idx.keys = append(idx.keys, key)
		idx.vals = append(idx.vals, v)
		copy(idx.keys[i+1:], idx.keys[i:len(idx.keys)-1])
		copy(idx.vals[i+1:], idx.vals[i:len(idx.vals)-1])
		idx.keys[i] = key
		idx.vals[i] = v
	}
	release = func() {
		idx.mu.Unlock()
	}
	return value, found, set, release
}

// RangeScan invokes fn for every key in [lower, upper) in ascending order,
// stopping early if fn returns false — the teacher's RangeScan/GetRangeItr
// shape (bltree.go) collapsed into a callback since Spitfire's executors
// only ever consume it that way (spec.md §4.7 "driven by an ordered scan
// with an early-termination predicate").
func (idx *Index[K, V]) RangeScan(lower, upper K, hasUpper bool, fn func(key K, value V) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for i := idx.search(lower); i < len(idx.keys); i++ {
		if hasUpper && !idx.keys[i].Less(upper) {
			return
		}
		if !fn(idx.keys[i], idx.vals[i]) {
			return
		}
	}
}

// ScanAll invokes fn for every entry in ascending key order (spec.md §4.7
// "table scan: ... iterates the whole key space").
func (idx *Index[K, V]) ScanAll(fn func(key K, value V) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for i := range idx.keys {
		if !fn(idx.keys[i], idx.vals[i]) {
			return
		}
	}
}

// Len reports the number of live entries.
func (idx *Index[K, V]) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.keys)
}
