package similarity

import (
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// GlobalScope holds records visible to every scope.
const GlobalScope = ""

type entry[T any] struct {
	scope  string
	record Record[T]
}

// Index is a concurrency-safe set of records partitioned into scopes
// (typically guild ids). Searching a scope also searches GlobalScope.
type Index[T any] struct {
	mu      sync.RWMutex
	nextID  uint32
	entries map[uint32]entry[T]
	scopes  map[string]*roaring.Bitmap
}

// NewIndex creates an empty index.
func NewIndex[T any]() *Index[T] {
	return &Index[T]{
		entries: make(map[uint32]entry[T]),
		scopes:  make(map[string]*roaring.Bitmap),
	}
}

// Add stores a copy of rec under scope and returns its id.
func (ix *Index[T]) Add(scope string, rec Record[T]) uint32 {
	rec.Vector = slices.Clone(rec.Vector)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	id := ix.nextID
	ix.nextID++
	ix.entries[id] = entry[T]{scope: scope, record: rec}

	bm, ok := ix.scopes[scope]
	if !ok {
		bm = roaring.New()
		ix.scopes[scope] = bm
	}
	bm.Add(id)
	return id
}

// Remove deletes a record. It reports whether the id was present.
func (ix *Index[T]) Remove(id uint32) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.entries[id]
	if !ok {
		return false
	}
	delete(ix.entries, id)
	if bm := ix.scopes[e.scope]; bm != nil {
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(ix.scopes, e.scope)
		}
	}
	return true
}

// Len returns the number of records.
func (ix *Index[T]) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// ScopeLen returns the number of records tagged with scope.
func (ix *Index[T]) ScopeLen(scope string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if bm := ix.scopes[scope]; bm != nil {
		return int(bm.GetCardinality())
	}
	return 0
}

// Search ranks the records of scope and GlobalScope against query.
func (ix *Index[T]) Search(query []float64, scope string, k int, threshold float64) []Match[T] {
	ix.mu.RLock()
	visible := roaring.New()
	if bm := ix.scopes[GlobalScope]; bm != nil {
		visible.Or(bm)
	}
	if bm := ix.scopes[scope]; bm != nil && scope != GlobalScope {
		visible.Or(bm)
	}

	// Ids ascend in insertion order, so ties rank oldest first.
	items := make([]Record[T], 0, visible.GetCardinality())
	visible.Iterate(func(id uint32) bool {
		items = append(items, ix.entries[id].record)
		return true
	})
	ix.mu.RUnlock()

	return TopKSimilar(query, items, k, threshold)
}
