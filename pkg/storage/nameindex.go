// Package storage - secondary index from attribute values to entity ids.
package storage

import (
	"iter"
	"sort"
	"sync"
)

// indexKey identifies one secondary index: an (entity type, attribute) pair.
type indexKey struct {
	Type      EntityType
	Attribute string
}

// NameIndex maintains the non-unique attribute-value -> {entity id}
// multimaps used for name lookups on Product and Category.
//
// One nameBuckets instance exists per (type, attribute) pair, each with its
// own lock, so indexing Product names never blocks Category lookups.
// Buckets are created on first insert and removed when their last id is
// deindexed.
//
// The index is not aware of renames: the store deindexes the old value and
// indexes the new one inside its own critical section, which is what keeps
// a concurrent lookup from observing a half-applied rename.
type NameIndex struct {
	mu      sync.RWMutex
	indexes map[indexKey]*nameBuckets
}

// nameBuckets holds the buckets for a single (type, attribute) index.
type nameBuckets struct {
	mu      sync.RWMutex
	buckets map[string]map[EntityID]struct{}
}

// NewNameIndex creates an empty index manager with no indexes.
func NewNameIndex() *NameIndex {
	return &NameIndex{
		indexes: make(map[indexKey]*nameBuckets),
	}
}

// Ensure creates the index for a (type, attribute) pair if it does not
// exist. Idempotent.
func (n *NameIndex) Ensure(entityType EntityType, attribute string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := indexKey{Type: entityType, Attribute: attribute}
	if _, exists := n.indexes[key]; exists {
		return
	}
	n.indexes[key] = &nameBuckets{buckets: make(map[string]map[EntityID]struct{})}
}

// Has reports whether an index exists for the (type, attribute) pair.
func (n *NameIndex) Has(entityType EntityType, attribute string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	_, exists := n.indexes[indexKey{Type: entityType, Attribute: attribute}]
	return exists
}

// Attributes returns the indexed attributes for a type, sorted. Used by
// the engines to decide which attribute changes require re-indexing.
func (n *NameIndex) Attributes(entityType EntityType) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var attrs []string
	for key := range n.indexes {
		if key.Type == entityType {
			attrs = append(attrs, key.Attribute)
		}
	}
	sort.Strings(attrs)
	return attrs
}

// Index adds an id to the bucket for value, creating the bucket on first
// use. Indexing into a (type, attribute) pair with no index is a no-op.
func (n *NameIndex) Index(entityType EntityType, attribute, value string, id EntityID) {
	idx := n.index(entityType, attribute)
	if idx == nil {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	bucket := idx.buckets[value]
	if bucket == nil {
		bucket = make(map[EntityID]struct{})
		idx.buckets[value] = bucket
	}
	bucket[id] = struct{}{}
}

// Deindex removes an id from the bucket for value, removing the bucket
// when it empties. Unknown indexes, values, and ids are no-ops.
func (n *NameIndex) Deindex(entityType EntityType, attribute, value string, id EntityID) {
	idx := n.index(entityType, attribute)
	if idx == nil {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	bucket := idx.buckets[value]
	if bucket == nil {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(idx.buckets, value)
	}
}

// Lookup returns a lazy, finite, restartable sequence of all ids indexed
// under value at the time of the call. The snapshot is taken under the
// index lock, so a concurrent rename is either fully visible or not at
// all. Ids are yielded in sorted order; an empty sequence (not an error)
// means no match.
func (n *NameIndex) Lookup(entityType EntityType, attribute, value string) iter.Seq[EntityID] {
	ids := n.snapshot(entityType, attribute, value)

	return func(yield func(EntityID) bool) {
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// snapshot copies and sorts the bucket for value.
func (n *NameIndex) snapshot(entityType EntityType, attribute, value string) []EntityID {
	idx := n.index(entityType, attribute)
	if idx == nil {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bucket := idx.buckets[value]
	if len(bucket) == 0 {
		return nil
	}

	ids := make([]EntityID, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (n *NameIndex) index(entityType EntityType, attribute string) *nameBuckets {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.indexes[indexKey{Type: entityType, Attribute: attribute}]
}
