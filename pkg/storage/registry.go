// Package storage - identifier registry for per-type id uniqueness.
package storage

import (
	"sort"
	"sync"
)

// IdentifierRegistry guarantees uniqueness of entity identifiers within
// each entity type.
//
// The registry holds one id set per type. Each set carries its own lock so
// writers to different types never contend; Register performs its
// check-and-insert under the set lock, which makes it a single atomic step
// with respect to concurrent Register calls for the same type.
//
// A type's set must be created through Ensure before ids can be
// registered; this mirrors the migration contract (registries exist before
// the store serves writes).
//
// Example:
//
//	reg := storage.NewIdentifierRegistry()
//	reg.Ensure("Customer")
//
//	if err := reg.Register("Customer", "c1"); err != nil {
//		// errors.Is(err, storage.ErrDuplicateID) on a second "c1"
//	}
//	reg.Exists("Customer", "c1") // true
type IdentifierRegistry struct {
	mu    sync.RWMutex
	types map[EntityType]*identifierSet
}

// identifierSet is the id set for a single entity type.
type identifierSet struct {
	mu  sync.RWMutex
	ids map[EntityID]struct{}
}

// NewIdentifierRegistry creates an empty registry with no types.
func NewIdentifierRegistry() *IdentifierRegistry {
	return &IdentifierRegistry{
		types: make(map[EntityType]*identifierSet),
	}
}

// Ensure creates the id set for a type if it does not exist. Idempotent.
func (r *IdentifierRegistry) Ensure(entityType EntityType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[entityType]; exists {
		return
	}
	r.types[entityType] = &identifierSet{ids: make(map[EntityID]struct{})}
}

// Has reports whether a registry exists for the type.
func (r *IdentifierRegistry) Has(entityType EntityType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.types[entityType]
	return exists
}

// Register inserts an id into the type's set.
//
// Returns:
//   - ErrUnknownType if the type has no registry
//   - ErrDuplicateID if the id is already registered
func (r *IdentifierRegistry) Register(entityType EntityType, id EntityID) error {
	if id == "" {
		return ErrInvalidID
	}

	set, err := r.set(entityType)
	if err != nil {
		return err
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	if _, exists := set.ids[id]; exists {
		return ErrDuplicateID
	}
	set.ids[id] = struct{}{}
	return nil
}

// Unregister removes an id from the type's set.
//
// Returns:
//   - ErrUnknownType if the type has no registry
//   - ErrNotFound if the id is not registered
func (r *IdentifierRegistry) Unregister(entityType EntityType, id EntityID) error {
	set, err := r.set(entityType)
	if err != nil {
		return err
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	if _, exists := set.ids[id]; !exists {
		return ErrNotFound
	}
	delete(set.ids, id)
	return nil
}

// Exists is the non-failing membership check used by relationship
// validation. Unknown types report false.
func (r *IdentifierRegistry) Exists(entityType EntityType, id EntityID) bool {
	set, err := r.set(entityType)
	if err != nil {
		return false
	}

	set.mu.RLock()
	defer set.mu.RUnlock()

	_, exists := set.ids[id]
	return exists
}

// Count returns the number of registered ids for a type. Unknown types
// count zero.
func (r *IdentifierRegistry) Count(entityType EntityType) int {
	set, err := r.set(entityType)
	if err != nil {
		return 0
	}

	set.mu.RLock()
	defer set.mu.RUnlock()

	return len(set.ids)
}

// Types returns all registered entity types, sorted.
func (r *IdentifierRegistry) Types() []EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]EntityType, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *IdentifierRegistry) set(entityType EntityType) (*identifierSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, exists := r.types[entityType]
	if !exists {
		return nil, ErrUnknownType
	}
	return set, nil
}
