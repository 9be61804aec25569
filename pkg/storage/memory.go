// Package storage - in-memory engine implementation.
package storage

import (
	"iter"
	"sync"
	"time"
)

// entityKey addresses an entity across types. Ids are only unique within a
// type, so the map key carries both.
type entityKey struct {
	Type EntityType
	ID   EntityID
}

// MemoryEngine is a thread-safe in-memory implementation of Engine.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Small catalogs that fit entirely in RAM
//   - Development and prototyping
//
// The engine composes the IdentifierRegistry and NameIndex components and
// holds a store-level mutex across every logical write, so the registry
// check, the entity write, and the index update of one create/update/delete
// appear as a single step to readers.
//
// Performance Characteristics:
//   - Entity lookup by id: O(1)
//   - Name lookup: O(k log k) where k = entities sharing the name
//   - Outgoing/incoming relationships: O(degree)
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	engine.EnsureRegistry("Category")
//	engine.EnsureNameIndex("Category", "name")
//
//	engine.CreateEntity(&storage.Entity{
//		Type:       "Category",
//		ID:         "g1",
//		Attributes: map[string]any{"name": "Tools"},
//	})
//
//	for id := range engine.LookupByName("Category", "name", "Tools") {
//		fmt.Println(id) // g1
//	}
type MemoryEngine struct {
	mu            sync.RWMutex
	entities      map[entityKey]*Entity
	relationships map[RelationshipID]*Relationship

	// Adjacency for referential-integrity checks and cascades
	outgoing map[entityKey]map[RelationshipID]struct{}
	incoming map[entityKey]map[RelationshipID]struct{}

	registry *IdentifierRegistry
	names    *NameIndex

	closed bool
}

// NewMemoryEngine creates a new in-memory storage engine with an empty
// registry and no indexes. Schema setup (EnsureRegistry/EnsureNameIndex)
// must run before entities can be created.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		entities:      make(map[entityKey]*Entity),
		relationships: make(map[RelationshipID]*Relationship),
		outgoing:      make(map[entityKey]map[RelationshipID]struct{}),
		incoming:      make(map[entityKey]map[RelationshipID]struct{}),
		registry:      NewIdentifierRegistry(),
		names:         NewNameIndex(),
	}
}

// EnsureRegistry creates the identifier registry for a type. Idempotent.
func (m *MemoryEngine) EnsureRegistry(entityType EntityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	m.registry.Ensure(entityType)
	return nil
}

// HasRegistry reports whether the type has a registry.
func (m *MemoryEngine) HasRegistry(entityType EntityType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return !m.closed && m.registry.Has(entityType)
}

// EnsureNameIndex creates the secondary index for (type, attribute).
// Idempotent.
func (m *MemoryEngine) EnsureNameIndex(entityType EntityType, attribute string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	m.names.Ensure(entityType, attribute)
	return nil
}

// HasNameIndex reports whether (type, attribute) is indexed.
func (m *MemoryEngine) HasNameIndex(entityType EntityType, attribute string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return !m.closed && m.names.Has(entityType, attribute)
}

// CreateEntity creates a new entity.
//
// The registry is consulted first; if registration fails nothing is
// persisted. On success the entity is stored (deep-copied) and every
// indexed attribute it carries is added to the name index, all before the
// store lock is released.
//
// Returns:
//   - ErrInvalidData if the entity is nil
//   - ErrInvalidID if the id is empty
//   - ErrUnknownType if the type has no registry (schema not applied)
//   - ErrDuplicateID if the id is already taken within the type
//   - ErrStorageClosed if the engine is closed
func (m *MemoryEngine) CreateEntity(e *Entity) error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if err := m.registry.Register(e.Type, e.ID); err != nil {
		return err
	}

	stored := copyEntity(e)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt
	m.entities[entityKey{Type: e.Type, ID: e.ID}] = stored

	m.indexEntity(stored)
	return nil
}

// GetEntity retrieves an entity by type and id. Returns a deep copy.
func (m *MemoryEngine) GetEntity(entityType EntityType, id EntityID) (*Entity, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	e, exists := m.entities[entityKey{Type: entityType, ID: id}]
	if !exists {
		return nil, ErrNotFound
	}
	return copyEntity(e), nil
}

// UpdateEntity replaces the attributes of an existing entity and
// re-indexes any indexed attribute whose value changed. The identifier
// never changes. Fails with ErrNotFound if the id is unknown.
func (m *MemoryEngine) UpdateEntity(e *Entity) error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	key := entityKey{Type: e.Type, ID: e.ID}
	existing, exists := m.entities[key]
	if !exists {
		return ErrNotFound
	}

	// Deindex old values, index new ones. Both happen under the store
	// lock, so readers see either the old name or the new one.
	m.deindexEntity(existing)

	stored := copyEntity(e)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	m.entities[key] = stored

	m.indexEntity(stored)
	return nil
}

// DeleteEntity removes an entity.
//
// Delete is rejected with ErrHasDependents while other entities hold
// relationships pointing at this one. Relationships sourced from the
// entity are removed with it; the name index and the registry are cleaned
// up in the same step.
func (m *MemoryEngine) DeleteEntity(entityType EntityType, id EntityID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	key := entityKey{Type: entityType, ID: id}
	e, exists := m.entities[key]
	if !exists {
		return ErrNotFound
	}

	if len(m.incoming[key]) > 0 {
		return ErrHasDependents
	}

	// Remove relationships sourced from this entity
	for relID := range m.outgoing[key] {
		if rel := m.relationships[relID]; rel != nil {
			toKey := entityKey{Type: rel.ToType, ID: rel.ToID}
			if in := m.incoming[toKey]; in != nil {
				delete(in, relID)
			}
		}
		delete(m.relationships, relID)
	}
	delete(m.outgoing, key)
	delete(m.incoming, key)

	m.deindexEntity(e)
	if err := m.registry.Unregister(entityType, id); err != nil {
		return err
	}
	delete(m.entities, key)
	return nil
}

// EntityExists is the non-failing existence check used by relationship
// validation.
func (m *MemoryEngine) EntityExists(entityType EntityType, id EntityID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false
	}
	return m.registry.Exists(entityType, id)
}

// PutRelationship creates or replaces a relationship. Both endpoints are
// validated against the registry inside the store lock; a missing endpoint
// fails with ErrDanglingReference and nothing is persisted.
func (m *MemoryEngine) PutRelationship(r *Relationship) error {
	if r == nil {
		return ErrInvalidData
	}
	if r.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	if !m.registry.Exists(r.FromType, r.FromID) || !m.registry.Exists(r.ToType, r.ToID) {
		return ErrDanglingReference
	}

	fromKey := entityKey{Type: r.FromType, ID: r.FromID}
	toKey := entityKey{Type: r.ToType, ID: r.ToID}

	stored := copyRelationship(r)
	if existing, exists := m.relationships[r.ID]; exists {
		// Upsert replaces attributes only. The adjacency maps hold the
		// stored endpoints, so a put reusing the id with different ones
		// is rejected rather than silently desynchronized.
		if !sameEndpoints(existing, r) {
			return ErrInvalidData
		}
		stored.CreatedAt = existing.CreatedAt
		stored.UpdatedAt = time.Now()
		m.relationships[r.ID] = stored
		return nil
	}

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt
	m.relationships[r.ID] = stored

	if m.outgoing[fromKey] == nil {
		m.outgoing[fromKey] = make(map[RelationshipID]struct{})
	}
	m.outgoing[fromKey][r.ID] = struct{}{}

	if m.incoming[toKey] == nil {
		m.incoming[toKey] = make(map[RelationshipID]struct{})
	}
	m.incoming[toKey][r.ID] = struct{}{}

	return nil
}

// GetRelationship retrieves a relationship by id.
func (m *MemoryEngine) GetRelationship(id RelationshipID) (*Relationship, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	r, exists := m.relationships[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyRelationship(r), nil
}

// DeleteRelationship removes a relationship.
func (m *MemoryEngine) DeleteRelationship(id RelationshipID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	r, exists := m.relationships[id]
	if !exists {
		return ErrNotFound
	}

	fromKey := entityKey{Type: r.FromType, ID: r.FromID}
	toKey := entityKey{Type: r.ToType, ID: r.ToID}
	if out := m.outgoing[fromKey]; out != nil {
		delete(out, id)
	}
	if in := m.incoming[toKey]; in != nil {
		delete(in, id)
	}
	delete(m.relationships, id)
	return nil
}

// OutgoingRelationships returns all relationships sourced from the entity.
func (m *MemoryEngine) OutgoingRelationships(entityType EntityType, id EntityID) ([]*Relationship, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	return m.collectRelationships(m.outgoing[entityKey{Type: entityType, ID: id}]), nil
}

// IncomingRelationships returns all relationships pointing at the entity.
func (m *MemoryEngine) IncomingRelationships(entityType EntityType, id EntityID) ([]*Relationship, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	return m.collectRelationships(m.incoming[entityKey{Type: entityType, ID: id}]), nil
}

// LookupByName delegates to the name index. The returned sequence is a
// snapshot and stays valid after the engine moves on.
func (m *MemoryEngine) LookupByName(entityType EntityType, attribute, value string) iter.Seq[EntityID] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return func(yield func(EntityID) bool) {}
	}
	return m.names.Lookup(entityType, attribute, value)
}

// EntityCount returns the number of entities of a type.
func (m *MemoryEngine) EntityCount(entityType EntityType) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(m.registry.Count(entityType)), nil
}

// RelationshipCount returns the total number of relationships.
func (m *MemoryEngine) RelationshipCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.relationships)), nil
}

// Close releases all memory. Subsequent operations return
// ErrStorageClosed. Idempotent.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entities = nil
	m.relationships = nil
	m.outgoing = nil
	m.incoming = nil
	return nil
}

// indexEntity adds every indexed string attribute of e to the name index.
// Caller must hold m.mu.
func (m *MemoryEngine) indexEntity(e *Entity) {
	for _, attr := range m.names.Attributes(e.Type) {
		if value, ok := e.Attributes[attr].(string); ok {
			m.names.Index(e.Type, attr, value, e.ID)
		}
	}
}

// deindexEntity removes every indexed string attribute of e from the name
// index. Caller must hold m.mu.
func (m *MemoryEngine) deindexEntity(e *Entity) {
	for _, attr := range m.names.Attributes(e.Type) {
		if value, ok := e.Attributes[attr].(string); ok {
			m.names.Deindex(e.Type, attr, value, e.ID)
		}
	}
}

func (m *MemoryEngine) collectRelationships(ids map[RelationshipID]struct{}) []*Relationship {
	rels := make([]*Relationship, 0, len(ids))
	for id := range ids {
		if r := m.relationships[id]; r != nil {
			rels = append(rels, copyRelationship(r))
		}
	}
	return rels
}

// sameEndpoints reports whether two relationships connect the same
// (fromType, fromID) to the same (toType, toID).
func sameEndpoints(a, b *Relationship) bool {
	return a.FromType == b.FromType && a.FromID == b.FromID &&
		a.ToType == b.ToType && a.ToID == b.ToID
}

// copyEntity creates a deep copy of an entity.
func copyEntity(e *Entity) *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		Type:       e.Type,
		ID:         e.ID,
		Attributes: CopyAttributes(e.Attributes),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// copyRelationship creates a deep copy of a relationship.
func copyRelationship(r *Relationship) *Relationship {
	if r == nil {
		return nil
	}
	return &Relationship{
		ID:         r.ID,
		Type:       r.Type,
		FromType:   r.FromType,
		FromID:     r.FromID,
		ToType:     r.ToType,
		ToID:       r.ToID,
		Attributes: CopyAttributes(r.Attributes),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Verify MemoryEngine implements Engine
var _ Engine = (*MemoryEngine)(nil)
