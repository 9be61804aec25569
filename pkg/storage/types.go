// Package storage provides the storage engine interface and implementations
// for shopgraph.
//
// The storage layer enforces the catalog's structural contract: one
// identifier registry per entity type (ids are unique within a type), a
// secondary name index per indexed attribute (non-unique, multimap), and
// referential integrity for relationships between entities.
//
// Design Principles:
//   - Caller-assigned identifiers, validated against the registry on insert
//   - Fine-grained locking: per-type registry locks, per-index bucket locks
//   - Every logical write (create/update/delete) is atomic to readers
//   - Testability through the Engine interface
//
// Example Usage:
//
//	// Create storage engine
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	// Schema setup (idempotent)
//	engine.EnsureRegistry("Product")
//	engine.EnsureNameIndex("Product", "name")
//
//	// Create entities
//	entity := &storage.Entity{
//		Type: "Product",
//		ID:   "p-100",
//		Attributes: map[string]any{
//			"name":  "Widget",
//			"price": 9.99,
//		},
//	}
//	engine.CreateEntity(entity)
//
//	// Indexed lookup
//	for id := range engine.LookupByName("Product", "name", "Widget") {
//		fmt.Println(id)
//	}
package storage

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

// Common errors
var (
	ErrDuplicateID       = errors.New("duplicate id")
	ErrNotFound          = errors.New("not found")
	ErrDanglingReference = errors.New("dangling reference: endpoint not found")
	ErrHasDependents     = errors.New("entity has dependent relationships")
	ErrUnknownType       = errors.New("unknown entity type")
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidData       = errors.New("invalid data")
	ErrStorageClosed     = errors.New("storage closed")
)

// EntityType identifies a class of entities (Customer, Product, Category,
// Order). Identifier uniqueness is scoped to the type: two entities of
// different types may share an id.
type EntityType string

// EntityID is a caller-assigned unique identifier within an entity type.
// The store never generates ids; it only validates them.
type EntityID string

// RelationshipID is a unique identifier for a relationship. For upsert
// semantics it is usually derived from the endpoints, see RelID.
type RelationshipID string

// Entity is a typed record with a caller-assigned identifier and a bag of
// attributes. The storage engine treats attributes as opaque except for
// those covered by a name index.
//
// Entity structs are NOT thread-safe. The storage engine handles
// concurrency and returns deep copies.
type Entity struct {
	Type       EntityType     `json:"type"`
	ID         EntityID       `json:"id"`
	Attributes map[string]any `json:"attributes"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Relationship is a directed, typed association between two entities.
// Because identifiers are only unique per type, both endpoints carry
// their entity type alongside the id.
//
// Example:
//
//	rel := &storage.Relationship{
//		ID:       storage.RelID("IN_CATEGORY", "Product", "p1", "Category", "g1"),
//		Type:     "IN_CATEGORY",
//		FromType: "Product",
//		FromID:   "p1",
//		ToType:   "Category",
//		ToID:     "g1",
//	}
//	engine.PutRelationship(rel)
type Relationship struct {
	ID         RelationshipID `json:"id"`
	Type       string         `json:"type"`
	FromType   EntityType     `json:"fromType"`
	FromID     EntityID       `json:"fromId"`
	ToType     EntityType     `json:"toType"`
	ToID       EntityID       `json:"toId"`
	Attributes map[string]any `json:"attributes"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// RelID derives a deterministic relationship identifier from the endpoints
// and the relation name. Linking the same triple twice therefore updates
// the existing relationship instead of growing a duplicate.
func RelID(relation string, fromType EntityType, fromID EntityID, toType EntityType, toID EntityID) RelationshipID {
	return RelationshipID(fmt.Sprintf("%s|%s/%s|%s/%s", relation, fromType, fromID, toType, toID))
}

// Engine defines the storage engine interface for the catalog graph.
//
// All Engine implementations MUST be:
//   - Thread-safe: safe for concurrent access from multiple goroutines
//   - Atomic per operation: a reader never observes a half-applied write,
//     in particular a rename never exposes a state where the entity is
//     indexed under both or neither name
//   - Deterministic under races: two concurrent CreateEntity calls with the
//     same (type, id) yield exactly one success and one ErrDuplicateID
//
// Schema operations are idempotent: EnsureRegistry and EnsureNameIndex on
// an already-applied schema are no-ops.
//
// Implementations:
//   - MemoryEngine: in-memory storage for testing and small datasets
//   - BadgerEngine: persistent disk storage on BadgerDB
type Engine interface {
	// Schema operations (idempotent)
	EnsureRegistry(entityType EntityType) error
	HasRegistry(entityType EntityType) bool
	EnsureNameIndex(entityType EntityType, attribute string) error
	HasNameIndex(entityType EntityType, attribute string) bool

	// Entity operations
	CreateEntity(e *Entity) error
	GetEntity(entityType EntityType, id EntityID) (*Entity, error)
	UpdateEntity(e *Entity) error
	DeleteEntity(entityType EntityType, id EntityID) error
	EntityExists(entityType EntityType, id EntityID) bool

	// Relationship operations
	PutRelationship(r *Relationship) error
	GetRelationship(id RelationshipID) (*Relationship, error)
	DeleteRelationship(id RelationshipID) error
	OutgoingRelationships(entityType EntityType, id EntityID) ([]*Relationship, error)
	IncomingRelationships(entityType EntityType, id EntityID) ([]*Relationship, error)

	// Indexed lookup. The sequence is a snapshot taken at call time:
	// finite, restartable, and sorted by id. Empty when nothing matches.
	LookupByName(entityType EntityType, attribute, value string) iter.Seq[EntityID]

	// Stats
	EntityCount(entityType EntityType) (int64, error)
	RelationshipCount() (int64, error)

	// Lifecycle
	Close() error
}

// CopyAttributes returns a shallow copy of an attribute map. Attribute
// values themselves are treated as immutable by the store.
func CopyAttributes(attrs map[string]any) map[string]any {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return copied
}
