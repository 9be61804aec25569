// Package storage - persistent engine implementation on BadgerDB.
package storage

import (
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixEntity    = byte(0x01) // entity: type 0x00 id -> JSON(Entity)
	prefixRel       = byte(0x02) // rel: relID -> JSON(Relationship)
	prefixNameIndex = byte(0x03) // name: type 0x00 attr 0x00 value 0x00 id -> empty
	prefixOutgoing  = byte(0x04) // outgoing: type 0x00 id 0x00 relID -> empty
	prefixIncoming  = byte(0x05) // incoming: type 0x00 id 0x00 relID -> empty
	prefixRegistry  = byte(0x06) // registry marker: type -> empty
	prefixIndexMeta = byte(0x07) // index marker: type 0x00 attr -> empty
)

const keySep = byte(0x00)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Every logical operation runs inside one badger transaction, so the
// registry check, the entity write, and the index maintenance of a single
// create/update/delete commit together or not at all. Write transactions
// are serialized through an engine-level mutex; reads go straight to
// Badger views.
//
// Key Structure:
//   - Entities: 0x01 + type + 0x00 + id -> JSON
//   - Relationships: 0x02 + relID -> JSON
//   - Name index: 0x03 + type + 0x00 + attr + 0x00 + value + 0x00 + id
//   - Outgoing: 0x04 + type + 0x00 + id + 0x00 + relID
//   - Incoming: 0x05 + type + 0x00 + id + 0x00 + relID
//   - Schema markers: 0x06 + type, 0x07 + type + 0x00 + attr
//
// The identifier registry needs no separate value set on disk: membership
// of (type, id) is exactly the existence of the entity key. Schema markers
// persist which registries and indexes have been applied, and are mirrored
// in memory at open time.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db *badger.DB

	// writeMu serializes write transactions. Concurrent conflicting
	// writers would otherwise surface badger's ErrConflict instead of the
	// deterministic ErrDuplicateID / ErrHasDependents outcomes.
	writeMu sync.Mutex

	// Schema cache, mirrored from the on-disk markers
	schemaMu   sync.RWMutex
	registries map[EntityType]struct{}
	indexes    map[indexKey]struct{}

	mu     sync.RWMutex // protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for testing.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool
}

// NewBadgerEngine creates a persistent storage engine with default
// settings. The directory is created if it does not exist and any
// previously applied schema markers are loaded back into the cache.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom
// configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	// Memory-constrained defaults for containerized environments
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	engine := &BadgerEngine{
		db:         db,
		registries: make(map[EntityType]struct{}),
		indexes:    make(map[indexKey]struct{}),
	}
	if err := engine.loadSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load schema markers: %w", err)
	}
	return engine, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// loadSchema reads the persisted schema markers into the cache.
func (b *BadgerEngine) loadSchema() error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte{prefixRegistry}); it.ValidForPrefix([]byte{prefixRegistry}); it.Next() {
			key := it.Item().Key()
			b.registries[EntityType(unescapePart(key[1:]))] = struct{}{}
		}

		for it.Seek([]byte{prefixIndexMeta}); it.ValidForPrefix([]byte{prefixIndexMeta}); it.Next() {
			key := it.Item().Key()
			entityType, attr, ok := splitPair(key[1:])
			if ok {
				b.indexes[indexKey{Type: EntityType(entityType), Attribute: attr}] = struct{}{}
			}
		}
		return nil
	})
}

// splitPair splits "a 0x00 b" into its unescaped parts.
func splitPair(key []byte) (string, string, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == keySep {
			return unescapePart(key[:i]), unescapePart(key[i+1:]), true
		}
	}
	return "", "", false
}

// ============================================================================
// Key encoding helpers
// ============================================================================

// Key parts are escaped so ids and indexed values may contain any byte
// without aliasing the 0x00 separator: 0x00 becomes 0x01 0x02 and 0x01
// becomes 0x01 0x03.
const keyEsc = byte(0x01)

func escapePart(key []byte, part string) []byte {
	for i := 0; i < len(part); i++ {
		switch part[i] {
		case keySep:
			key = append(key, keyEsc, 0x02)
		case keyEsc:
			key = append(key, keyEsc, 0x03)
		default:
			key = append(key, part[i])
		}
	}
	return key
}

func unescapePart(part []byte) string {
	out := make([]byte, 0, len(part))
	for i := 0; i < len(part); i++ {
		if part[i] == keyEsc && i+1 < len(part) {
			i++
			switch part[i] {
			case 0x02:
				out = append(out, keySep)
			case 0x03:
				out = append(out, keyEsc)
			}
			continue
		}
		out = append(out, part[i])
	}
	return string(out)
}

func joinKey(prefix byte, parts ...string) []byte {
	size := 1
	for _, p := range parts {
		size += len(p) + 1
	}
	key := make([]byte, 0, size)
	key = append(key, prefix)
	for i, p := range parts {
		if i > 0 {
			key = append(key, keySep)
		}
		key = escapePart(key, p)
	}
	return key
}

func entityDBKey(entityType EntityType, id EntityID) []byte {
	return joinKey(prefixEntity, string(entityType), string(id))
}

func relDBKey(id RelationshipID) []byte {
	return joinKey(prefixRel, string(id))
}

func nameIndexDBKey(entityType EntityType, attribute, value string, id EntityID) []byte {
	return joinKey(prefixNameIndex, string(entityType), attribute, value, string(id))
}

// nameIndexDBPrefix covers all ids indexed under one value.
func nameIndexDBPrefix(entityType EntityType, attribute, value string) []byte {
	return append(joinKey(prefixNameIndex, string(entityType), attribute, value), keySep)
}

func outgoingDBKey(entityType EntityType, id EntityID, relID RelationshipID) []byte {
	return joinKey(prefixOutgoing, string(entityType), string(id), string(relID))
}

func outgoingDBPrefix(entityType EntityType, id EntityID) []byte {
	return append(joinKey(prefixOutgoing, string(entityType), string(id)), keySep)
}

func incomingDBKey(entityType EntityType, id EntityID, relID RelationshipID) []byte {
	return joinKey(prefixIncoming, string(entityType), string(id), string(relID))
}

func incomingDBPrefix(entityType EntityType, id EntityID) []byte {
	return append(joinKey(prefixIncoming, string(entityType), string(id)), keySep)
}

func registryMarkerKey(entityType EntityType) []byte {
	return joinKey(prefixRegistry, string(entityType))
}

func indexMarkerKey(entityType EntityType, attribute string) []byte {
	return joinKey(prefixIndexMeta, string(entityType), attribute)
}

// suffixAfterPrefix returns the unescaped key part after a scan prefix.
func suffixAfterPrefix(key, prefix []byte) string {
	return unescapePart(key[len(prefix):])
}

// ============================================================================
// Schema operations
// ============================================================================

// EnsureRegistry persists the registry marker for a type. Idempotent.
func (b *BadgerEngine) EnsureRegistry(entityType EntityType) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()

	if _, exists := b.registries[entityType]; exists {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(registryMarkerKey(entityType), []byte{})
	})
	if err != nil {
		return err
	}
	b.registries[entityType] = struct{}{}
	return nil
}

// HasRegistry reports whether the type has a registry.
func (b *BadgerEngine) HasRegistry(entityType EntityType) bool {
	if b.checkOpen() != nil {
		return false
	}

	b.schemaMu.RLock()
	defer b.schemaMu.RUnlock()

	_, exists := b.registries[entityType]
	return exists
}

// EnsureNameIndex persists the index marker for (type, attribute).
// Idempotent.
func (b *BadgerEngine) EnsureNameIndex(entityType EntityType, attribute string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()

	key := indexKey{Type: entityType, Attribute: attribute}
	if _, exists := b.indexes[key]; exists {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexMarkerKey(entityType, attribute), []byte{})
	})
	if err != nil {
		return err
	}
	b.indexes[key] = struct{}{}
	return nil
}

// HasNameIndex reports whether (type, attribute) is indexed.
func (b *BadgerEngine) HasNameIndex(entityType EntityType, attribute string) bool {
	if b.checkOpen() != nil {
		return false
	}

	b.schemaMu.RLock()
	defer b.schemaMu.RUnlock()

	_, exists := b.indexes[indexKey{Type: entityType, Attribute: attribute}]
	return exists
}

// indexedAttributes returns the indexed attributes for a type, sorted.
func (b *BadgerEngine) indexedAttributes(entityType EntityType) []string {
	b.schemaMu.RLock()
	defer b.schemaMu.RUnlock()

	var attrs []string
	for key := range b.indexes {
		if key.Type == entityType {
			attrs = append(attrs, key.Attribute)
		}
	}
	sort.Strings(attrs)
	return attrs
}

// hasRegistryCached reports registry existence without the open check.
func (b *BadgerEngine) hasRegistryCached(entityType EntityType) bool {
	b.schemaMu.RLock()
	defer b.schemaMu.RUnlock()

	_, exists := b.registries[entityType]
	return exists
}

// ============================================================================
// Entity operations
// ============================================================================

// CreateEntity creates a new entity in persistent storage.
//
// Identifier uniqueness is the existence check on the entity key inside
// the transaction; nothing is written when the id is taken or the type's
// registry was never applied.
func (b *BadgerEngine) CreateEntity(e *Entity) error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ID == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}
	if !b.hasRegistryCached(e.Type) {
		return ErrUnknownType
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	stored := copyEntity(e)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt

	return b.db.Update(func(txn *badger.Txn) error {
		key := entityDBKey(e.Type, e.ID)
		_, err := txn.Get(key)
		if err == nil {
			return ErrDuplicateID
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := encodeEntity(stored)
		if err != nil {
			return fmt.Errorf("failed to encode entity: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}

		for _, attr := range b.indexedAttributes(e.Type) {
			if value, ok := stored.Attributes[attr].(string); ok {
				if err := txn.Set(nameIndexDBKey(e.Type, attr, value, e.ID), []byte{}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GetEntity retrieves an entity by type and id.
func (b *BadgerEngine) GetEntity(entityType EntityType, id EntityID) (*Entity, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var entity *Entity
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entityDBKey(entityType, id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			entity, decodeErr = decodeEntity(val)
			return decodeErr
		})
	})
	return entity, err
}

// UpdateEntity replaces the attributes of an existing entity, maintaining
// the name index for any indexed value that changed.
func (b *BadgerEngine) UpdateEntity(e *Entity) error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ID == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		key := entityDBKey(e.Type, e.ID)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var existing *Entity
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			existing, decodeErr = decodeEntity(val)
			return decodeErr
		}); err != nil {
			return err
		}

		stored := copyEntity(e)
		stored.CreatedAt = existing.CreatedAt
		stored.UpdatedAt = time.Now()

		for _, attr := range b.indexedAttributes(e.Type) {
			oldValue, hadOld := existing.Attributes[attr].(string)
			newValue, hasNew := stored.Attributes[attr].(string)
			if hadOld && (!hasNew || oldValue != newValue) {
				if err := txn.Delete(nameIndexDBKey(e.Type, attr, oldValue, e.ID)); err != nil {
					return err
				}
			}
			if hasNew && (!hadOld || oldValue != newValue) {
				if err := txn.Set(nameIndexDBKey(e.Type, attr, newValue, e.ID), []byte{}); err != nil {
					return err
				}
			}
		}

		data, err := encodeEntity(stored)
		if err != nil {
			return fmt.Errorf("failed to encode entity: %w", err)
		}
		return txn.Set(key, data)
	})
}

// DeleteEntity removes an entity, its index entries, and the
// relationships sourced from it. Rejected with ErrHasDependents while
// incoming relationships exist.
func (b *BadgerEngine) DeleteEntity(entityType EntityType, id EntityID) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		key := entityDBKey(entityType, id)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var entity *Entity
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			entity, decodeErr = decodeEntity(val)
			return decodeErr
		}); err != nil {
			return err
		}

		if hasAny(txn, incomingDBPrefix(entityType, id)) {
			return ErrHasDependents
		}

		// Remove relationships sourced from this entity
		outPrefix := outgoingDBPrefix(entityType, id)
		for _, relID := range scanSuffixes(txn, outPrefix) {
			if err := b.deleteRelationshipInTxn(txn, RelationshipID(relID)); err != nil && err != ErrNotFound {
				return err
			}
		}

		for _, attr := range b.indexedAttributes(entityType) {
			if value, ok := entity.Attributes[attr].(string); ok {
				if err := txn.Delete(nameIndexDBKey(entityType, attr, value, id)); err != nil {
					return err
				}
			}
		}

		return txn.Delete(key)
	})
}

// EntityExists reports whether (type, id) is registered. Membership is
// the existence of the entity key.
func (b *BadgerEngine) EntityExists(entityType EntityType, id EntityID) bool {
	if id == "" || b.checkOpen() != nil {
		return false
	}

	exists := false
	b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(entityDBKey(entityType, id)); err == nil {
			exists = true
		}
		return nil
	})
	return exists
}

// ============================================================================
// Relationship operations
// ============================================================================

// PutRelationship creates or replaces a relationship after validating
// both endpoints inside the transaction.
func (b *BadgerEngine) PutRelationship(r *Relationship) error {
	if r == nil {
		return ErrInvalidData
	}
	if r.ID == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entityDBKey(r.FromType, r.FromID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrDanglingReference
			}
			return err
		}
		if _, err := txn.Get(entityDBKey(r.ToType, r.ToID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrDanglingReference
			}
			return err
		}

		stored := copyRelationship(r)
		key := relDBKey(r.ID)

		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing *Relationship
			if err := item.Value(func(val []byte) error {
				var decodeErr error
				existing, decodeErr = decodeRelationship(val)
				return decodeErr
			}); err != nil {
				return err
			}
			// Adjacency keys hold the stored endpoints; reject a put
			// that reuses the id with different ones.
			if !sameEndpoints(existing, r) {
				return ErrInvalidData
			}
			stored.CreatedAt = existing.CreatedAt
			stored.UpdatedAt = time.Now()
		case err == badger.ErrKeyNotFound:
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = time.Now()
			}
			stored.UpdatedAt = stored.CreatedAt
		default:
			return err
		}

		data, err := encodeRelationship(stored)
		if err != nil {
			return fmt.Errorf("failed to encode relationship: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(outgoingDBKey(r.FromType, r.FromID, r.ID), []byte{}); err != nil {
			return err
		}
		return txn.Set(incomingDBKey(r.ToType, r.ToID, r.ID), []byte{})
	})
}

// GetRelationship retrieves a relationship by id.
func (b *BadgerEngine) GetRelationship(id RelationshipID) (*Relationship, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var rel *Relationship
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(relDBKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			rel, decodeErr = decodeRelationship(val)
			return decodeErr
		})
	})
	return rel, err
}

// DeleteRelationship removes a relationship and its adjacency entries.
func (b *BadgerEngine) DeleteRelationship(id RelationshipID) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		return b.deleteRelationshipInTxn(txn, id)
	})
}

// deleteRelationshipInTxn deletes a relationship within a transaction.
func (b *BadgerEngine) deleteRelationshipInTxn(txn *badger.Txn, id RelationshipID) error {
	key := relDBKey(id)
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var rel *Relationship
	if err := item.Value(func(val []byte) error {
		var decodeErr error
		rel, decodeErr = decodeRelationship(val)
		return decodeErr
	}); err != nil {
		return err
	}

	if err := txn.Delete(outgoingDBKey(rel.FromType, rel.FromID, id)); err != nil {
		return err
	}
	if err := txn.Delete(incomingDBKey(rel.ToType, rel.ToID, id)); err != nil {
		return err
	}
	return txn.Delete(key)
}

// OutgoingRelationships returns all relationships sourced from the entity.
func (b *BadgerEngine) OutgoingRelationships(entityType EntityType, id EntityID) ([]*Relationship, error) {
	return b.relationshipsByPrefix(outgoingDBPrefix(entityType, id), id)
}

// IncomingRelationships returns all relationships pointing at the entity.
func (b *BadgerEngine) IncomingRelationships(entityType EntityType, id EntityID) ([]*Relationship, error) {
	return b.relationshipsByPrefix(incomingDBPrefix(entityType, id), id)
}

func (b *BadgerEngine) relationshipsByPrefix(prefix []byte, id EntityID) ([]*Relationship, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	rels := make([]*Relationship, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		for _, relID := range scanSuffixes(txn, prefix) {
			item, err := txn.Get(relDBKey(RelationshipID(relID)))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				rel, decodeErr := decodeRelationship(val)
				if decodeErr != nil {
					return decodeErr
				}
				rels = append(rels, rel)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return rels, err
}

// ============================================================================
// Lookup and stats
// ============================================================================

// LookupByName returns a snapshot sequence of the ids indexed under value,
// sorted. The snapshot is taken in one view transaction.
func (b *BadgerEngine) LookupByName(entityType EntityType, attribute, value string) iter.Seq[EntityID] {
	var ids []EntityID
	if b.checkOpen() == nil {
		b.db.View(func(txn *badger.Txn) error {
			prefix := nameIndexDBPrefix(entityType, attribute, value)
			for _, suffix := range scanSuffixes(txn, prefix) {
				ids = append(ids, EntityID(suffix))
			}
			return nil
		})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return func(yield func(EntityID) bool) {
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// EntityCount returns the number of entities of a type.
func (b *BadgerEngine) EntityCount(entityType EntityType) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := append(joinKey(prefixEntity, string(entityType)), keySep)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// RelationshipCount returns the total number of relationships.
func (b *BadgerEngine) RelationshipCount() (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte{prefixRel}); it.ValidForPrefix([]byte{prefixRel}); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the underlying BadgerDB. Idempotent.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Sync flushes pending writes to disk.
func (b *BadgerEngine) Sync() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// hasAny reports whether any key matches the prefix.
func hasAny(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	return it.ValidForPrefix(prefix)
}

// scanSuffixes collects the key suffixes after prefix for every match.
func scanSuffixes(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var suffixes []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		suffixes = append(suffixes, suffixAfterPrefix(it.Item().Key(), prefix))
	}
	return suffixes
}

// Verify BadgerEngine implements Engine
var _ Engine = (*BadgerEngine)(nil)
