// Package storage - Conformance tests run against every Engine
// implementation.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// engineFactories returns a fresh engine per test. Badger runs in
// memory mode so the suite needs no disk cleanup beyond Close.
func engineFactories(t *testing.T) map[string]func(t *testing.T) Engine {
	t.Helper()
	return map[string]func(t *testing.T) Engine{
		"memory": func(t *testing.T) Engine {
			return NewMemoryEngine()
		},
		"badger": func(t *testing.T) Engine {
			engine, err := NewBadgerEngineInMemory()
			if err != nil {
				t.Fatalf("failed to create badger engine: %v", err)
			}
			return engine
		},
	}
}

// applyTestSchema mirrors the catalog schema: four registries plus name
// indexes on Product and Category.
func applyTestSchema(t *testing.T, engine Engine) {
	t.Helper()
	for _, typ := range []EntityType{"Customer", "Product", "Category", "Order"} {
		if err := engine.EnsureRegistry(typ); err != nil {
			t.Fatalf("EnsureRegistry(%s) failed: %v", typ, err)
		}
	}
	for _, typ := range []EntityType{"Product", "Category"} {
		if err := engine.EnsureNameIndex(typ, "name"); err != nil {
			t.Fatalf("EnsureNameIndex(%s) failed: %v", typ, err)
		}
	}
}

func mustCreate(t *testing.T, engine Engine, typ EntityType, id EntityID, attrs map[string]any) {
	t.Helper()
	if err := engine.CreateEntity(&Entity{Type: typ, ID: id, Attributes: attrs}); err != nil {
		t.Fatalf("CreateEntity(%s/%s) failed: %v", typ, id, err)
	}
}

func forEachEngine(t *testing.T, test func(t *testing.T, engine Engine)) {
	for name, factory := range engineFactories(t) {
		t.Run(name, func(t *testing.T) {
			engine := factory(t)
			defer engine.Close()
			test(t, engine)
		})
	}
}

// =============================================================================
// SCHEMA TESTS
// =============================================================================

// TestEngineSchemaIdempotent verifies repeated schema application is a
// no-op that preserves data.
func TestEngineSchemaIdempotent(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "Laptop"})

		applyTestSchema(t, engine)

		if !engine.EntityExists("Product", "p-1") {
			t.Error("entity should survive a repeated schema application")
		}
		ids := collect(engine.LookupByName("Product", "name", "Laptop"))
		if len(ids) != 1 || ids[0] != "p-1" {
			t.Errorf("index entries should survive, got %v", ids)
		}
	})
}

// TestEngineCreateWithoutRegistry verifies creates against an
// unregistered type fail with ErrUnknownType.
func TestEngineCreateWithoutRegistry(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		err := engine.CreateEntity(&Entity{Type: "Ghost", ID: "g-1"})
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("expected ErrUnknownType, got %v", err)
		}
	})
}

// =============================================================================
// ENTITY TESTS
// =============================================================================

// TestEngineEntityLifecycle verifies create, get, update, and delete.
func TestEngineEntityLifecycle(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Customer", "c-1", map[string]any{"email": "ada@example.com"})

		got, err := engine.GetEntity("Customer", "c-1")
		if err != nil {
			t.Fatalf("GetEntity failed: %v", err)
		}
		if got.Attributes["email"] != "ada@example.com" {
			t.Errorf("unexpected attributes: %v", got.Attributes)
		}

		err = engine.UpdateEntity(&Entity{
			Type: "Customer", ID: "c-1",
			Attributes: map[string]any{"email": "ada@new.example.com"},
		})
		if err != nil {
			t.Fatalf("UpdateEntity failed: %v", err)
		}
		got, err = engine.GetEntity("Customer", "c-1")
		if err != nil {
			t.Fatalf("GetEntity after update failed: %v", err)
		}
		if got.Attributes["email"] != "ada@new.example.com" {
			t.Errorf("update not applied: %v", got.Attributes)
		}

		if err := engine.DeleteEntity("Customer", "c-1"); err != nil {
			t.Fatalf("DeleteEntity failed: %v", err)
		}
		if _, err := engine.GetEntity("Customer", "c-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

// TestEngineDuplicateID verifies the second create with the same id
// fails and leaves the first entity untouched.
func TestEngineDuplicateID(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "First"})

		err := engine.CreateEntity(&Entity{
			Type: "Product", ID: "p-1",
			Attributes: map[string]any{"name": "Second"},
		})
		if !errors.Is(err, ErrDuplicateID) {
			t.Fatalf("expected ErrDuplicateID, got %v", err)
		}

		got, err := engine.GetEntity("Product", "p-1")
		if err != nil {
			t.Fatalf("GetEntity failed: %v", err)
		}
		if got.Attributes["name"] != "First" {
			t.Errorf("rejected create must not modify the stored entity: %v", got.Attributes)
		}
		if ids := collect(engine.LookupByName("Product", "name", "Second")); len(ids) != 0 {
			t.Errorf("rejected create must not index, got %v", ids)
		}
	})
}

// TestEngineSameIDAcrossTypes verifies identifier uniqueness is scoped
// per type.
func TestEngineSameIDAcrossTypes(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Customer", "1", nil)
		mustCreate(t, engine, "Product", "1", map[string]any{"name": "One"})

		if !engine.EntityExists("Customer", "1") || !engine.EntityExists("Product", "1") {
			t.Error("same id should coexist under different types")
		}
	})
}

// TestEngineUpdateMissing verifies updates to unknown ids fail with
// ErrNotFound.
func TestEngineUpdateMissing(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		err := engine.UpdateEntity(&Entity{Type: "Order", ID: "o-404"})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// =============================================================================
// NAME INDEX TESTS
// =============================================================================

// TestEngineLookupByName verifies the non-unique index over the full
// entity lifecycle.
func TestEngineLookupByName(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "Widget"})
		mustCreate(t, engine, "Product", "p-2", map[string]any{"name": "Widget"})
		mustCreate(t, engine, "Product", "p-3", map[string]any{"name": "Gadget"})

		ids := collect(engine.LookupByName("Product", "name", "Widget"))
		if len(ids) != 2 || ids[0] != "p-1" || ids[1] != "p-2" {
			t.Fatalf("expected sorted [p-1 p-2], got %v", ids)
		}

		// Rename moves the entity between buckets
		err := engine.UpdateEntity(&Entity{
			Type: "Product", ID: "p-1",
			Attributes: map[string]any{"name": "Gadget"},
		})
		if err != nil {
			t.Fatalf("UpdateEntity failed: %v", err)
		}
		if ids := collect(engine.LookupByName("Product", "name", "Widget")); len(ids) != 1 {
			t.Errorf("expected [p-2] after rename, got %v", ids)
		}
		if ids := collect(engine.LookupByName("Product", "name", "Gadget")); len(ids) != 2 {
			t.Errorf("expected [p-1 p-3] after rename, got %v", ids)
		}

		// Delete removes the index entry
		if err := engine.DeleteEntity("Product", "p-2"); err != nil {
			t.Fatalf("DeleteEntity failed: %v", err)
		}
		if ids := collect(engine.LookupByName("Product", "name", "Widget")); len(ids) != 0 {
			t.Errorf("expected empty bucket after delete, got %v", ids)
		}
	})
}

// TestEngineLookupMissingValue verifies unmatched lookups yield an
// empty sequence.
func TestEngineLookupMissingValue(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		if ids := collect(engine.LookupByName("Product", "name", "nope")); len(ids) != 0 {
			t.Errorf("expected no ids, got %v", ids)
		}
	})
}

// TestEngineNonStringNameNotIndexed verifies only string values enter
// the index.
func TestEngineNonStringNameNotIndexed(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": 42})

		if ids := collect(engine.LookupByName("Product", "name", "42")); len(ids) != 0 {
			t.Errorf("numeric value should not be indexed, got %v", ids)
		}
	})
}

// =============================================================================
// RELATIONSHIP TESTS
// =============================================================================

// TestEngineRelationshipLifecycle verifies put, get, adjacency, and
// delete of relationships.
func TestEngineRelationshipLifecycle(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "Laptop"})
		mustCreate(t, engine, "Category", "cat-1", map[string]any{"name": "Electronics"})

		rel := &Relationship{
			ID:       RelID("IN_CATEGORY", "Product", "p-1", "Category", "cat-1"),
			Type:     "IN_CATEGORY",
			FromType: "Product", FromID: "p-1",
			ToType: "Category", ToID: "cat-1",
		}
		if err := engine.PutRelationship(rel); err != nil {
			t.Fatalf("PutRelationship failed: %v", err)
		}

		out, err := engine.OutgoingRelationships("Product", "p-1")
		if err != nil || len(out) != 1 {
			t.Fatalf("expected 1 outgoing, got %v (err=%v)", out, err)
		}
		in, err := engine.IncomingRelationships("Category", "cat-1")
		if err != nil || len(in) != 1 {
			t.Fatalf("expected 1 incoming, got %v (err=%v)", in, err)
		}

		if err := engine.DeleteRelationship(rel.ID); err != nil {
			t.Fatalf("DeleteRelationship failed: %v", err)
		}
		if _, err := engine.GetRelationship(rel.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		in, _ = engine.IncomingRelationships("Category", "cat-1")
		if len(in) != 0 {
			t.Errorf("adjacency not cleaned up: %v", in)
		}
	})
}

// TestEngineDanglingReference verifies relationships to unknown
// endpoints are rejected.
func TestEngineDanglingReference(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "Laptop"})

		rel := &Relationship{
			ID:       RelID("IN_CATEGORY", "Product", "p-1", "Category", "missing"),
			Type:     "IN_CATEGORY",
			FromType: "Product", FromID: "p-1",
			ToType: "Category", ToID: "missing",
		}
		if err := engine.PutRelationship(rel); !errors.Is(err, ErrDanglingReference) {
			t.Errorf("expected ErrDanglingReference, got %v", err)
		}
	})
}

// TestEngineRelationshipUpsert verifies a second put with the same id
// replaces attributes and keeps CreatedAt.
func TestEngineRelationshipUpsert(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Order", "o-1", nil)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "Laptop"})

		id := RelID("CONTAINS", "Order", "o-1", "Product", "p-1")
		put := func(qty int) error {
			return engine.PutRelationship(&Relationship{
				ID: id, Type: "CONTAINS",
				FromType: "Order", FromID: "o-1",
				ToType: "Product", ToID: "p-1",
				Attributes: map[string]any{"quantity": qty},
			})
		}
		if err := put(1); err != nil {
			t.Fatalf("first put failed: %v", err)
		}
		first, err := engine.GetRelationship(id)
		if err != nil {
			t.Fatalf("GetRelationship failed: %v", err)
		}
		if err := put(3); err != nil {
			t.Fatalf("second put failed: %v", err)
		}

		second, err := engine.GetRelationship(id)
		if err != nil {
			t.Fatalf("GetRelationship failed: %v", err)
		}
		if qty, ok := second.Attributes["quantity"].(int); ok && qty != 3 {
			t.Errorf("expected quantity 3, got %v", second.Attributes["quantity"])
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("upsert must preserve CreatedAt: %v vs %v", second.CreatedAt, first.CreatedAt)
		}

		count, err := engine.RelationshipCount()
		if err != nil || count != 1 {
			t.Errorf("expected 1 relationship, got %d (err=%v)", count, err)
		}
	})
}

// TestEngineRelationshipEndpointsImmutable verifies a put reusing an
// existing relationship id with different endpoints is rejected and
// leaves the stored relationship and adjacency untouched.
func TestEngineRelationshipEndpointsImmutable(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "Laptop"})
		mustCreate(t, engine, "Category", "cat-1", map[string]any{"name": "Electronics"})
		mustCreate(t, engine, "Category", "cat-2", map[string]any{"name": "Office"})

		id := RelID("IN_CATEGORY", "Product", "p-1", "Category", "cat-1")
		if err := engine.PutRelationship(&Relationship{
			ID: id, Type: "IN_CATEGORY",
			FromType: "Product", FromID: "p-1",
			ToType: "Category", ToID: "cat-1",
		}); err != nil {
			t.Fatalf("first put failed: %v", err)
		}

		err := engine.PutRelationship(&Relationship{
			ID: id, Type: "IN_CATEGORY",
			FromType: "Product", FromID: "p-1",
			ToType: "Category", ToID: "cat-2",
		})
		if !errors.Is(err, ErrInvalidData) {
			t.Fatalf("expected ErrInvalidData, got %v", err)
		}

		stored, err := engine.GetRelationship(id)
		if err != nil {
			t.Fatalf("GetRelationship failed: %v", err)
		}
		if stored.ToID != "cat-1" {
			t.Errorf("rejected put must not modify endpoints, got %s", stored.ToID)
		}
		in, _ := engine.IncomingRelationships("Category", "cat-2")
		if len(in) != 0 {
			t.Errorf("rejected put must not touch adjacency, got %v", in)
		}
	})
}

// TestEngineDeleteWithDependents verifies deletes are rejected while
// incoming relationships exist, and succeed once they are removed.
func TestEngineDeleteWithDependents(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "Laptop"})
		mustCreate(t, engine, "Category", "cat-1", map[string]any{"name": "Electronics"})

		rel := &Relationship{
			ID:       RelID("IN_CATEGORY", "Product", "p-1", "Category", "cat-1"),
			Type:     "IN_CATEGORY",
			FromType: "Product", FromID: "p-1",
			ToType: "Category", ToID: "cat-1",
		}
		if err := engine.PutRelationship(rel); err != nil {
			t.Fatalf("PutRelationship failed: %v", err)
		}

		if err := engine.DeleteEntity("Category", "cat-1"); !errors.Is(err, ErrHasDependents) {
			t.Fatalf("expected ErrHasDependents, got %v", err)
		}
		if !engine.EntityExists("Category", "cat-1") {
			t.Error("rejected delete must leave the entity in place")
		}

		// Deleting the source removes its outgoing relationships
		if err := engine.DeleteEntity("Product", "p-1"); err != nil {
			t.Fatalf("DeleteEntity(Product) failed: %v", err)
		}
		if err := engine.DeleteEntity("Category", "cat-1"); err != nil {
			t.Errorf("delete should succeed once dependents are gone: %v", err)
		}
		count, _ := engine.RelationshipCount()
		if count != 0 {
			t.Errorf("expected 0 relationships, got %d", count)
		}
	})
}

// =============================================================================
// STATS AND CLOSE
// =============================================================================

// TestEngineCounts verifies entity and relationship counts.
func TestEngineCounts(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		mustCreate(t, engine, "Customer", "c-1", nil)
		mustCreate(t, engine, "Customer", "c-2", nil)
		mustCreate(t, engine, "Product", "p-1", map[string]any{"name": "X"})

		if n, _ := engine.EntityCount("Customer"); n != 2 {
			t.Errorf("expected 2 customers, got %d", n)
		}
		if n, _ := engine.EntityCount("Product"); n != 1 {
			t.Errorf("expected 1 product, got %d", n)
		}
		if n, _ := engine.EntityCount("Order"); n != 0 {
			t.Errorf("expected 0 orders, got %d", n)
		}
	})
}

// TestEngineClosed verifies operations after Close fail with
// ErrStorageClosed.
func TestEngineClosed(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)
		if err := engine.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := engine.Close(); err != nil {
			t.Errorf("Close should be idempotent: %v", err)
		}

		err := engine.CreateEntity(&Entity{Type: "Customer", ID: "c-1"})
		if !errors.Is(err, ErrStorageClosed) {
			t.Errorf("expected ErrStorageClosed, got %v", err)
		}
		if _, err := engine.GetEntity("Customer", "c-1"); !errors.Is(err, ErrStorageClosed) {
			t.Errorf("expected ErrStorageClosed, got %v", err)
		}
		if ids := collect(engine.LookupByName("Product", "name", "x")); len(ids) != 0 {
			t.Errorf("closed engine lookup should be empty, got %v", ids)
		}
	})
}

// TestEngineConcurrentCreateSameID verifies exactly one winner under
// concurrent creates of the same id.
func TestEngineConcurrentCreateSameID(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		applyTestSchema(t, engine)

		const workers = 16
		var wg sync.WaitGroup
		results := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				results[n] = engine.CreateEntity(&Entity{
					Type: "Product", ID: "contested",
					Attributes: map[string]any{"name": fmt.Sprintf("w%d", n)},
				})
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range results {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicateID):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		if successes != 1 {
			t.Errorf("expected exactly 1 successful create, got %d", successes)
		}
		if n, _ := engine.EntityCount("Product"); n != 1 {
			t.Errorf("expected 1 product, got %d", n)
		}
	})
}
