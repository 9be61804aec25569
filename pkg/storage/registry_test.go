// Package storage - Unit tests for the identifier registry.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// TestRegistryEnsureIdempotent verifies Ensure can be called repeatedly.
func TestRegistryEnsureIdempotent(t *testing.T) {
	reg := NewIdentifierRegistry()

	reg.Ensure("Product")
	reg.Ensure("Product")
	if !reg.Has("Product") {
		t.Error("registry should exist after Ensure")
	}
}

// TestRegistryRegisterDuplicate verifies the second registration of an id
// fails with ErrDuplicateID.
func TestRegistryRegisterDuplicate(t *testing.T) {
	reg := NewIdentifierRegistry()
	reg.Ensure("Customer")

	if err := reg.Register("Customer", "c-1"); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := reg.Register("Customer", "c-1")
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

// TestRegistryScopedPerType verifies the same id can live under two types.
func TestRegistryScopedPerType(t *testing.T) {
	reg := NewIdentifierRegistry()
	for _, typ := range []EntityType{"Customer", "Product"} {
		reg.Ensure(typ)
	}

	if err := reg.Register("Customer", "shared-1"); err != nil {
		t.Fatalf("Register(Customer) failed: %v", err)
	}
	if err := reg.Register("Product", "shared-1"); err != nil {
		t.Errorf("same id under a different type should register: %v", err)
	}
}

// TestRegistryUnknownType verifies registration against a missing
// registry fails with ErrUnknownType.
func TestRegistryUnknownType(t *testing.T) {
	reg := NewIdentifierRegistry()

	err := reg.Register("Ghost", "g-1")
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

// TestRegistryEmptyID verifies empty ids are rejected.
func TestRegistryEmptyID(t *testing.T) {
	reg := NewIdentifierRegistry()
	reg.Ensure("Order")

	err := reg.Register("Order", "")
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

// TestRegistryUnregister verifies an id can be freed and reused.
func TestRegistryUnregister(t *testing.T) {
	reg := NewIdentifierRegistry()
	reg.Ensure("Category")

	if err := reg.Register("Category", "cat-1"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Unregister("Category", "cat-1"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if reg.Exists("Category", "cat-1") {
		t.Error("id should not exist after Unregister")
	}
	if err := reg.Register("Category", "cat-1"); err != nil {
		t.Errorf("freed id should be registrable again: %v", err)
	}
}

// TestRegistryUnregisterMissing verifies unregistering an unknown id
// fails with ErrNotFound.
func TestRegistryUnregisterMissing(t *testing.T) {
	reg := NewIdentifierRegistry()
	reg.Ensure("Order")

	err := reg.Unregister("Order", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestRegistryExistsUnknownType verifies Exists is non-failing for types
// without a registry.
func TestRegistryExistsUnknownType(t *testing.T) {
	reg := NewIdentifierRegistry()

	if reg.Exists("Ghost", "g-1") {
		t.Error("Exists should be false for a type with no registry")
	}
}

// TestRegistryConcurrentSameID verifies exactly one of N concurrent
// registrations of the same id succeeds.
func TestRegistryConcurrentSameID(t *testing.T) {
	reg := NewIdentifierRegistry()
	reg.Ensure("Product")

	const workers = 32
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = reg.Register("Product", "contested")
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
		t.Errorf("expected exactly 1 success, got %d", successes)
	}
}

// TestRegistryConcurrentDistinctIDs verifies concurrent registrations of
// distinct ids all succeed.
func TestRegistryConcurrentDistinctIDs(t *testing.T) {
	reg := NewIdentifierRegistry()
	reg.Ensure("Customer")

	const workers = 64
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := reg.Register("Customer", EntityID(fmt.Sprintf("c-%d", n))); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("distinct-id registration failed: %v", err)
	}
	if got := reg.Count("Customer"); got != workers {
		t.Errorf("expected %d registered ids, got %d", workers, got)
	}
}
