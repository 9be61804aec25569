package catalog

import (
	"fmt"

	"github.com/shopgraph/shopgraph/pkg/storage"
)

// indexedNameTypes lists the types whose "name" attribute carries a
// non-unique secondary index.
var indexedNameTypes = []storage.EntityType{TypeProduct, TypeCategory}

// SchemaError reports which migration step failed.
type SchemaError struct {
	Step string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema step %q: %v", e.Step, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ApplySchema prepares an engine for catalog data: one identifier
// registry per entity type, then a name index on Product and Category.
//
// Every step is idempotent, so ApplySchema can run at every startup
// against an engine that already carries data. Steps run in a fixed
// order and the first failure aborts the run; steps already applied
// stay applied.
func ApplySchema(engine storage.Engine) error {
	for _, typ := range EntityTypes {
		if err := engine.EnsureRegistry(typ); err != nil {
			return &SchemaError{Step: fmt.Sprintf("registry:%s", typ), Err: err}
		}
	}
	for _, typ := range indexedNameTypes {
		if err := engine.EnsureNameIndex(typ, "name"); err != nil {
			return &SchemaError{Step: fmt.Sprintf("index:%s.name", typ), Err: err}
		}
	}
	return nil
}

// SchemaApplied reports whether every migration step is in place.
func SchemaApplied(engine storage.Engine) bool {
	for _, typ := range EntityTypes {
		if !engine.HasRegistry(typ) {
			return false
		}
	}
	for _, typ := range indexedNameTypes {
		if !engine.HasNameIndex(typ, "name") {
			return false
		}
	}
	return true
}
