package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/shopgraph/shopgraph/pkg/storage"
)

// Store is the catalog facade over a storage engine. All writes go
// through the engine's atomic operations, so a Store is safe for
// concurrent use whenever its engine is.
type Store struct {
	engine storage.Engine
}

// NewStore wraps an engine. The engine must already carry the catalog
// schema; run ApplySchema first.
func NewStore(engine storage.Engine) *Store {
	return &Store{engine: engine}
}

// Engine exposes the underlying engine for stats and maintenance.
func (s *Store) Engine() storage.Engine {
	return s.engine
}

// ============================================================================
// Generic entity operations
// ============================================================================

// Create stores a new entity of the given type.
func (s *Store) Create(ctx context.Context, typ storage.EntityType, id storage.EntityID, attrs map[string]any) (*storage.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := &storage.Entity{Type: typ, ID: id, Attributes: attrs}
	if err := s.engine.CreateEntity(e); err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", typ, id, err)
	}
	return s.engine.GetEntity(typ, id)
}

// Get retrieves an entity.
func (s *Store) Get(ctx context.Context, typ storage.EntityType, id storage.EntityID) (*storage.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.engine.GetEntity(typ, id)
}

// Update replaces an entity's attributes.
func (s *Store) Update(ctx context.Context, typ storage.EntityType, id storage.EntityID, attrs map[string]any) (*storage.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := &storage.Entity{Type: typ, ID: id, Attributes: attrs}
	if err := s.engine.UpdateEntity(e); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", typ, id, err)
	}
	return s.engine.GetEntity(typ, id)
}

// Upsert creates the entity, or replaces its attributes when the id is
// already taken. Mirrors MERGE semantics for loaders that re-run.
func (s *Store) Upsert(ctx context.Context, typ storage.EntityType, id storage.EntityID, attrs map[string]any) (*storage.Entity, error) {
	entity, err := s.Create(ctx, typ, id, attrs)
	if errors.Is(err, storage.ErrDuplicateID) {
		return s.Update(ctx, typ, id, attrs)
	}
	return entity, err
}

// Delete removes an entity. Fails with storage.ErrHasDependents while
// other entities still reference it.
func (s *Store) Delete(ctx context.Context, typ storage.EntityType, id storage.EntityID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.engine.DeleteEntity(typ, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", typ, id, err)
	}
	return nil
}

// ============================================================================
// Relationships
// ============================================================================

// Link connects two entities. Linking the same (relation, from, to)
// triple again replaces the attributes of the existing relationship.
// Both endpoints must exist or the call fails with
// storage.ErrDanglingReference.
func (s *Store) Link(ctx context.Context, relation string, fromType storage.EntityType, fromID storage.EntityID, toType storage.EntityType, toID storage.EntityID, attrs map[string]any) (*storage.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := &storage.Relationship{
		ID:         storage.RelID(relation, fromType, fromID, toType, toID),
		Type:       relation,
		FromType:   fromType,
		FromID:     fromID,
		ToType:     toType,
		ToID:       toID,
		Attributes: attrs,
	}
	if err := s.engine.PutRelationship(rel); err != nil {
		return nil, fmt.Errorf("link %s %s/%s -> %s/%s: %w", relation, fromType, fromID, toType, toID, err)
	}
	return s.engine.GetRelationship(rel.ID)
}

// Unlink removes the relationship for the (relation, from, to) triple.
func (s *Store) Unlink(ctx context.Context, relation string, fromType storage.EntityType, fromID storage.EntityID, toType storage.EntityType, toID storage.EntityID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := storage.RelID(relation, fromType, fromID, toType, toID)
	if err := s.engine.DeleteRelationship(id); err != nil {
		return fmt.Errorf("unlink %s %s/%s -> %s/%s: %w", relation, fromType, fromID, toType, toID, err)
	}
	return nil
}

// Outgoing returns the relationships sourced from an entity.
func (s *Store) Outgoing(ctx context.Context, typ storage.EntityType, id storage.EntityID) ([]*storage.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.engine.OutgoingRelationships(typ, id)
}

// Incoming returns the relationships pointing at an entity.
func (s *Store) Incoming(ctx context.Context, typ storage.EntityType, id storage.EntityID) ([]*storage.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.engine.IncomingRelationships(typ, id)
}

// ============================================================================
// Name lookups
// ============================================================================

// FindByName returns the entities of a type whose indexed name equals
// value. The id set is a snapshot taken at call time; entities resolve
// lazily as the sequence is consumed, and ids deleted since the
// snapshot are skipped.
func (s *Store) FindByName(ctx context.Context, typ storage.EntityType, value string) iter.Seq[*storage.Entity] {
	ids := s.engine.LookupByName(typ, "name", value)
	return func(yield func(*storage.Entity) bool) {
		for id := range ids {
			if ctx.Err() != nil {
				return
			}
			entity, err := s.engine.GetEntity(typ, id)
			if err != nil {
				continue
			}
			if !yield(entity) {
				return
			}
		}
	}
}

// FindProductsByName returns the products sharing a name.
func (s *Store) FindProductsByName(ctx context.Context, name string) ([]*Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	products := make([]*Product, 0)
	for e := range s.FindByName(ctx, TypeProduct, name) {
		products = append(products, ProductFromEntity(e))
	}
	return products, nil
}

// FindCategoriesByName returns the categories sharing a name.
func (s *Store) FindCategoriesByName(ctx context.Context, name string) ([]*Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	categories := make([]*Category, 0)
	for e := range s.FindByName(ctx, TypeCategory, name) {
		categories = append(categories, CategoryFromEntity(e))
	}
	return categories, nil
}

// ============================================================================
// Typed helpers
// ============================================================================

// AddCustomer stores a customer.
func (s *Store) AddCustomer(ctx context.Context, c *Customer) (*storage.Entity, error) {
	return s.Create(ctx, TypeCustomer, c.ID, c.attributes())
}

// AddCategory stores a category.
func (s *Store) AddCategory(ctx context.Context, c *Category) (*storage.Entity, error) {
	return s.Create(ctx, TypeCategory, c.ID, c.attributes())
}

// AddProduct stores a product and, when CategoryID is set, links it to
// its category. The category must already exist.
func (s *Store) AddProduct(ctx context.Context, p *Product) (*storage.Entity, error) {
	entity, err := s.Create(ctx, TypeProduct, p.ID, p.attributes())
	if err != nil {
		return nil, err
	}
	if p.CategoryID != "" {
		if _, err := s.Link(ctx, RelInCategory, TypeProduct, p.ID, TypeCategory, p.CategoryID, nil); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

// AddOrder stores an order and, when CustomerID is set, links the
// placing customer.
func (s *Store) AddOrder(ctx context.Context, o *Order) (*storage.Entity, error) {
	entity, err := s.Create(ctx, TypeOrder, o.ID, o.attributes())
	if err != nil {
		return nil, err
	}
	if o.CustomerID != "" {
		if _, err := s.Link(ctx, RelPlaced, TypeCustomer, o.CustomerID, TypeOrder, o.ID, nil); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

// AddOrderItem links an order to a product with a quantity. Re-adding
// the same line replaces the quantity.
func (s *Store) AddOrderItem(ctx context.Context, item *OrderItem) (*storage.Relationship, error) {
	return s.Link(ctx, RelContains, TypeOrder, item.OrderID, TypeProduct, item.ProductID,
		map[string]any{"quantity": item.Quantity})
}

// RecordEvent links a customer to a product with the relationship type
// matching the event kind.
func (s *Store) RecordEvent(ctx context.Context, ev *Event) (*storage.Relationship, error) {
	relation, ok := EventRelations[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("record event: unknown kind %q: %w", ev.Kind, storage.ErrInvalidData)
	}
	attrs := map[string]any{}
	if !ev.Timestamp.IsZero() {
		attrs["ts"] = ev.Timestamp.UTC().Format(time.RFC3339)
	}
	return s.Link(ctx, relation, TypeCustomer, ev.CustomerID, TypeProduct, ev.ProductID, attrs)
}

// ProductCategory resolves the category a product is filed under, or
// nil when it has none.
func (s *Store) ProductCategory(ctx context.Context, productID storage.EntityID) (*Category, error) {
	rels, err := s.Outgoing(ctx, TypeProduct, productID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		if rel.Type != RelInCategory {
			continue
		}
		entity, err := s.engine.GetEntity(TypeCategory, rel.ToID)
		if err != nil {
			return nil, err
		}
		return CategoryFromEntity(entity), nil
	}
	return nil, nil
}

// CustomerOrders returns the orders a customer has placed.
func (s *Store) CustomerOrders(ctx context.Context, customerID storage.EntityID) ([]*Order, error) {
	rels, err := s.Outgoing(ctx, TypeCustomer, customerID)
	if err != nil {
		return nil, err
	}
	orders := make([]*Order, 0)
	for _, rel := range rels {
		if rel.Type != RelPlaced {
			continue
		}
		entity, err := s.engine.GetEntity(TypeOrder, rel.ToID)
		if err != nil {
			continue
		}
		order := OrderFromEntity(entity)
		order.CustomerID = customerID
		orders = append(orders, order)
	}
	return orders, nil
}

// OrderItems returns the line items of an order.
func (s *Store) OrderItems(ctx context.Context, orderID storage.EntityID) ([]*OrderItem, error) {
	rels, err := s.Outgoing(ctx, TypeOrder, orderID)
	if err != nil {
		return nil, err
	}
	items := make([]*OrderItem, 0)
	for _, rel := range rels {
		if rel.Type != RelContains {
			continue
		}
		items = append(items, &OrderItem{
			OrderID:   orderID,
			ProductID: rel.ToID,
			Quantity:  asInt64(rel.Attributes["quantity"]),
		})
	}
	return items, nil
}

// ============================================================================
// Stats
// ============================================================================

// Stats summarizes catalog contents.
type Stats struct {
	Customers     int64
	Products      int64
	Categories    int64
	Orders        int64
	Relationships int64
}

// Stats counts entities per type and relationships overall.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats := &Stats{}
	for typ, dst := range map[storage.EntityType]*int64{
		TypeCustomer: &stats.Customers,
		TypeProduct:  &stats.Products,
		TypeCategory: &stats.Categories,
		TypeOrder:    &stats.Orders,
	} {
		n, err := s.engine.EntityCount(typ)
		if err != nil {
			return nil, err
		}
		*dst = n
	}
	n, err := s.engine.RelationshipCount()
	if err != nil {
		return nil, err
	}
	stats.Relationships = n
	return stats, nil
}
