// Package catalog provides the product catalog domain layer on top of
// the storage engines.
//
// The catalog is graph shaped: customers, products, categories, and
// orders are entities, and the connections between them (a product's
// category, a customer's orders, an order's line items, browsing
// events) are relationships. The package owns the entity and
// relationship vocabulary, the typed record conversions, and the
// schema migration that prepares an engine for catalog data.
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	if err := catalog.ApplySchema(engine); err != nil {
//		log.Fatal(err)
//	}
//
//	store := catalog.NewStore(engine)
//	_, err := store.AddProduct(ctx, &catalog.Product{
//		ID:         "p-1",
//		Name:       "Laptop",
//		PriceCents: 129900,
//		CategoryID: "cat-1",
//	})
package catalog

import (
	"time"

	"github.com/shopgraph/shopgraph/pkg/storage"
)

// Entity types known to the catalog.
const (
	TypeCustomer storage.EntityType = "Customer"
	TypeProduct  storage.EntityType = "Product"
	TypeCategory storage.EntityType = "Category"
	TypeOrder    storage.EntityType = "Order"
)

// EntityTypes lists every catalog entity type in schema order.
var EntityTypes = []storage.EntityType{TypeCustomer, TypeProduct, TypeCategory, TypeOrder}

// Relationship vocabulary.
const (
	// RelInCategory connects a Product to its Category.
	RelInCategory = "IN_CATEGORY"

	// RelPlaced connects a Customer to an Order they placed.
	RelPlaced = "PLACED"

	// RelContains connects an Order to a Product line item. Carries a
	// "quantity" attribute.
	RelContains = "CONTAINS"

	// Browsing events, Customer to Product. Carry a "ts" attribute.
	RelViewed      = "VIEWED"
	RelClicked     = "CLICKED"
	RelAddedToCart = "ADDED_TO_CART"
)

// EventRelations maps raw event kinds to relationship types.
var EventRelations = map[string]string{
	"view":        RelViewed,
	"click":       RelClicked,
	"add_to_cart": RelAddedToCart,
}

// Customer is a registered shopper.
type Customer struct {
	ID       storage.EntityID
	Name     string
	Email    string
	JoinDate string // ISO date, empty when unknown
}

// Product is a sellable item. Name is indexed and non-unique.
type Product struct {
	ID         storage.EntityID
	Name       string
	PriceCents int64
	CategoryID storage.EntityID // linked via IN_CATEGORY when set
}

// Category groups products. Name is indexed and non-unique.
type Category struct {
	ID   storage.EntityID
	Name string
}

// Order is a placed order.
type Order struct {
	ID         storage.EntityID
	CustomerID storage.EntityID // linked via PLACED when set
	Status     string
	TotalCents int64
	CreatedAt  string // ISO timestamp, empty when unknown
}

// OrderItem is one line of an order.
type OrderItem struct {
	OrderID   storage.EntityID
	ProductID storage.EntityID
	Quantity  int64
}

// Event is a recorded browsing interaction.
type Event struct {
	CustomerID storage.EntityID
	ProductID  storage.EntityID
	Kind       string // view, click, add_to_cart
	Timestamp  time.Time
}

// ============================================================================
// Attribute conversions
// ============================================================================

func (c *Customer) attributes() map[string]any {
	attrs := map[string]any{
		"name":  c.Name,
		"email": c.Email,
	}
	if c.JoinDate != "" {
		attrs["join_date"] = c.JoinDate
	}
	return attrs
}

// CustomerFromEntity converts a stored entity back to a Customer.
func CustomerFromEntity(e *storage.Entity) *Customer {
	c := &Customer{ID: e.ID}
	c.Name, _ = e.Attributes["name"].(string)
	c.Email, _ = e.Attributes["email"].(string)
	c.JoinDate, _ = e.Attributes["join_date"].(string)
	return c
}

func (p *Product) attributes() map[string]any {
	return map[string]any{
		"name":        p.Name,
		"price_cents": p.PriceCents,
	}
}

// ProductFromEntity converts a stored entity back to a Product. The
// CategoryID field is not stored on the entity; it lives on the
// IN_CATEGORY relationship and is left empty here.
func ProductFromEntity(e *storage.Entity) *Product {
	p := &Product{ID: e.ID}
	p.Name, _ = e.Attributes["name"].(string)
	p.PriceCents = asInt64(e.Attributes["price_cents"])
	return p
}

func (c *Category) attributes() map[string]any {
	return map[string]any{"name": c.Name}
}

// CategoryFromEntity converts a stored entity back to a Category.
func CategoryFromEntity(e *storage.Entity) *Category {
	cat := &Category{ID: e.ID}
	cat.Name, _ = e.Attributes["name"].(string)
	return cat
}

func (o *Order) attributes() map[string]any {
	attrs := map[string]any{
		"status":      o.Status,
		"total_cents": o.TotalCents,
	}
	if o.CreatedAt != "" {
		attrs["created_at"] = o.CreatedAt
	}
	return attrs
}

// OrderFromEntity converts a stored entity back to an Order. The
// CustomerID field lives on the PLACED relationship and is left empty.
func OrderFromEntity(e *storage.Entity) *Order {
	o := &Order{ID: e.ID}
	o.Status, _ = e.Attributes["status"].(string)
	o.TotalCents = asInt64(e.Attributes["total_cents"])
	o.CreatedAt, _ = e.Attributes["created_at"].(string)
	return o
}

// asInt64 normalizes the numeric types that survive a JSON round trip.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
