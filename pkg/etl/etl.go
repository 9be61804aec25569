// Package etl loads a relational shop database into the graph catalog.
//
// The pipeline has three stages: wait for Postgres to accept
// connections, extract the six source tables concurrently, then load
// entities and relationships through the catalog store in dependency
// order. Loads are upserts, so re-running the pipeline against a
// populated engine converges instead of failing.
package etl

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/shopgraph/shopgraph/pkg/catalog"
	"github.com/shopgraph/shopgraph/pkg/storage"
)

// Defaults mirror the loader's operational envelope.
const (
	DefaultBatchSize   = 1000
	DefaultWaitTimeout = 120 * time.Second

	pingInterval = 2 * time.Second
)

// Source table queries. Rows are ordered by key so batch boundaries
// are stable across runs.
const (
	queryCustomers  = `SELECT id, name, join_date FROM customers ORDER BY id`
	queryCategories = `SELECT id, name FROM categories ORDER BY id`
	queryProducts   = `SELECT id, name, price, category_id FROM products ORDER BY id`
	queryOrders     = `SELECT id, customer_id, ts FROM orders ORDER BY id`
	queryOrderItems = `SELECT order_id, product_id, quantity FROM order_items ORDER BY order_id, product_id`
	queryEvents     = `SELECT customer_id, product_id, event_type, ts FROM events ORDER BY customer_id, product_id, ts`
)

// Dataset holds everything extracted from the source database.
type Dataset struct {
	Customers  []*catalog.Customer
	Categories []*catalog.Category
	Products   []*catalog.Product
	Orders     []*catalog.Order
	OrderItems []*catalog.OrderItem
	Events     []*catalog.Event
}

// Result counts what a load wrote.
type Result struct {
	Entities      int
	Relationships int
	Elapsed       time.Duration
}

// Connect opens a Postgres connection pool. The connection is not
// verified; use WaitForPostgres before extracting.
func Connect(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// WaitForPostgres pings until the database answers or the timeout
// elapses.
func WaitForPostgres(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pingCtx, cancel := context.WithTimeout(ctx, pingInterval)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("postgres not ready after %s: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pingInterval):
		}
	}
}

// Extract reads the six source tables, one goroutine per table.
func Extract(ctx context.Context, db *sql.DB) (*Dataset, error) {
	ds := &Dataset{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		ds.Customers, err = extractCustomers(ctx, db)
		return err
	})
	g.Go(func() error {
		var err error
		ds.Categories, err = extractCategories(ctx, db)
		return err
	})
	g.Go(func() error {
		var err error
		ds.Products, err = extractProducts(ctx, db)
		return err
	})
	g.Go(func() error {
		var err error
		ds.Orders, err = extractOrders(ctx, db)
		return err
	})
	g.Go(func() error {
		var err error
		ds.OrderItems, err = extractOrderItems(ctx, db)
		return err
	})
	g.Go(func() error {
		var err error
		ds.Events, err = extractEvents(ctx, db)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ds, nil
}

func extractCustomers(ctx context.Context, db *sql.DB) ([]*catalog.Customer, error) {
	rows, err := db.QueryContext(ctx, queryCustomers)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Customer
	for rows.Next() {
		var (
			id, name sql.NullString
			joinDate sql.NullTime
		)
		if err := rows.Scan(&id, &name, &joinDate); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, &catalog.Customer{
			ID:       entityID(id),
			Name:     name.String,
			JoinDate: isoDate(joinDate),
		})
	}
	return out, rows.Err()
}

func extractCategories(ctx context.Context, db *sql.DB) ([]*catalog.Category, error) {
	rows, err := db.QueryContext(ctx, queryCategories)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Category
	for rows.Next() {
		var id, name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, &catalog.Category{ID: entityID(id), Name: name.String})
	}
	return out, rows.Err()
}

func extractProducts(ctx context.Context, db *sql.DB) ([]*catalog.Product, error) {
	rows, err := db.QueryContext(ctx, queryProducts)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Product
	for rows.Next() {
		var (
			id, name, categoryID sql.NullString
			price                sql.NullFloat64
		)
		if err := rows.Scan(&id, &name, &price, &categoryID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, &catalog.Product{
			ID:         entityID(id),
			Name:       name.String,
			PriceCents: toCents(price),
			CategoryID: entityID(categoryID),
		})
	}
	return out, rows.Err()
}

func extractOrders(ctx context.Context, db *sql.DB) ([]*catalog.Order, error) {
	rows, err := db.QueryContext(ctx, queryOrders)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Order
	for rows.Next() {
		var (
			id, customerID sql.NullString
			ts             sql.NullTime
		)
		if err := rows.Scan(&id, &customerID, &ts); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, &catalog.Order{
			ID:         entityID(id),
			CustomerID: entityID(customerID),
			CreatedAt:  isoTimestamp(ts),
		})
	}
	return out, rows.Err()
}

func extractOrderItems(ctx context.Context, db *sql.DB) ([]*catalog.OrderItem, error) {
	rows, err := db.QueryContext(ctx, queryOrderItems)
	if err != nil {
		return nil, fmt.Errorf("query order_items: %w", err)
	}
	defer rows.Close()

	var out []*catalog.OrderItem
	for rows.Next() {
		var (
			orderID, productID sql.NullString
			quantity           sql.NullInt64
		)
		if err := rows.Scan(&orderID, &productID, &quantity); err != nil {
			return nil, fmt.Errorf("scan order_item: %w", err)
		}
		out = append(out, &catalog.OrderItem{
			OrderID:   entityID(orderID),
			ProductID: entityID(productID),
			Quantity:  quantity.Int64,
		})
	}
	return out, rows.Err()
}

func extractEvents(ctx context.Context, db *sql.DB) ([]*catalog.Event, error) {
	rows, err := db.QueryContext(ctx, queryEvents)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Event
	for rows.Next() {
		var (
			customerID, productID, eventType sql.NullString
			ts                               sql.NullTime
		)
		if err := rows.Scan(&customerID, &productID, &eventType, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := &catalog.Event{
			CustomerID: entityID(customerID),
			ProductID:  entityID(productID),
			Kind:       eventType.String,
		}
		if ts.Valid {
			ev.Timestamp = ts.Time
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Load writes the dataset through the store in dependency order:
// entities without references first, then the entities and
// relationships that point at them. Unknown event kinds are skipped
// and counted as skips rather than failing the run.
func Load(ctx context.Context, store *catalog.Store, ds *Dataset, batchSize int) (*Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()
	result := &Result{}

	if err := loadBatches(ctx, "categories", len(ds.Categories), batchSize, func(i int) error {
		c := ds.Categories[i]
		if _, err := store.Upsert(ctx, catalog.TypeCategory, c.ID, map[string]any{"name": c.Name}); err != nil {
			return err
		}
		result.Entities++
		return nil
	}); err != nil {
		return result, err
	}

	if err := loadBatches(ctx, "customers", len(ds.Customers), batchSize, func(i int) error {
		c := ds.Customers[i]
		attrs := map[string]any{"name": c.Name}
		if c.Email != "" {
			attrs["email"] = c.Email
		}
		if c.JoinDate != "" {
			attrs["join_date"] = c.JoinDate
		}
		if _, err := store.Upsert(ctx, catalog.TypeCustomer, c.ID, attrs); err != nil {
			return err
		}
		result.Entities++
		return nil
	}); err != nil {
		return result, err
	}

	if err := loadBatches(ctx, "products", len(ds.Products), batchSize, func(i int) error {
		p := ds.Products[i]
		attrs := map[string]any{"name": p.Name, "price_cents": p.PriceCents}
		if _, err := store.Upsert(ctx, catalog.TypeProduct, p.ID, attrs); err != nil {
			return err
		}
		result.Entities++
		if p.CategoryID != "" {
			if _, err := store.Link(ctx, catalog.RelInCategory, catalog.TypeProduct, p.ID, catalog.TypeCategory, p.CategoryID, nil); err != nil {
				return err
			}
			result.Relationships++
		}
		return nil
	}); err != nil {
		return result, err
	}

	if err := loadBatches(ctx, "orders", len(ds.Orders), batchSize, func(i int) error {
		o := ds.Orders[i]
		attrs := map[string]any{}
		if o.Status != "" {
			attrs["status"] = o.Status
		}
		if o.TotalCents != 0 {
			attrs["total_cents"] = o.TotalCents
		}
		if o.CreatedAt != "" {
			attrs["created_at"] = o.CreatedAt
		}
		if _, err := store.Upsert(ctx, catalog.TypeOrder, o.ID, attrs); err != nil {
			return err
		}
		result.Entities++
		if o.CustomerID != "" {
			if _, err := store.Link(ctx, catalog.RelPlaced, catalog.TypeCustomer, o.CustomerID, catalog.TypeOrder, o.ID, nil); err != nil {
				return err
			}
			result.Relationships++
		}
		return nil
	}); err != nil {
		return result, err
	}

	if err := loadBatches(ctx, "order_items", len(ds.OrderItems), batchSize, func(i int) error {
		if _, err := store.AddOrderItem(ctx, ds.OrderItems[i]); err != nil {
			return err
		}
		result.Relationships++
		return nil
	}); err != nil {
		return result, err
	}

	if err := loadBatches(ctx, "events", len(ds.Events), batchSize, func(i int) error {
		ev := ds.Events[i]
		if _, ok := catalog.EventRelations[ev.Kind]; !ok {
			log.Printf("etl: skipping event with unknown kind %q", ev.Kind)
			return nil
		}
		if _, err := store.RecordEvent(ctx, ev); err != nil {
			return err
		}
		result.Relationships++
		return nil
	}); err != nil {
		return result, err
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// loadBatches applies fn to each index, logging progress per batch.
func loadBatches(ctx context.Context, table string, total, batchSize int, fn func(i int) error) error {
	for offset := 0; offset < total; offset += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := offset + batchSize
		if end > total {
			end = total
		}
		for i := offset; i < end; i++ {
			if err := fn(i); err != nil {
				return fmt.Errorf("load %s row %d: %w", table, i, err)
			}
		}
		log.Printf("etl: %s %d/%d", table, end, total)
	}
	return nil
}

// Run executes the full pipeline against a source database URL.
func Run(ctx context.Context, store *catalog.Store, postgresURL string, batchSize int, waitTimeout time.Duration) (*Result, error) {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	db, err := Connect(postgresURL)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := WaitForPostgres(ctx, db, waitTimeout); err != nil {
		return nil, err
	}

	log.Printf("etl: extracting source tables")
	ds, err := Extract(ctx, db)
	if err != nil {
		return nil, err
	}

	log.Printf("etl: loading %d customers, %d categories, %d products, %d orders",
		len(ds.Customers), len(ds.Categories), len(ds.Products), len(ds.Orders))
	return Load(ctx, store, ds, batchSize)
}

// entityID converts a nullable key column.
func entityID(s sql.NullString) storage.EntityID {
	return storage.EntityID(s.String)
}

// toCents converts a currency column to integer cents, rounded so
// fractional representations like 19.99 stay exact.
func toCents(f sql.NullFloat64) int64 {
	return int64(math.Round(f.Float64 * 100))
}

// isoDate formats a nullable DATE column, empty when null.
func isoDate(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format("2006-01-02")
}

// isoTimestamp formats a nullable timestamp column, empty when null.
func isoTimestamp(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339)
}
