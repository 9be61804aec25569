package etl

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopgraph/shopgraph/pkg/catalog"
	"github.com/shopgraph/shopgraph/pkg/storage"
)

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })
	require.NoError(t, catalog.ApplySchema(engine))
	return catalog.NewStore(engine)
}

func sampleDataset() *Dataset {
	return &Dataset{
		Customers: []*catalog.Customer{
			{ID: "c-1", Name: "Ada", Email: "ada@example.com", JoinDate: "2024-01-15"},
			{ID: "c-2", Name: "Grace", Email: "grace@example.com"},
		},
		Categories: []*catalog.Category{
			{ID: "cat-1", Name: "Electronics"},
		},
		Products: []*catalog.Product{
			{ID: "p-1", Name: "Laptop", PriceCents: 129900, CategoryID: "cat-1"},
			{ID: "p-2", Name: "Laptop", PriceCents: 99900, CategoryID: "cat-1"},
		},
		Orders: []*catalog.Order{
			{ID: "o-1", CustomerID: "c-1", Status: "shipped", TotalCents: 129900, CreatedAt: "2024-02-01T10:00:00Z"},
		},
		OrderItems: []*catalog.OrderItem{
			{OrderID: "o-1", ProductID: "p-1", Quantity: 1},
		},
		Events: []*catalog.Event{
			{CustomerID: "c-2", ProductID: "p-1", Kind: "view", Timestamp: time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC)},
			{CustomerID: "c-2", ProductID: "p-1", Kind: "teleport"},
		},
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	result, err := Load(ctx, store, sampleDataset(), DefaultBatchSize)
	require.NoError(t, err)

	// 2 customers + 1 category + 2 products + 1 order
	assert.Equal(t, 6, result.Entities)
	// 2 IN_CATEGORY + 1 PLACED + 1 CONTAINS + 1 VIEWED, unknown kind skipped
	assert.Equal(t, 5, result.Relationships)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Customers)
	assert.Equal(t, int64(5), stats.Relationships)

	products, err := store.FindProductsByName(ctx, "Laptop")
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestLoadIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ds := sampleDataset()

	_, err := Load(ctx, store, ds, DefaultBatchSize)
	require.NoError(t, err)
	_, err = Load(ctx, store, ds, DefaultBatchSize)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Customers)
	assert.Equal(t, int64(2), stats.Products)
	assert.Equal(t, int64(1), stats.Orders)
	assert.Equal(t, int64(5), stats.Relationships)
}

func TestLoadDanglingCategory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ds := &Dataset{
		Products: []*catalog.Product{
			{ID: "p-1", Name: "Orphan", CategoryID: "missing"},
		},
	}
	_, err := Load(ctx, store, ds, DefaultBatchSize)
	require.ErrorIs(t, err, storage.ErrDanglingReference)
}

func TestExtract(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	// Table extraction is concurrent
	mock.MatchExpectationsInOrder(false)

	joined := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	placed := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	viewed := time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name, join_date FROM customers").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "join_date"}).
			AddRow("c-1", "Ada", joined).
			AddRow("c-2", "Grace", nil))
	mock.ExpectQuery("SELECT id, name FROM categories").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("cat-1", "Electronics"))
	mock.ExpectQuery("SELECT id, name, price, category_id FROM products").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "category_id"}).
			AddRow("p-1", "Laptop", 19.99, "cat-1").
			AddRow("p-2", "Cable", 9.99, nil))
	mock.ExpectQuery("SELECT id, customer_id, ts FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "ts"}).
			AddRow("o-1", "c-1", placed))
	mock.ExpectQuery("SELECT order_id, product_id, quantity FROM order_items").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "product_id", "quantity"}).
			AddRow("o-1", "p-1", 1))
	mock.ExpectQuery("SELECT customer_id, product_id, event_type, ts FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id", "product_id", "event_type", "ts"}).
			AddRow("c-2", "p-1", "view", viewed))

	ds, err := Extract(context.Background(), db)
	require.NoError(t, err)

	require.Len(t, ds.Customers, 2)
	assert.Equal(t, "2024-01-15", ds.Customers[0].JoinDate)
	assert.Empty(t, ds.Customers[1].JoinDate)

	require.Len(t, ds.Products, 2)
	// Fractional prices round to exact cents
	assert.Equal(t, int64(1999), ds.Products[0].PriceCents)
	assert.Equal(t, int64(999), ds.Products[1].PriceCents)
	assert.Equal(t, storage.EntityID(""), ds.Products[1].CategoryID)

	require.Len(t, ds.Orders, 1)
	assert.Equal(t, "2024-02-01T10:00:00Z", ds.Orders[0].CreatedAt)

	require.Len(t, ds.Events, 1)
	assert.Equal(t, "view", ds.Events[0].Kind)
	assert.Equal(t, viewed, ds.Events[0].Timestamp)
}

func TestExtractQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery("SELECT id, name, join_date FROM customers").
		WillReturnError(assert.AnError)

	_, err = Extract(context.Background(), db)
	require.Error(t, err)
}

func TestWaitForPostgres(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	require.NoError(t, WaitForPostgres(context.Background(), db, time.Second))
}
