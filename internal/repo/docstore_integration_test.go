//go:build integration

package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	testpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alkahf/storefront/internal/catalog"
	"github.com/alkahf/storefront/internal/docstore"
	"github.com/alkahf/storefront/internal/order"
	"github.com/alkahf/storefront/internal/promotion"
	"github.com/alkahf/storefront/internal/repo"
)

func setupDocs(t *testing.T) *docstore.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	ctx := context.Background()
	container, err := testpostgres.Run(ctx,
		"postgres:16-alpine",
		testpostgres.WithDatabase("storefront"),
		testpostgres.WithUsername("test"),
		testpostgres.WithPassword("test"),
		testpostgres.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, docstore.Migrate(dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return docstore.New(pool)
}

func TestDocstoreRepositories(t *testing.T) {
	docs := setupDocs(t)
	ctx := context.Background()

	require.NoError(t, docs.Put(ctx, "books", "b1", map[string]any{"title": "Candide", "price": 20, "stock": 3, "category": "classics", "author": "Voltaire"}))
	require.NoError(t, docs.Put(ctx, "books", "b2", map[string]any{"title": "Zadig", "price": 12.5, "promoPrice": 10, "stock": 1, "category": "tales"}))
	require.NoError(t, docs.Put(ctx, "packs", "p1", map[string]any{"title": "Voltaire box", "price": 50, "stock": 2, "includedBooks": []string{"Candide", "Zadig"}}))

	products := repo.ProductRepo{Docs: docs}
	t.Run("products", func(t *testing.T) {
		classics, err := products.ListProducts(ctx, catalog.KindBook, "classics")
		require.NoError(t, err)
		require.Len(t, classics, 1)
		require.Equal(t, "Voltaire", classics[0].Book.Author)

		zadig, err := products.GetProduct(ctx, catalog.KindBook, "b2")
		require.NoError(t, err)
		require.Equal(t, "10", zadig.PromoPrice.String())

		pack, err := products.GetProduct(ctx, catalog.KindPack, "p1")
		require.NoError(t, err)
		require.Equal(t, []string{"Candide", "Zadig"}, pack.Pack.IncludedBooks)

		_, err = products.GetProduct(ctx, catalog.KindPack, "b1")
		require.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("promotions", func(t *testing.T) {
		require.NoError(t, docs.Put(ctx, "promotions", "g1", map[string]any{"type": "general", "appliesTo": "books", "amount": 20, "active": true}))
		require.NoError(t, docs.Put(ctx, "promotions", "c1", map[string]any{"type": "code", "code": "SPRING10", "amount": 10, "active": true}))
		require.NoError(t, docs.Put(ctx, "promotions", "c2", map[string]any{"type": "code", "code": "OLD", "amount": 10, "active": false}))
		require.NoError(t, docs.Put(ctx, "promotions", "bad", map[string]any{"type": "general", "amount": "abc", "active": true}))

		promos := repo.PromotionRepo{Docs: docs}
		kind := promotion.KindGeneral
		general, err := promos.ListActivePromotions(ctx, &kind)
		require.NoError(t, err)
		require.Len(t, general, 1, "invalid record skipped")

		byCode, err := promos.FindPromotionsByCode(ctx, "SPRING10")
		require.NoError(t, err)
		require.Len(t, byCode, 1)
		inactive, err := promos.FindPromotionsByCode(ctx, "OLD")
		require.NoError(t, err)
		require.Empty(t, inactive)
	})

	t.Run("orders", func(t *testing.T) {
		orders := repo.OrderRepo{Docs: docs}
		created := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
		ord := order.Order{
			ID:     "ord-1",
			Items:  []order.Line{{ProductID: "b1", Kind: catalog.KindBook, Title: "Candide", Quantity: 2, UnitPrice: decimal.NewFromInt(20)}, {ProductID: "b2", Kind: catalog.KindBook, Quantity: 5}},
			Total:  decimal.RequireFromString("53.40"),
			Status: order.PaymentStatusPaid, FulfillmentStatus: order.FulfillmentPending,
			CreatedAt: created,
		}
		id, err := orders.CreateOrder(ctx, ord)
		require.NoError(t, err)
		require.Equal(t, "ord-1", id)
		_, err = orders.CreateOrder(ctx, ord)
		require.NoError(t, err, "second write of the same order is a no-op")

		b1, err := products.GetProduct(ctx, catalog.KindBook, "b1")
		require.NoError(t, err)
		require.Equal(t, 1, b1.Stock, "stock decremented once")
		b2, err := products.GetProduct(ctx, catalog.KindBook, "b2")
		require.NoError(t, err)
		require.Equal(t, 0, b2.Stock, "stock floored at zero")

		pending := order.FulfillmentPending
		list, total, err := orders.ListOrders(ctx, order.Filter{Status: &pending, Limit: 10})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, "53.4", list[0].Total.String())

		updated, err := orders.UpdateFulfillmentStatus(ctx, "ord-1", order.FulfillmentConfirmed, created.Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, order.FulfillmentConfirmed, updated.FulfillmentStatus)
		require.Equal(t, "53.4", updated.Total.String())

		_, err = orders.GetOrder(ctx, "missing")
		require.ErrorIs(t, err, order.ErrNotFound)
	})
}
