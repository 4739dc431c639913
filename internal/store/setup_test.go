package store_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/orders"
	"github.com/safar/greenvillage/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("greenvillage"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.PingContext(ctx))

	_, err = database.Migrate(ctx, db, database.DirectionUp)
	require.NoError(t, err, "run migrations")

	return db
}

var testAddress = models.ShippingAddress{
	FullName:  "Asha Rai",
	Phone:     "9800000000",
	Region:    "Bagmati",
	SubRegion: "Lalitpur",
	Address:   "Jhamsikhel 12",
}

func newOrderService(db *sql.DB) *orders.Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return orders.NewService(store.NewOrders(db, 5), orders.DefaultPricing(), log)
}

func createProduct(t *testing.T, db *sql.DB, slug string, price int64, stock int) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, store.ProductInput{
		Slug:          slug,
		Name:          slug,
		Description:   "test product",
		Price:         decimal.NewFromInt(price),
		StockQuantity: stock,
		Unit:          models.UnitKilogram,
		Images:        []models.Image{{PublicID: slug, URL: "/uploads/" + slug + ".jpg"}},
		IsActive:      true,
	})
	require.NoError(t, err)
	return product
}

func createUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, email, "Test User", models.RoleCustomer)
	require.NoError(t, err)
	return user
}

func stockOf(t *testing.T, db *sql.DB, id int64) int {
	t.Helper()
	product, err := store.GetProduct(context.Background(), db, id)
	require.NoError(t, err)
	return product.StockQuantity
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}
