package store

import (
	"context"
	"database/sql"

	"github.com/safar/greenvillage/internal/models"
)

// Catalog binds the product and category queries to a connection pool.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) ListProducts(ctx context.Context, filter ProductFilter, page, pageSize int) (*OffsetPage[models.Product], error) {
	return ListProducts(ctx, c.db, filter, page, pageSize)
}

func (c *Catalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return GetProduct(ctx, c.db, id)
}

func (c *Catalog) GetProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	return GetProductBySlug(ctx, c.db, slug)
}

func (c *Catalog) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	return CreateProduct(ctx, c.db, in)
}

func (c *Catalog) UpdateProduct(ctx context.Context, id int64, version int, in ProductInput) (*models.Product, error) {
	return UpdateProduct(ctx, c.db, id, version, in)
}

func (c *Catalog) DeleteProduct(ctx context.Context, id int64) (*models.Product, error) {
	return DeleteProduct(ctx, c.db, id)
}

func (c *Catalog) ListCategories(ctx context.Context) ([]models.Category, error) {
	return ListCategories(ctx, c.db)
}

func (c *Catalog) CreateCategory(ctx context.Context, name, slug string) (*models.Category, error) {
	return CreateCategory(ctx, c.db, name, slug)
}

func (c *Catalog) DeleteCategory(ctx context.Context, id int64) error {
	return DeleteCategory(ctx, c.db, id)
}
