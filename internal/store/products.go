package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `p.id, p.slug, p.name, p.description, p.price, p.stock_quantity, p.unit,
	p.images, p.category_id, p.is_active, p.created_at, p.updated_at, p.version`

type ProductInput struct {
	Slug          string
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
	Unit          string
	Images        []models.Image
	CategoryID    *int64
	IsActive      bool
}

type ProductFilter struct {
	Query           string
	CategorySlug    string
	IncludeInactive bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var (
		product    models.Product
		images     []byte
		categoryID sql.NullInt64
	)

	err := row.Scan(
		&product.ID,
		&product.Slug,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.StockQuantity,
		&product.Unit,
		&images,
		&categoryID,
		&product.IsActive,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		id := categoryID.Int64
		product.CategoryID = &id
	}
	if err := json.Unmarshal(images, &product.Images); err != nil {
		return nil, fmt.Errorf("decode product images: %w", err)
	}
	if product.Images == nil {
		product.Images = []models.Image{}
	}

	return &product, nil
}

func marshalImages(images []models.Image) (string, error) {
	if images == nil {
		images = []models.Image{}
	}
	data, err := json.Marshal(images)
	return string(data), err
}

func productWriteError(op string, err error) error {
	switch {
	case database.IsUniqueViolation(err, "products_slug_key"):
		return database.ErrSlugTaken
	case database.IsForeignKeyViolation(err):
		return database.ErrCategoryNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func CreateProduct(ctx context.Context, q database.Querier, in ProductInput) (*models.Product, error) {
	images, err := marshalImages(in.Images)
	if err != nil {
		return nil, fmt.Errorf("encode product images: %w", err)
	}

	query := `
		INSERT INTO products AS p (slug, name, description, price, stock_quantity, unit, images, category_id, is_active, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(q.QueryRowContext(ctx, query,
		in.Slug, in.Name, in.Description, in.Price, in.StockQuantity, in.Unit, images, in.CategoryID, in.IsActive))
	if err != nil {
		return nil, productWriteError("create product", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q database.Querier, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE p.id = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func GetProductBySlug(ctx context.Context, q database.Querier, slug string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE p.slug = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product by slug: %w", err)
	}

	return product, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListProducts returns newest products first. Inactive products are hidden
// unless the filter asks for them.
func ListProducts(ctx context.Context, q database.Querier, filter ProductFilter, page, pageSize int) (*OffsetPage[models.Product], error) {
	where := `
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE ($1::BOOLEAN OR p.is_active)
		  AND ($2::TEXT = '' OR p.name ILIKE '%' || $2::TEXT || '%')
		  AND ($3::TEXT = '' OR c.slug = $3::TEXT)`

	search := likeEscaper.Replace(strings.TrimSpace(filter.Query))
	args := []any{filter.IncludeInactive, search, filter.CategorySlug}

	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + productColumns + where + `
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $4 OFFSET $5`

	rows, err := q.QueryContext(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

// UpdateProduct replaces the product's fields if it is still at version.
func UpdateProduct(ctx context.Context, q database.Querier, id int64, version int, in ProductInput) (*models.Product, error) {
	images, err := marshalImages(in.Images)
	if err != nil {
		return nil, fmt.Errorf("encode product images: %w", err)
	}

	query := `
		UPDATE products AS p
		SET slug = $1, name = $2, description = $3, price = $4, stock_quantity = $5, unit = $6,
		    images = $7, category_id = $8, is_active = $9, version = version + 1, updated_at = NOW()
		WHERE p.id = $10 AND p.version = $11
		RETURNING ` + productColumns

	product, err := scanProduct(q.QueryRowContext(ctx, query,
		in.Slug, in.Name, in.Description, in.Price, in.StockQuantity, in.Unit, images, in.CategoryID, in.IsActive,
		id, version))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, productWriteError("update product", err)
	}

	if _, err := GetProduct(ctx, q, id); err != nil {
		return nil, err
	}
	return nil, database.ErrOptimisticLockFailed
}

func DeleteProduct(ctx context.Context, q database.Querier, id int64) (*models.Product, error) {
	query := `DELETE FROM products p WHERE p.id = $1 RETURNING ` + productColumns

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("delete product: %w", err)
	}

	return product, nil
}

// DecrementStock takes quantity units only if that many are on hand.
func DecrementStock(ctx context.Context, q database.Querier, productID int64, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func IncrementStock(ctx context.Context, q database.Querier, productID int64, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}
