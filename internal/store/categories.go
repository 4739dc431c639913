package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
)

func CreateCategory(ctx context.Context, q database.Querier, name, slug string) (*models.Category, error) {
	category := &models.Category{}

	err := q.QueryRowContext(ctx,
		`INSERT INTO categories (name, slug, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 RETURNING id, name, slug, created_at, updated_at`,
		name, slug).Scan(
		&category.ID,
		&category.Name,
		&category.Slug,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, "categories_name_key"):
			return nil, database.ErrCategoryExists
		case database.IsUniqueViolation(err, "categories_slug_key"):
			return nil, database.ErrSlugTaken
		}
		return nil, fmt.Errorf("create category: %w", err)
	}

	return category, nil
}

func ListCategories(ctx context.Context, q database.Querier) ([]models.Category, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, slug, created_at, updated_at
		 FROM categories
		 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return categories, nil
}

func DeleteCategory(ctx context.Context, q database.Querier, id int64) error {
	var deleted int64
	err := q.QueryRowContext(ctx, `DELETE FROM categories WHERE id = $1 RETURNING id`, id).Scan(&deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrCategoryNotFound
		}
		return fmt.Errorf("delete category: %w", err)
	}

	return nil
}
