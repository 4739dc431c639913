package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
)

const orderColumns = `o.id, o.order_number, o.owner_id, o.subtotal, o.shipping_fee, o.total, o.status,
	o.payment_method, o.shipping_address, o.note, o.idempotency_key, o.created_at, o.updated_at, o.version`

type OrderListFilter struct {
	OwnerID       *int64
	WithSummaries bool
}

func scanOrder(row rowScanner, extra ...any) (*models.Order, error) {
	var (
		order   models.Order
		ownerID sql.NullInt64
		address []byte
		key     sql.NullString
	)

	dest := []any{
		&order.ID,
		&order.OrderNumber,
		&ownerID,
		&order.Subtotal,
		&order.ShippingFee,
		&order.Total,
		&order.Status,
		&order.PaymentMethod,
		&address,
		&order.Note,
		&key,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if ownerID.Valid {
		id := ownerID.Int64
		order.OwnerID = &id
	}
	order.IdempotencyKey = key.String
	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}

	return &order, nil
}

// InsertOrder writes the order header and its line items. order is updated
// with the generated ID and timestamps.
func InsertOrder(ctx context.Context, q database.Querier, order *models.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	var key sql.NullString
	if order.IdempotencyKey != "" {
		key = sql.NullString{String: order.IdempotencyKey, Valid: true}
	}

	err = q.QueryRowContext(ctx,
		`INSERT INTO orders (order_number, owner_id, subtotal, shipping_fee, total, status, payment_method,
		                     shipping_address, note, idempotency_key, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		order.OrderNumber, order.OwnerID, order.Subtotal, order.ShippingFee, order.Total, order.Status,
		order.PaymentMethod, string(address), order.Note, key,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		if database.IsUniqueViolation(err, "orders_idempotency_key_idx") {
			return database.ErrDuplicateOrder
		}
		return fmt.Errorf("create order: %w", err)
	}

	for i, item := range order.Items {
		_, err = q.ExecContext(ctx,
			`INSERT INTO order_items (order_id, position, product_id, name, unit, image_url, quantity, unit_price, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
			order.ID, i, item.ProductID, item.Name, item.Unit, item.ImageURL, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	return nil
}

func GetOrder(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	return getOrder(ctx, q, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id)
}

// GetOrderForUpdate locks the order row until the surrounding transaction ends.
func GetOrderForUpdate(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	return getOrder(ctx, q, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1 FOR UPDATE`, id)
}

// GetOrderByIdempotencyKey finds an order the owner placed with key. Guest
// orders never match.
func GetOrderByIdempotencyKey(ctx context.Context, q database.Querier, ownerID int64, key string) (*models.Order, error) {
	return getOrder(ctx, q,
		`SELECT `+orderColumns+` FROM orders o
		 WHERE o.owner_id = $1 AND o.idempotency_key = $2`,
		ownerID, key)
}

func getOrder(ctx context.Context, q database.Querier, query string, args ...any) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := loadItems(ctx, q, []int64{order.ID}, false)
	if err != nil {
		return nil, err
	}
	order.Items = itemsOrEmpty(items[order.ID])

	return order, nil
}

func UpdateOrderStatus(ctx context.Context, q database.Querier, id int64, status models.OrderStatus) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx,
		`UPDATE orders AS o
		 SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE o.id = $2
		 RETURNING `+orderColumns,
		status, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	items, err := loadItems(ctx, q, []int64{order.ID}, false)
	if err != nil {
		return nil, err
	}
	order.Items = itemsOrEmpty(items[order.ID])

	return order, nil
}

// ListOrdersCursor pages through orders newest first. With summaries, every
// order carries its owner and each line item the product's current catalog
// values when they still exist.
func ListOrdersCursor(ctx context.Context, q database.Querier, filter OrderListFilter, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `, u.id, u.name, u.email
		FROM orders o
		LEFT JOIN users u ON u.id = o.owner_id
		WHERE ($1::BIGINT IS NULL OR o.owner_id = $1)
		  AND (o.created_at, o.id) < ($2, $3)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, filter.OwnerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var (
			userID    sql.NullInt64
			userName  sql.NullString
			userEmail sql.NullString
		)
		order, err := scanOrder(rows, &userID, &userName, &userEmail)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if filter.WithSummaries && userID.Valid {
			order.Owner = &models.UserSummary{ID: userID.Int64, Name: userName.String, Email: userEmail.String}
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if len(orders) > 0 {
		ids := make([]int64, len(orders))
		for i := range orders {
			ids[i] = orders[i].ID
		}
		items, err := loadItems(ctx, q, ids, filter.WithSummaries)
		if err != nil {
			return nil, err
		}
		for i := range orders {
			orders[i].Items = itemsOrEmpty(items[orders[i].ID])
		}
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func loadItems(ctx context.Context, q database.Querier, orderIDs []int64, withProducts bool) (map[int64][]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT oi.order_id, oi.product_id, oi.name, oi.unit, oi.image_url, oi.quantity, oi.unit_price, oi.subtotal,
		        p.id, p.slug, p.name
		 FROM order_items oi
		 LEFT JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = ANY($1)
		 ORDER BY oi.order_id, oi.position`,
		pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]models.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID     int64
			item        models.OrderItem
			productID   sql.NullInt64
			productSlug sql.NullString
			productName sql.NullString
		)
		err := rows.Scan(
			&orderID,
			&item.ProductID,
			&item.Name,
			&item.Unit,
			&item.ImageURL,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&productID,
			&productSlug,
			&productName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if withProducts && productID.Valid {
			item.Product = &models.ProductSummary{ID: productID.Int64, Slug: productSlug.String, Name: productName.String}
		}
		items[orderID] = append(items[orderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func itemsOrEmpty(items []models.OrderItem) []models.OrderItem {
	if items == nil {
		return []models.OrderItem{}
	}
	return items
}
