package store

import (
	"context"
	"database/sql"

	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/events"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/orders"
)

// Orders backs the order service with PostgreSQL. Each WithinTx call runs in
// one READ COMMITTED transaction that is retried on deadlocks and
// serialization failures.
type Orders struct {
	db   *sql.DB
	opts database.TxOptions
}

var _ orders.Repository = (*Orders)(nil)

func NewOrders(db *sql.DB, maxRetries int) *Orders {
	opts := database.DefaultTxOptions()
	if maxRetries >= 0 {
		opts.MaxRetries = maxRetries
	}
	return &Orders{db: db, opts: opts}
}

func (r *Orders) WithinTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	return database.WithRetry(ctx, r.db, r.opts, func(tx *sql.Tx) error {
		return fn(orderTx{tx: tx})
	})
}

func (r *Orders) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrder(ctx, r.db, id)
}

func (r *Orders) ListOrdersByOwner(ctx context.Context, ownerID int64, cursor string, limit int) (*orders.Page, error) {
	page, err := ListOrdersCursor(ctx, r.db, OrderListFilter{OwnerID: &ownerID}, cursor, limit)
	if err != nil {
		return nil, err
	}
	return toPage(page), nil
}

func (r *Orders) ListOrders(ctx context.Context, cursor string, limit int) (*orders.Page, error) {
	page, err := ListOrdersCursor(ctx, r.db, OrderListFilter{WithSummaries: true}, cursor, limit)
	if err != nil {
		return nil, err
	}
	return toPage(page), nil
}

func toPage(p *CursorPage[models.Order]) *orders.Page {
	return &orders.Page{Items: p.Items, NextCursor: p.NextCursor, HasMore: p.HasMore}
}

type orderTx struct {
	tx *sql.Tx
}

func (t orderTx) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return GetProduct(ctx, t.tx, id)
}

func (t orderTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	return DecrementStock(ctx, t.tx, productID, quantity)
}

func (t orderTx) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	return IncrementStock(ctx, t.tx, productID, quantity)
}

func (t orderTx) CreateOrder(ctx context.Context, order *models.Order) error {
	return InsertOrder(ctx, t.tx, order)
}

func (t orderTx) FindOrderByIdempotencyKey(ctx context.Context, ownerID int64, key string) (*models.Order, error) {
	return GetOrderByIdempotencyKey(ctx, t.tx, ownerID, key)
}

func (t orderTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrderForUpdate(ctx, t.tx, id)
}

func (t orderTx) SetOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	return UpdateOrderStatus(ctx, t.tx, id, status)
}

func (t orderTx) Enqueue(ctx context.Context, event events.Event) error {
	return InsertOutboxEvent(ctx, t.tx, event)
}
