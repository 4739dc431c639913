package orders

import (
	"context"

	"github.com/safar/greenvillage/internal/events"
	"github.com/safar/greenvillage/internal/models"
)

// Tx is the set of operations available inside a single storage transaction.
// Everything done through a Tx is discarded when the transaction function
// returns an error.
type Tx interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	// DecrementStock lowers stock by quantity only if at least quantity is
	// available, as one conditional update. It returns
	// database.ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	IncrementStock(ctx context.Context, productID int64, quantity int) error

	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrderByIdempotencyKey(ctx context.Context, ownerID int64, key string) (*models.Order, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	SetOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)

	Enqueue(ctx context.Context, event events.Event) error
}

type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID int64, cursor string, limit int) (*Page, error)
	// ListOrders returns every order with owner and product summaries attached.
	ListOrders(ctx context.Context, cursor string, limit int) (*Page, error)
}

// Page is one newest-first slice of orders.
type Page struct {
	Items      []models.Order `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}
