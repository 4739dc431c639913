// Package orderstest provides an in-memory orders.Repository for tests.
package orderstest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/events"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/orders"
	"github.com/shopspring/decimal"
)

// Repository serializes transactions behind one mutex and restores its state
// when a transaction function fails.
type Repository struct {
	mu       sync.Mutex
	products map[int64]models.Product
	users    map[int64]models.User
	orders   map[int64]models.Order
	events   []events.Event
	nextID   int64
	clock    time.Time

	// FailCreate, when set, is returned by CreateOrder.
	FailCreate error
}

func New() *Repository {
	return &Repository{
		products: make(map[int64]models.Product),
		users:    make(map[int64]models.User),
		orders:   make(map[int64]models.Order),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddProduct stores p, assigning an id when p.ID is zero.
func (r *Repository) AddProduct(p models.Product) models.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == 0 {
		r.nextID++
		p.ID = r.nextID
	}
	if p.Unit == "" {
		p.Unit = models.UnitKilogram
	}
	r.products[p.ID] = p
	return p
}

// NewProduct adds an active product with the given price and stock.
func (r *Repository) NewProduct(name string, price int64, stock int) models.Product {
	return r.AddProduct(models.Product{
		Name:          name,
		Slug:          name,
		Price:         decimal.NewFromInt(price),
		StockQuantity: stock,
		IsActive:      true,
	})
}

func (r *Repository) AddUser(u models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *Repository) Product(id int64) models.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id]
}

// UpdateProduct edits a catalog entry outside any order transaction.
func (r *Repository) UpdateProduct(id int64, fn func(p *models.Product)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.products[id]
	fn(&p)
	r.products[id] = p
}

func (r *Repository) DeleteProduct(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, id)
}

func (r *Repository) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *Repository) OrderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *Repository) WithinTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshot()
	if err := fn(&memTx{r: r}); err != nil {
		r.restore(snapshot)
		return err
	}
	return nil
}

func (r *Repository) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r *Repository) ListOrdersByOwner(_ context.Context, ownerID int64, cursor string, limit int) (*orders.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page(func(o models.Order) bool { return o.OwnedBy(ownerID) }, cursor, limit, false)
}

func (r *Repository) ListOrders(_ context.Context, cursor string, limit int) (*orders.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page(func(models.Order) bool { return true }, cursor, limit, true)
}

func (r *Repository) page(match func(models.Order) bool, cursor string, limit int, summaries bool) (*orders.Page, error) {
	before := int64(1<<63 - 1)
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", orders.ErrInvalidCursor, err)
		}
		before = id
	}

	list := []models.Order{}
	for _, o := range r.orders {
		if o.ID < before && match(o) {
			list = append(list, *copyOrder(o))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })

	page := &orders.Page{Items: list}
	if len(list) > limit {
		page.Items = list[:limit]
		page.HasMore = true
		page.NextCursor = strconv.FormatInt(page.Items[limit-1].ID, 10)
	}

	if summaries {
		for i := range page.Items {
			o := &page.Items[i]
			if o.OwnerID != nil {
				if u, ok := r.users[*o.OwnerID]; ok {
					o.Owner = &models.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
				}
			}
			for j := range o.Items {
				if p, ok := r.products[o.Items[j].ProductID]; ok {
					o.Items[j].Product = &models.ProductSummary{ID: p.ID, Slug: p.Slug, Name: p.Name}
				}
			}
		}
	}
	return page, nil
}

type state struct {
	products map[int64]models.Product
	orders   map[int64]models.Order
	events   []events.Event
	nextID   int64
}

func (r *Repository) snapshot() state {
	s := state{
		products: make(map[int64]models.Product, len(r.products)),
		orders:   make(map[int64]models.Order, len(r.orders)),
		events:   append([]events.Event(nil), r.events...),
		nextID:   r.nextID,
	}
	for k, v := range r.products {
		s.products[k] = v
	}
	for k, v := range r.orders {
		s.orders[k] = v
	}
	return s
}

func (r *Repository) restore(s state) {
	r.products = s.products
	r.orders = s.orders
	r.events = s.events
	r.nextID = s.nextID
}

func copyOrder(o models.Order) *models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return &o
}

type memTx struct {
	r *Repository
}

func (t *memTx) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	p, ok := t.r.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return &p, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, quantity int) error {
	p, ok := t.r.products[productID]
	if !ok || p.StockQuantity < quantity {
		return database.ErrInsufficientStock
	}
	p.StockQuantity -= quantity
	t.r.products[productID] = p
	return nil
}

func (t *memTx) IncrementStock(_ context.Context, productID int64, quantity int) error {
	p, ok := t.r.products[productID]
	if !ok {
		return database.ErrProductNotFound
	}
	p.StockQuantity += quantity
	t.r.products[productID] = p
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, order *models.Order) error {
	if t.r.FailCreate != nil {
		return t.r.FailCreate
	}
	if order.IdempotencyKey != "" && order.OwnerID != nil {
		if _, err := t.FindOrderByIdempotencyKey(context.Background(), *order.OwnerID, order.IdempotencyKey); err == nil {
			return database.ErrDuplicateOrder
		}
	}

	t.r.nextID++
	t.r.clock = t.r.clock.Add(time.Second)
	order.ID = t.r.nextID
	order.CreatedAt = t.r.clock
	order.UpdatedAt = t.r.clock
	order.Version = 1
	t.r.orders[order.ID] = *copyOrder(*order)
	return nil
}

func (t *memTx) FindOrderByIdempotencyKey(_ context.Context, ownerID int64, key string) (*models.Order, error) {
	for _, o := range t.r.orders {
		if o.IdempotencyKey == key && o.OwnedBy(ownerID) {
			return copyOrder(o), nil
		}
	}
	return nil, database.ErrOrderNotFound
}

func (t *memTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := t.r.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (t *memTx) SetOrderStatus(_ context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	o, ok := t.r.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	t.r.clock = t.r.clock.Add(time.Second)
	o.Status = status
	o.UpdatedAt = t.r.clock
	o.Version++
	t.r.orders[id] = o
	return copyOrder(o), nil
}

func (t *memTx) Enqueue(_ context.Context, event events.Event) error {
	event.ID = int64(len(t.r.events) + 1)
	t.r.events = append(t.r.events, event)
	return nil
}
