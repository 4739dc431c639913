package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// CartItem is one requested line of a cart.
type CartItem struct {
	ProductID int64
	Quantity  int
}

// PlaceOrderRequest carries a cart as submitted at checkout. IdempotencyKey is
// honored only when OwnerID is set.
type PlaceOrderRequest struct {
	Items           []CartItem
	ShippingAddress models.ShippingAddress
	PaymentMethod   string
	Note            string
	OwnerID         *int64
	IdempotencyKey  string
}

// Requester is the authenticated caller of a read operation.
type Requester struct {
	UserID int64
	Admin  bool
}

// Service implements order placement, status changes and order reads on top
// of a Repository.
type Service struct {
	repo      Repository
	pricing   Pricing
	log       *slog.Logger
	newNumber func() string
}

// NewService returns a Service that prices shipping with pricing.
func NewService(repo Repository, pricing Pricing, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		pricing:   pricing,
		log:       log,
		newNumber: generateOrderNumber,
	}
}

func generateOrderNumber() string {
	return "ORD-" + ulid.Make().String()
}

// PlaceOrder validates the cart, reserves stock for every line and persists the
// order in one transaction. A rejection at any line leaves all stock untouched.
// The boolean result is true when an earlier order with the same idempotency
// key was returned instead of placing a new one.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*models.Order, bool, error) {
	method, err := validateRequest(req)
	if err != nil {
		return nil, false, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if req.OwnerID == nil {
		// Guests have no scope to replay from.
		key = ""
	}

	var (
		placed   *models.Order
		replayed bool
	)
	err = s.repo.WithinTx(ctx, func(tx Tx) error {
		placed, replayed = nil, false

		if key != "" {
			existing, err := tx.FindOrderByIdempotencyKey(ctx, *req.OwnerID, key)
			if err == nil {
				placed, replayed = existing, true
				return nil
			}
			if !errors.Is(err, database.ErrOrderNotFound) {
				return fmt.Errorf("find order by idempotency key: %w", err)
			}
		}

		items, subtotal, err := s.reserveItems(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		shippingFee := s.pricing.ShippingFee(subtotal)
		order := &models.Order{
			OrderNumber:     s.newNumber(),
			OwnerID:         req.OwnerID,
			Items:           items,
			Subtotal:        subtotal,
			ShippingFee:     shippingFee,
			Total:           subtotal.Add(shippingFee),
			Status:          method.InitialStatus(),
			PaymentMethod:   method,
			ShippingAddress: trimAddress(req.ShippingAddress),
			Note:            strings.TrimSpace(req.Note),
			IdempotencyKey:  key,
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		event, err := orderPlacedEvent(ctx, order)
		if err != nil {
			return fmt.Errorf("build order placed event: %w", err)
		}
		if err := tx.Enqueue(ctx, event); err != nil {
			return err
		}

		placed = order
		return nil
	})

	if errors.Is(err, database.ErrDuplicateOrder) && key != "" {
		// A concurrent request with the same key committed first.
		existing, findErr := s.findByKey(ctx, *req.OwnerID, key)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, true, nil
	}
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			s.log.Info("order rejected", "code", rej.Code, "product_id", rej.ProductID)
		}
		return nil, false, err
	}

	if replayed {
		s.log.Info("order replayed", "order_id", placed.ID, "idempotency_key", key)
	} else {
		s.log.Info("order placed",
			"order_id", placed.ID,
			"order_number", placed.OrderNumber,
			"items", len(placed.Items),
			"total", placed.Total.String(),
			"status", placed.Status,
		)
	}
	return placed, replayed, nil
}

func (s *Service) findByKey(ctx context.Context, ownerID int64, key string) (*models.Order, error) {
	var order *models.Order
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		var err error
		order, err = tx.FindOrderByIdempotencyKey(ctx, ownerID, key)
		return err
	})
	return order, err
}

func validateRequest(req PlaceOrderRequest) (models.PaymentMethod, error) {
	if len(req.Items) == 0 {
		return "", &RejectionError{Code: CodeEmptyCart}
	}

	addr := req.ShippingAddress
	for _, field := range []struct {
		name  string
		value string
	}{
		{"full_name", addr.FullName},
		{"phone", addr.Phone},
		{"region", addr.Region},
		{"sub_region", addr.SubRegion},
		{"address", addr.Address},
	} {
		if strings.TrimSpace(field.value) == "" {
			return "", &RejectionError{Code: CodeIncompleteAddress, Field: field.name}
		}
	}

	method, ok := models.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		return "", &RejectionError{Code: CodeInvalidPaymentMethod, Field: "payment_method"}
	}
	return method, nil
}

// reserveItems walks the cart in order. Each line is snapshotted from the
// product before its stock is decremented.
func (s *Service) reserveItems(ctx context.Context, tx Tx, cart []CartItem) ([]models.OrderItem, decimal.Decimal, error) {
	items := make([]models.OrderItem, 0, len(cart))
	subtotal := decimal.Zero

	for _, entry := range cart {
		if entry.Quantity < 1 {
			return nil, decimal.Zero, &RejectionError{Code: CodeInvalidQuantity, ProductID: entry.ProductID}
		}

		product, err := tx.GetProduct(ctx, entry.ProductID)
		if errors.Is(err, database.ErrProductNotFound) {
			return nil, decimal.Zero, &RejectionError{Code: CodeInvalidProduct, ProductID: entry.ProductID}
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !product.IsActive {
			return nil, decimal.Zero, &RejectionError{Code: CodeInvalidProduct, ProductID: entry.ProductID}
		}

		if product.StockQuantity < entry.Quantity {
			return nil, decimal.Zero, insufficient(product, product.StockQuantity)
		}

		line := models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Unit:      product.Unit,
			ImageURL:  product.PrimaryImageURL(),
			Quantity:  entry.Quantity,
			UnitPrice: product.Price,
			Subtotal:  product.Price.Mul(decimal.NewFromInt(int64(entry.Quantity))),
		}

		if err := tx.DecrementStock(ctx, product.ID, entry.Quantity); err != nil {
			if !errors.Is(err, database.ErrInsufficientStock) {
				return nil, decimal.Zero, err
			}
			// Another order took the stock between the read and the update.
			available := 0
			fresh, err := tx.GetProduct(ctx, product.ID)
			if err != nil {
				s.log.Warn("reread stock after lost decrement", "product_id", product.ID, "err", err)
			} else {
				available = fresh.StockQuantity
			}
			return nil, decimal.Zero, insufficient(product, available)
		}

		items = append(items, line)
		subtotal = subtotal.Add(line.Subtotal)
	}

	return items, subtotal, nil
}

func insufficient(p *models.Product, available int) *RejectionError {
	return &RejectionError{
		Code:        CodeInsufficientStock,
		ProductID:   p.ID,
		ProductName: p.Name,
		Available:   available,
	}
}

func trimAddress(a models.ShippingAddress) models.ShippingAddress {
	return models.ShippingAddress{
		FullName:  strings.TrimSpace(a.FullName),
		Phone:     strings.TrimSpace(a.Phone),
		Region:    strings.TrimSpace(a.Region),
		SubRegion: strings.TrimSpace(a.SubRegion),
		Address:   strings.TrimSpace(a.Address),
	}
}

// UpdateStatus moves an order along the status machine. Setting the current
// status again is a no-op. Cancelling returns the order's items to stock.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	next, ok := models.ParseOrderStatus(status)
	if !ok {
		return nil, ErrInvalidStatus
	}

	var (
		updated *models.Order
		from    models.OrderStatus
	)
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if order.Status == next {
			updated = order
			return nil
		}
		if !order.Status.CanTransitionTo(next) {
			return &TransitionError{From: order.Status, To: next}
		}

		if next == models.OrderStatusCancelled {
			for _, item := range order.Items {
				err := tx.IncrementStock(ctx, item.ProductID, item.Quantity)
				if errors.Is(err, database.ErrProductNotFound) {
					continue
				}
				if err != nil {
					return err
				}
			}
		}

		updated, err = tx.SetOrderStatus(ctx, orderID, next)
		if err != nil {
			return err
		}

		event, err := statusChangedEvent(ctx, updated, from)
		if err != nil {
			return fmt.Errorf("build status changed event: %w", err)
		}
		return tx.Enqueue(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	if from != updated.Status {
		s.log.Info("order status changed", "order_id", orderID, "from", from, "to", updated.Status)
	}
	return updated, nil
}

// Get returns a single order. Non-admin requesters may only read their own.
func (s *Service) Get(ctx context.Context, orderID int64, requester Requester) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !requester.Admin && !order.OwnedBy(requester.UserID) {
		return nil, ErrForbidden
	}
	return order, nil
}

// ListOwn pages through the orders ownerID placed, newest first.
func (s *Service) ListOwn(ctx context.Context, ownerID int64, cursor string, limit int) (*Page, error) {
	return s.repo.ListOrdersByOwner(ctx, ownerID, cursor, clampLimit(limit))
}

// ListAll pages through every order with owner and product summaries. It is
// restricted to admins.
func (s *Service) ListAll(ctx context.Context, requester Requester, cursor string, limit int) (*Page, error) {
	if !requester.Admin {
		return nil, ErrForbidden
	}
	return s.repo.ListOrders(ctx, cursor, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit < 1 || limit > MaxPageSize {
		return DefaultPageSize
	}
	return limit
}
