package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/orders"
	"github.com/safar/greenvillage/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := newOrderService(db)

	user := createUser(t, db, "test@example.com")
	apples := createProduct(t, db, "apples", 100, 50)
	honey := createProduct(t, db, "honey", 200, 30)

	order, replayed, err := svc.PlaceOrder(ctx, orders.PlaceOrderRequest{
		Items: []orders.CartItem{
			{ProductID: apples.ID, Quantity: 5},
			{ProductID: honey.ID, Quantity: 3},
		},
		ShippingAddress: testAddress,
		OwnerID:         &user.ID,
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotZero(t, order.ID)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(1100)), order.Total.String())

	assert.Equal(t, 45, stockOf(t, db, apples.ID))
	assert.Equal(t, 27, stockOf(t, db, honey.ID))

	stored, err := store.GetOrder(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, stored.OrderNumber)
	assert.Equal(t, testAddress, stored.ShippingAddress)
	assert.True(t, stored.ShippingFee.IsZero())
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "apples", stored.Items[0].Name)
	assert.Equal(t, "/uploads/apples.jpg", stored.Items[0].ImageURL)
	assert.True(t, stored.Items[1].UnitPrice.Equal(decimal.NewFromInt(200)))

	assert.Equal(t, 1, countRows(t, db, "outbox"))
}

func TestPlaceOrderInsufficientStockRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := newOrderService(db)

	apples := createProduct(t, db, "apples", 100, 10)
	honey := createProduct(t, db, "honey", 200, 1)

	_, _, err := svc.PlaceOrder(ctx, orders.PlaceOrderRequest{
		Items: []orders.CartItem{
			{ProductID: apples.ID, Quantity: 4},
			{ProductID: honey.ID, Quantity: 2},
		},
		ShippingAddress: testAddress,
	})

	var rej *orders.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, orders.CodeInsufficientStock, rej.Code)
	assert.Equal(t, honey.ID, rej.ProductID)
	assert.Equal(t, 1, rej.Available)

	assert.Equal(t, 10, stockOf(t, db, apples.ID))
	assert.Equal(t, 1, stockOf(t, db, honey.ID))
	assert.Equal(t, 0, countRows(t, db, "orders"))
	assert.Equal(t, 0, countRows(t, db, "order_items"))
	assert.Equal(t, 0, countRows(t, db, "outbox"))
}

func TestConcurrentPlaceOrderNeverOversells(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := newOrderService(db)

	apples := createProduct(t, db, "apples", 100, 20)
	honey := createProduct(t, db, "honey", 50, 100)

	concurrency := 15
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, _, err := svc.PlaceOrder(ctx, orders.PlaceOrderRequest{
				Items: []orders.CartItem{
					{ProductID: honey.ID, Quantity: 1},
					{ProductID: apples.ID, Quantity: 2},
				},
				ShippingAddress: testAddress,
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case orders.IsRejection(err, orders.CodeInsufficientStock):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 10, successCount)
	assert.Equal(t, 0, stockOf(t, db, apples.ID))
	assert.Equal(t, 100-successCount, stockOf(t, db, honey.ID))
	assert.Equal(t, successCount, countRows(t, db, "orders"))
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := newOrderService(db)

	user := createUser(t, db, "buyer@example.com")
	apples := createProduct(t, db, "apples", 100, 10)

	req := orders.PlaceOrderRequest{
		Items:           []orders.CartItem{{ProductID: apples.ID, Quantity: 2}},
		ShippingAddress: testAddress,
		OwnerID:         &user.ID,
		IdempotencyKey:  "checkout-1",
	}

	first, replayed, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 8, stockOf(t, db, apples.ID))

	// Guests have no key scope: each guest checkout is a new order.
	guest := orders.PlaceOrderRequest{
		Items:           req.Items,
		ShippingAddress: testAddress,
		IdempotencyKey:  "checkout-1",
	}
	guestA, replayed, err := svc.PlaceOrder(ctx, guest)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, first.ID, guestA.ID)

	guestB, replayed, err := svc.PlaceOrder(ctx, guest)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEqual(t, guestA.ID, guestB.ID)
	assert.Equal(t, 4, stockOf(t, db, apples.ID))
}

func TestInsertOrderDuplicateKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	user := createUser(t, db, "buyer@example.com")

	order := func(number string, owner *int64) *models.Order {
		return &models.Order{
			OrderNumber:     number,
			OwnerID:         owner,
			Subtotal:        decimal.NewFromInt(100),
			ShippingFee:     decimal.NewFromInt(80),
			Total:           decimal.NewFromInt(180),
			Status:          models.OrderStatusPending,
			PaymentMethod:   models.PaymentCashOnDelivery,
			ShippingAddress: testAddress,
			IdempotencyKey:  "same-key",
		}
	}

	require.NoError(t, store.InsertOrder(ctx, db, order("ORD-1", &user.ID)))
	err := store.InsertOrder(ctx, db, order("ORD-2", &user.ID))
	assert.ErrorIs(t, err, database.ErrDuplicateOrder)

	// The index only covers owned orders.
	require.NoError(t, store.InsertOrder(ctx, db, order("ORD-3", nil)))
	require.NoError(t, store.InsertOrder(ctx, db, order("ORD-4", nil)))

	_, err = store.GetOrderByIdempotencyKey(ctx, db, 0, "same-key")
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
}

func TestUpdateStatusCancelRestocks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := newOrderService(db)

	apples := createProduct(t, db, "apples", 100, 10)
	honey := createProduct(t, db, "honey", 200, 10)

	order, _, err := svc.PlaceOrder(ctx, orders.PlaceOrderRequest{
		Items: []orders.CartItem{
			{ProductID: apples.ID, Quantity: 3},
			{ProductID: honey.ID, Quantity: 4},
		},
		ShippingAddress: testAddress,
	})
	require.NoError(t, err)

	_, err = store.DeleteProduct(ctx, db, honey.ID)
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, order.ID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.Equal(t, order.Version+1, updated.Version)
	require.Len(t, updated.Items, 2)

	assert.Equal(t, 10, stockOf(t, db, apples.ID))

	_, err = svc.UpdateStatus(ctx, order.ID, "paid")
	var terr *orders.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.OrderStatusCancelled, terr.From)

	_, err = svc.UpdateStatus(ctx, order.ID+1000, "paid")
	assert.ErrorIs(t, err, database.ErrOrderNotFound)

	// placed + status changed
	assert.Equal(t, 2, countRows(t, db, "outbox"))
}

func TestListOrdersCursor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	svc := newOrderService(db)

	user := createUser(t, db, "test4@example.com")
	other := createUser(t, db, "other@example.com")
	apples := createProduct(t, db, "apples", 100, 100)

	for i := 0; i < 15; i++ {
		_, _, err := svc.PlaceOrder(ctx, orders.PlaceOrderRequest{
			Items:           []orders.CartItem{{ProductID: apples.ID, Quantity: 1}},
			ShippingAddress: testAddress,
			OwnerID:         &user.ID,
		})
		require.NoError(t, err)
	}
	_, _, err := svc.PlaceOrder(ctx, orders.PlaceOrderRequest{
		Items:           []orders.CartItem{{ProductID: apples.ID, Quantity: 1}},
		ShippingAddress: testAddress,
		OwnerID:         &other.ID,
	})
	require.NoError(t, err)

	page1, err := svc.ListOwn(ctx, user.ID, "", 10)
	require.NoError(t, err)
	assert.Len(t, page1.Items, 10)
	assert.True(t, page1.HasMore)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := svc.ListOwn(ctx, user.ID, page1.NextCursor, 10)
	require.NoError(t, err)
	assert.Len(t, page2.Items, 5)
	assert.False(t, page2.HasMore)
	assert.Empty(t, page2.NextCursor)

	seen := map[int64]bool{}
	for _, o := range append(page1.Items, page2.Items...) {
		assert.False(t, seen[o.ID], "order %d listed twice", o.ID)
		seen[o.ID] = true
		assert.True(t, o.OwnedBy(user.ID))
		assert.Nil(t, o.Owner)
		require.Len(t, o.Items, 1)
	}
	for i := 1; i < len(page1.Items); i++ {
		assert.False(t, page1.Items[i].CreatedAt.After(page1.Items[i-1].CreatedAt))
	}

	all, err := svc.ListAll(ctx, orders.Requester{UserID: user.ID, Admin: true}, "", 50)
	require.NoError(t, err)
	assert.Len(t, all.Items, 16)
	require.NotNil(t, all.Items[0].Owner)
	assert.Equal(t, other.Email, all.Items[0].Owner.Email)
	require.NotNil(t, all.Items[0].Items[0].Product)
	assert.Equal(t, "apples", all.Items[0].Items[0].Product.Slug)

	_, err = svc.ListOwn(ctx, user.ID, "not-a-cursor", 10)
	assert.True(t, errors.Is(err, orders.ErrInvalidCursor), err)
}
