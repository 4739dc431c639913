package orders

import (
	"context"
	"strconv"

	"github.com/safar/greenvillage/internal/events"
	"github.com/safar/greenvillage/internal/models"
	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"

	aggregateOrder = "order"
)

type OrderPlaced struct {
	OrderID       int64                `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	OwnerID       *int64               `json:"owner_id,omitempty"`
	Status        models.OrderStatus   `json:"status"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal      `json:"total"`
	Items         []PlacedItem         `json:"items"`
}

type PlacedItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type OrderStatusChanged struct {
	OrderID     int64              `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	OwnerID     *int64             `json:"owner_id,omitempty"`
	From        models.OrderStatus `json:"from"`
	To          models.OrderStatus `json:"to"`
}

func orderPlacedEvent(ctx context.Context, o *models.Order) (events.Event, error) {
	payload := OrderPlaced{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		OwnerID:       o.OwnerID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total,
		Items:         make([]PlacedItem, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		payload.Items = append(payload.Items, PlacedItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return events.New(ctx, aggregateOrder, strconv.FormatInt(o.ID, 10), EventOrderPlaced, payload)
}

func statusChangedEvent(ctx context.Context, o *models.Order, from models.OrderStatus) (events.Event, error) {
	return events.New(ctx, aggregateOrder, strconv.FormatInt(o.ID, 10), EventOrderStatusChanged, OrderStatusChanged{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OwnerID:     o.OwnerID,
		From:        from,
		To:          o.Status,
	})
}
