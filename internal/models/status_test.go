package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTransitions(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
		OrderStatusPaid:    {OrderStatusShipped, OrderStatusCancelled},
		OrderStatusShipped: {OrderStatusDelivered},
	}
	all := []OrderStatus{OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusPaid.IsTerminal())
}

func TestParseOrderStatus(t *testing.T) {
	s, ok := ParseOrderStatus(" Shipped ")
	assert.True(t, ok)
	assert.Equal(t, OrderStatusShipped, s)

	_, ok = ParseOrderStatus("refunded")
	assert.False(t, ok)
}

func TestParsePaymentMethod(t *testing.T) {
	tests := []struct {
		in     string
		want   PaymentMethod
		ok     bool
		status OrderStatus
	}{
		{"", PaymentCashOnDelivery, true, OrderStatusPending},
		{"cod", PaymentCashOnDelivery, true, OrderStatusPending},
		{"online", PaymentOnline, true, OrderStatusPaid},
		{"CARD", PaymentOnline, true, OrderStatusPaid},
		{"bitcoin", "", false, ""},
	}

	for _, tt := range tests {
		got, ok := ParsePaymentMethod(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		if ok {
			assert.Equal(t, tt.status, got.InitialStatus(), tt.in)
		}
	}
}
