package orders

import (
	"errors"
	"fmt"

	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
)

var (
	ErrOrderNotFound     = database.ErrOrderNotFound
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidCursor     = errors.New("invalid cursor")
)

type RejectionCode string

const (
	CodeEmptyCart            RejectionCode = "EMPTY_CART"
	CodeIncompleteAddress    RejectionCode = "INCOMPLETE_ADDRESS"
	CodeInvalidPaymentMethod RejectionCode = "INVALID_PAYMENT_METHOD"
	CodeInvalidQuantity      RejectionCode = "INVALID_QUANTITY"
	CodeInvalidProduct       RejectionCode = "INVALID_PRODUCT"
	CodeInsufficientStock    RejectionCode = "INSUFFICIENT_STOCK"
)

// RejectionError is returned when a cart fails validation. Nothing it describes
// has been persisted.
type RejectionError struct {
	Code        RejectionCode
	Field       string
	ProductID   int64
	ProductName string
	Available   int
}

func (e *RejectionError) Error() string {
	switch e.Code {
	case CodeEmptyCart:
		return "no items provided for the order"
	case CodeIncompleteAddress:
		return fmt.Sprintf("shipping address is incomplete: %s is required", e.Field)
	case CodeInvalidPaymentMethod:
		return "unsupported payment method"
	case CodeInvalidQuantity:
		return fmt.Sprintf("invalid quantity for product with ID: %d", e.ProductID)
	case CodeInvalidProduct:
		return fmt.Sprintf("invalid product with ID: %d", e.ProductID)
	case CodeInsufficientStock:
		return fmt.Sprintf("insufficient stock for product: %s (available %d)", e.ProductName, e.Available)
	}
	return string(e.Code)
}

// IsRejection reports whether err is a cart rejection with the given code.
func IsRejection(err error, code RejectionCode) bool {
	var rej *RejectionError
	return errors.As(err, &rej) && rej.Code == code
}

type TransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
