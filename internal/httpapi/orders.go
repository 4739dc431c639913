package httpapi

import (
	"net/http"
	"strconv"

	"github.com/safar/greenvillage/internal/auth"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const idempotencyHeader = "Idempotency-Key"

// placeOrderRequest is the checkout body sent by the storefront.
type placeOrderRequest struct {
	Items []struct {
		ProductID int64 `json:"productId"`
		Quantity  int   `json:"quantity"`
	} `json:"items"`
	ShippingAddress addressRequest `json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
	Notes           string         `json:"notes"`
}

type addressRequest struct {
	FullName  string `json:"fullName"`
	Phone     string `json:"phone"`
	Region    string `json:"region"`
	SubRegion string `json:"subRegion"`
	Address   string `json:"address"`
}

func (a addressRequest) model() models.ShippingAddress {
	return models.ShippingAddress{
		FullName:  a.FullName,
		Phone:     a.Phone,
		Region:    a.Region,
		SubRegion: a.SubRegion,
		Address:   a.Address,
	}
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PlaceOrder")
	defer span.End()

	var req placeOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cart := make([]orders.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		cart = append(cart, orders.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	placeReq := orders.PlaceOrderRequest{
		Items:           cart,
		ShippingAddress: req.ShippingAddress.model(),
		PaymentMethod:   req.PaymentMethod,
		Note:            req.Notes,
		IdempotencyKey:  r.Header.Get(idempotencyHeader),
	}
	if id, ok := auth.FromContext(ctx); ok {
		placeReq.OwnerID = &id.UserID
	}

	order, replayed, err := h.orders.PlaceOrder(ctx, placeReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "place order failed")
		h.writeError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.String("order.number", order.OrderNumber),
		attribute.Bool("order.replayed", replayed),
	)

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, order)
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	cursor, limit := cursorParams(r)

	page, err := h.orders.ListOwn(r.Context(), id.UserID, cursor, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	cursor, limit := cursorParams(r)

	page, err := h.orders.ListAll(r.Context(), requester(r), cursor, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "order")
	if !ok {
		return
	}

	order, err := h.orders.Get(r.Context(), orderID, requester(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	orderID, ok := pathID(w, r, "order")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("order.status", req.Status))

	order, err := h.orders.UpdateStatus(ctx, orderID, req.Status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update status failed")
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func requester(r *http.Request) orders.Requester {
	id, _ := auth.FromContext(r.Context())
	return orders.Requester{UserID: id.UserID, Admin: id.IsAdmin()}
}

func cursorParams(r *http.Request) (string, int) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	return q.Get("cursor"), limit
}
