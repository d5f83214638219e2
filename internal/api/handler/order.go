package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/marketplace-settlement/internal/service"
	"github.com/google/uuid"
)

// OrderHandler serves order fulfilment, checkout, returns and refunds.
type OrderHandler struct {
	orders     *service.OrderService
	settlement *service.SettlementService
}

func NewOrderHandler(orders *service.OrderService, settlement *service.SettlementService) *OrderHandler {
	return &OrderHandler{orders: orders, settlement: settlement}
}

type orderLineBody struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type createOrderBody struct {
	CustomerID      string          `json:"customer_id"`
	DeliveryAddress string          `json:"delivery_address"`
	Items           []orderLineBody `json:"items"`
}

// CreateOrder handles POST /v1/orders. Buyers order for themselves; admins
// may name any customer.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	var body createOrderBody
	if !decodeJSON(w, r, &body) {
		return
	}

	customerID := actorID
	if strings.TrimSpace(body.CustomerID) != "" {
		if customerID, ok = parseUUIDField(w, r, body.CustomerID, "customer_id"); !ok {
			return
		}
	}
	if !isAdmin && customerID != actorID {
		forbidden(w, r)
		return
	}

	req := service.CreateOrderRequest{
		CustomerID:      customerID,
		DeliveryAddress: body.DeliveryAddress,
		ActorID:         &actorID,
	}
	for _, line := range body.Items {
		productID, ok := parseUUIDField(w, r, line.ProductID, "product_id")
		if !ok {
			return
		}
		req.Items = append(req.Items, service.OrderLineRequest{ProductID: productID, Quantity: line.Quantity})
	}

	order, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, "create order", err)
		return
	}
	RespondJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /v1/orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	if !isAdmin && !orderVisibleTo(order, actorID) {
		forbidden(w, r)
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

type itemStatusBody struct {
	Status string `json:"status"`
}

// UpdateItemStatus handles PATCH /v1/orders/{id}/items/{itemID}. Only the
// line's seller or an admin moves it.
func (h *OrderHandler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	_, item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	if !isAdmin && item.SellerID != actorID {
		forbidden(w, r)
		return
	}
	var body itemStatusBody
	if !decodeJSON(w, r, &body) {
		return
	}

	updated, err := h.orders.UpdateItemStatus(r.Context(), item.ID, body.Status, &actorID)
	if err != nil {
		respondServiceError(w, r, "update item status", err)
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

type checkoutBody struct {
	Method      string `json:"method"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DeliveryFee int64  `json:"delivery_fee"`
}

// Checkout handles POST /v1/orders/{id}/checkout.
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	if !isAdmin && order.CustomerID != actorID {
		forbidden(w, r)
		return
	}
	var body checkoutBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.settlement.Initiate(r.Context(), service.InitiateRequest{
		OrderID:     order.ID,
		Method:      body.Method,
		Email:       body.Email,
		Phone:       body.Phone,
		DeliveryFee: body.DeliveryFee,
		ActorID:     &actorID,
	})
	if err != nil {
		respondServiceError(w, r, "initiate settlement", err)
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// Refund handles POST /v1/orders/{id}/items/{itemID}/refund (admin only).
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	txID, item, ok := h.loadSettledItem(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.settlement.RefundItem(r.Context(), service.RefundRequest{
		TransactionID: txID,
		ItemID:        item.ID,
		Reason:        body.Reason,
		ActorID:       &actorID,
	})
	if err != nil {
		respondServiceError(w, r, "refund item", err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

type completeRefundBody struct {
	Reference string `json:"reference"`
}

// CompleteRefund handles POST /v1/orders/{id}/items/{itemID}/refund/complete
// (admin only) once the money was returned to the buyer offline.
func (h *OrderHandler) CompleteRefund(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	txID, item, ok := h.loadSettledItem(w, r)
	if !ok {
		return
	}
	var body completeRefundBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.settlement.CompleteManualRefund(r.Context(), txID, item.ID, body.Reference, &actorID)
	if err != nil {
		respondServiceError(w, r, "complete manual refund", err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// RequestReturn handles POST /v1/orders/{id}/items/{itemID}/return. The
// buyer who placed the order opens it.
func (h *OrderHandler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	if !isAdmin && order.CustomerID != actorID {
		forbidden(w, r)
		return
	}
	txID, item, ok := h.settledItem(w, r, order)
	if !ok {
		return
	}
	var body reasonBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.settlement.RequestReturn(r.Context(), txID, item.ID, body.Reason, &actorID)
	if err != nil {
		respondServiceError(w, r, "request return", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, res)
}

type resolveReturnBody struct {
	Approve *bool `json:"approve"`
}

// ResolveReturn handles POST /v1/orders/{id}/items/{itemID}/return/resolve
// (admin only).
func (h *OrderHandler) ResolveReturn(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(w, r)
	if !ok {
		return
	}
	txID, item, ok := h.loadSettledItem(w, r)
	if !ok {
		return
	}
	var body resolveReturnBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Approve == nil {
		RespondError(w, r, http.StatusBadRequest, "request/missing-approve", "approve is required")
		return
	}

	res, err := h.settlement.ResolveReturn(r.Context(), txID, item.ID, *body.Approve, &actorID)
	if err != nil {
		respondServiceError(w, r, "resolve return", err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

func (h *OrderHandler) loadOrder(w http.ResponseWriter, r *http.Request) (*service.OrderView, bool) {
	orderID, ok := uuidParam(w, r, "id", "order id")
	if !ok {
		return nil, false
	}
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		respondServiceError(w, r, "get order", err)
		return nil, false
	}
	return order, true
}

// loadItem resolves {id} and {itemID}, rejecting items of another order.
func (h *OrderHandler) loadItem(w http.ResponseWriter, r *http.Request) (*service.OrderView, service.OrderItemView, bool) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return nil, service.OrderItemView{}, false
	}
	item, ok := findOrderItem(w, r, order)
	return order, item, ok
}

func (h *OrderHandler) loadSettledItem(w http.ResponseWriter, r *http.Request) (uuid.UUID, service.OrderItemView, bool) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return uuid.Nil, service.OrderItemView{}, false
	}
	return h.settledItem(w, r, order)
}

func (h *OrderHandler) settledItem(w http.ResponseWriter, r *http.Request, order *service.OrderView) (uuid.UUID, service.OrderItemView, bool) {
	item, ok := findOrderItem(w, r, order)
	if !ok {
		return uuid.Nil, item, false
	}
	if order.TransactionID == nil {
		RespondError(w, r, http.StatusConflict, "transaction/not-settled", service.ErrTransactionNotSettled.Error())
		return uuid.Nil, item, false
	}
	return *order.TransactionID, item, true
}

func findOrderItem(w http.ResponseWriter, r *http.Request, order *service.OrderView) (service.OrderItemView, bool) {
	itemID, ok := uuidParam(w, r, "itemID", "item id")
	if !ok {
		return service.OrderItemView{}, false
	}
	for _, item := range order.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	RespondError(w, r, http.StatusNotFound, "order/item-not-found", service.ErrItemNotFound.Error())
	return service.OrderItemView{}, false
}

func orderVisibleTo(order *service.OrderView, actorID uuid.UUID) bool {
	if order.CustomerID == actorID {
		return true
	}
	for _, item := range order.Items {
		if item.SellerID == actorID {
			return true
		}
	}
	return false
}
