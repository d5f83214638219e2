package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
)

// OrderService manages orders and the fulfilment state of their lines.
type OrderService struct {
	store QueryStore
	audit *AuditService
	units unitRunner
}

func NewOrderService(store QueryStore, cfg Settings) *OrderService {
	return &OrderService{
		store: store,
		audit: NewAuditService(),
		units: newUnitRunner(store, cfg),
	}
}

type OrderLineRequest struct {
	ProductID uuid.UUID
	Quantity  int32
}

type CreateOrderRequest struct {
	CustomerID      uuid.UUID
	DeliveryAddress string
	Items           []OrderLineRequest
	ActorID         *uuid.UUID
}

var itemTransitions = transitions{
	domain.ItemStatusPending: {
		domain.ItemStatusShipped:   {},
		domain.ItemStatusCancelled: {},
	},
	domain.ItemStatusShipped: {
		domain.ItemStatusDelivered: {},
	},
}

// CreateOrder prices the lines from the catalogue and records a pending
// order. Stock is only checked here; it is reserved when payment starts.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderView, error) {
	req.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)
	if req.DeliveryAddress == "" {
		return nil, validationError("delivery_address is required")
	}
	if len(req.Items) == 0 {
		return nil, validationError("at least one item is required")
	}
	wanted := make(map[uuid.UUID]int32)
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, validationError("quantity must be positive")
		}
		wanted[line.ProductID] += line.Quantity
	}

	orderID := uuid.New()
	err := s.units.run(ctx, "create_order", func(ctx context.Context, qtx repository.Querier) error {
		customer, err := qtx.GetAccount(ctx, repository.ToPgUUID(req.CustomerID))
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("get customer: %w", err)
		}
		if customer.Role != domain.RoleBuyer {
			return validationError("account %s is not a buyer", req.CustomerID)
		}

		products := make(map[uuid.UUID]repository.Product, len(wanted))
		var total int64
		for _, line := range req.Items {
			product, ok := products[line.ProductID]
			if !ok {
				product, err = qtx.GetProduct(ctx, repository.ToPgUUID(line.ProductID))
				if err != nil {
					if repository.IsNotFound(err) {
						return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
					}
					return fmt.Errorf("get product: %w", err)
				}
				if !product.Available || product.Stock < wanted[line.ProductID] {
					return fmt.Errorf("%w: product %s", ErrOutOfStock, line.ProductID)
				}
				products[line.ProductID] = product
			}
			total += product.UnitPrice * int64(line.Quantity)
		}

		order, err := qtx.CreateOrder(ctx, repository.CreateOrderParams{
			ID:              repository.ToPgUUID(orderID),
			CustomerID:      customer.ID,
			TotalAmount:     total,
			Status:          domain.OrderStatusPending,
			DeliveryAddress: req.DeliveryAddress,
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for _, line := range req.Items {
			product := products[line.ProductID]
			if _, err := qtx.CreateOrderItem(ctx, repository.CreateOrderItemParams{
				ID:        repository.ToPgUUID(uuid.New()),
				OrderID:   order.ID,
				SellerID:  product.SellerID,
				ProductID: product.ID,
				Quantity:  line.Quantity,
				UnitPrice: product.UnitPrice,
				Status:    domain.ItemStatusPending,
			}); err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}
		return s.audit.Write(ctx, qtx, entityOrder, orderID, req.ActorID, "created", "", domain.OrderStatusPending,
			marshalMetadata(map[string]any{"total_amount": total, "lines": len(req.Items)}))
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

// GetOrder returns the order with its lines and, once payment has started,
// its settlement transaction.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderView, error) {
	q := s.store.Queries()
	order, err := q.GetOrder(ctx, repository.ToPgUUID(orderID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	items, err := q.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	view := newOrderView(order, items)

	if order.TransactionID.Valid {
		tx, err := q.GetTransaction(ctx, order.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("get order transaction: %w", err)
		}
		txItems, err := q.ListTransactionItems(ctx, tx.ID)
		if err != nil {
			return nil, fmt.Errorf("list transaction items: %w", err)
		}
		txView := newTransactionView(tx, txItems)
		view.Transaction = &txView
	}
	return &view, nil
}

// UpdateItemStatus moves one order line through fulfilment. Lines ship only
// after payment; they can be cancelled only before payment starts.
func (s *OrderService) UpdateItemStatus(ctx context.Context, itemID uuid.UUID, status string, actorID *uuid.UUID) (*OrderView, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	var orderID uuid.UUID
	err := s.units.run(ctx, "item_status", func(ctx context.Context, qtx repository.Querier) error {
		line, err := qtx.GetOrderItem(ctx, repository.ToPgUUID(itemID))
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrItemNotFound
			}
			return fmt.Errorf("get order item: %w", err)
		}
		order, err := qtx.GetOrderForUpdate(ctx, line.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		orderID = repository.FromPgUUID(order.ID)

		if line.Status == status {
			return nil
		}
		if !itemTransitions.allows(line.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidItemStatus, line.Status, status)
		}

		if status == domain.ItemStatusCancelled {
			return s.cancelLine(ctx, qtx, order, line, actorID)
		}

		if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusShipped {
			return fmt.Errorf("%w: order is %s", ErrInvalidItemStatus, order.Status)
		}
		rows, err := qtx.UpdateOrderItemStatus(ctx, repository.UpdateOrderItemStatusParams{ID: line.ID, Status: status})
		if err != nil {
			return fmt.Errorf("update order item: %w", err)
		}
		if err := requireExactlyOne(rows, "update order item"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, entityOrder, orderID, actorID, "item_"+status, line.Status, status,
			marshalMetadata(map[string]any{"item_id": itemID.String()})); err != nil {
			return err
		}
		return s.deriveOrderStatus(ctx, qtx, order, actorID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

func (s *OrderService) cancelLine(ctx context.Context, qtx repository.Querier, order repository.Order, line repository.OrderItem, actorID *uuid.UUID) error {
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: order is %s", ErrInvalidItemStatus, order.Status)
	}
	if _, err := qtx.GetActiveTransactionForOrder(ctx, order.ID); err == nil {
		return ErrSettlementInProgress
	} else if !repository.IsNotFound(err) {
		return fmt.Errorf("get active transaction: %w", err)
	}

	rows, err := qtx.UpdateOrderItemStatus(ctx, repository.UpdateOrderItemStatusParams{
		ID:        line.ID,
		Status:    domain.ItemStatusCancelled,
		Cancelled: true,
	})
	if err != nil {
		return fmt.Errorf("cancel order item: %w", err)
	}
	if err := requireExactlyOne(rows, "cancel order item"); err != nil {
		return err
	}

	items, err := qtx.ListOrderItems(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	var total int64
	live := 0
	for _, item := range items {
		if item.Cancelled || item.Status == domain.ItemStatusCancelled {
			continue
		}
		total += item.UnitPrice * int64(item.Quantity)
		live++
	}
	if _, err := qtx.UpdateOrderTotal(ctx, repository.UpdateOrderTotalParams{ID: order.ID, TotalAmount: total}); err != nil {
		return fmt.Errorf("update order total: %w", err)
	}
	if live == 0 {
		if _, err := qtx.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{ID: order.ID, Status: domain.OrderStatusCancelled}); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
	}
	return s.audit.Write(ctx, qtx, entityOrder, repository.FromPgUUID(order.ID), actorID, "item_cancelled", line.Status, domain.ItemStatusCancelled,
		marshalMetadata(map[string]any{"item_id": repository.FromPgUUID(line.ID).String(), "total_amount": total}))
}

// deriveOrderStatus rolls line statuses up to the order. Delivery closes
// the order for the buyer and every seller on it.
func (s *OrderService) deriveOrderStatus(ctx context.Context, qtx repository.Querier, order repository.Order, actorID *uuid.UUID) error {
	items, err := qtx.ListOrderItems(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	allDelivered, anyMoved := true, false
	sellers := make(map[uuid.UUID]struct{})
	for _, item := range items {
		if item.Cancelled || item.Status == domain.ItemStatusCancelled {
			continue
		}
		sellers[repository.FromPgUUID(item.SellerID)] = struct{}{}
		if item.Status != domain.ItemStatusDelivered {
			allDelivered = false
		}
		if item.Status == domain.ItemStatusShipped || item.Status == domain.ItemStatusDelivered {
			anyMoved = true
		}
	}

	next := order.Status
	switch {
	case allDelivered && len(sellers) > 0:
		next = domain.OrderStatusDelivered
	case anyMoved:
		next = domain.OrderStatusShipped
	}
	if next == order.Status {
		return nil
	}
	if _, err := qtx.UpdateOrderStatus(ctx, repository.UpdateOrderStatusParams{ID: order.ID, Status: next}); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if next == domain.OrderStatusDelivered {
		counterparties := []uuid.UUID{repository.FromPgUUID(order.CustomerID)}
		for seller := range sellers {
			counterparties = append(counterparties, seller)
		}
		for _, accountID := range counterparties {
			if _, err := qtx.AdjustPendingOrders(ctx, repository.AdjustPendingOrdersParams{
				ID:    repository.ToPgUUID(accountID),
				Delta: -1,
			}); err != nil {
				return fmt.Errorf("adjust pending orders: %w", err)
			}
		}
	}
	return s.audit.Write(ctx, qtx, entityOrder, repository.FromPgUUID(order.ID), actorID, "status_derived", order.Status, next, nil)
}
