package service

import (
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type TransactionItemView struct {
	ItemID             uuid.UUID  `json:"item_id"`
	SellerID           uuid.UUID  `json:"seller_id"`
	ItemAmount         int64      `json:"item_amount"`
	PlatformCommission int64      `json:"platform_commission"`
	SellerShare        int64      `json:"seller_share"`
	ProratedFee        int64      `json:"prorated_fee"`
	TransferFee        int64      `json:"transfer_fee"`
	NetCommission      int64      `json:"net_commission"`
	OwedAmount         int64      `json:"owed_amount"`
	PayoutStatus       string     `json:"payout_status"`
	RefundStatus       string     `json:"refund_status"`
	RefundedAmount     int64      `json:"refunded_amount"`
	ReturnStatus       string     `json:"return_status"`
	PayoutID           *uuid.UUID `json:"payout_id,omitempty"`
}

type TransactionView struct {
	ID               uuid.UUID             `json:"id"`
	OrderID          uuid.UUID             `json:"order_id"`
	GatewayReference string                `json:"gateway_reference"`
	TotalAmount      int64                 `json:"total_amount"`
	DeliveryFee      int64                 `json:"delivery_fee"`
	GatewayFee       int64                 `json:"gateway_fee"`
	NetReceived      int64                 `json:"net_received"`
	Status           string                `json:"status"`
	PaymentMethod    string                `json:"payment_method"`
	PaidAt           *time.Time            `json:"paid_at,omitempty"`
	Items            []TransactionItemView `json:"items"`
}

func optionalUUID(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := uuid.UUID(id.Bytes)
	return &v
}

func optionalTime(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func newTransactionView(tx repository.Transaction, items []repository.TransactionItem) TransactionView {
	view := TransactionView{
		ID:               repository.FromPgUUID(tx.ID),
		OrderID:          repository.FromPgUUID(tx.OrderID),
		GatewayReference: tx.GatewayReference,
		TotalAmount:      tx.TotalAmount,
		DeliveryFee:      tx.DeliveryFee,
		GatewayFee:       tx.GatewayFee,
		NetReceived:      tx.NetReceived,
		Status:           tx.Status,
		PaymentMethod:    tx.PaymentMethod,
		PaidAt:           optionalTime(tx.PaidAt),
		Items:            make([]TransactionItemView, 0, len(items)),
	}
	for _, item := range items {
		view.Items = append(view.Items, TransactionItemView{
			ItemID:             repository.FromPgUUID(item.ItemID),
			SellerID:           repository.FromPgUUID(item.SellerID),
			ItemAmount:         item.ItemAmount,
			PlatformCommission: item.PlatformCommission,
			SellerShare:        item.SellerShare,
			ProratedFee:        item.ProratedFee,
			TransferFee:        item.TransferFee,
			NetCommission:      item.NetCommission,
			OwedAmount:         item.OwedAmount,
			PayoutStatus:       item.PayoutStatus,
			RefundStatus:       item.RefundStatus,
			RefundedAmount:     item.RefundedAmount,
			ReturnStatus:       item.ReturnStatus,
			PayoutID:           optionalUUID(item.PayoutID),
		})
	}
	return view
}

type OrderItemView struct {
	ID        uuid.UUID `json:"id"`
	SellerID  uuid.UUID `json:"seller_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Status    string    `json:"status"`
	Cancelled bool      `json:"cancelled"`
}

type OrderView struct {
	ID              uuid.UUID        `json:"id"`
	CustomerID      uuid.UUID        `json:"customer_id"`
	TotalAmount     int64            `json:"total_amount"`
	Status          string           `json:"status"`
	DeliveryAddress string           `json:"delivery_address"`
	TransactionID   *uuid.UUID       `json:"transaction_id,omitempty"`
	Items           []OrderItemView  `json:"items"`
	Transaction     *TransactionView `json:"transaction,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func newOrderView(order repository.Order, items []repository.OrderItem) OrderView {
	view := OrderView{
		ID:              repository.FromPgUUID(order.ID),
		CustomerID:      repository.FromPgUUID(order.CustomerID),
		TotalAmount:     order.TotalAmount,
		Status:          order.Status,
		DeliveryAddress: order.DeliveryAddress,
		TransactionID:   optionalUUID(order.TransactionID),
		Items:           make([]OrderItemView, 0, len(items)),
		CreatedAt:       order.CreatedAt.Time,
	}
	for _, item := range items {
		view.Items = append(view.Items, OrderItemView{
			ID:        repository.FromPgUUID(item.ID),
			SellerID:  repository.FromPgUUID(item.SellerID),
			ProductID: repository.FromPgUUID(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Status:    item.Status,
			Cancelled: item.Cancelled,
		})
	}
	return view
}

type PayoutView struct {
	ID          uuid.UUID `json:"id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Method      string    `json:"method"`
	GrossAmount int64     `json:"gross_amount"`
	TransferFee int64     `json:"transfer_fee"`
	NetAmount   int64     `json:"net_amount"`
	ItemCount   int32     `json:"item_count"`
	Status      string    `json:"status"`
	Reference   string    `json:"reference"`
	GatewayRef  *string   `json:"gateway_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newPayoutView(p repository.Payout) PayoutView {
	return PayoutView{
		ID:          repository.FromPgUUID(p.ID),
		SellerID:    repository.FromPgUUID(p.SellerID),
		Method:      p.Method,
		GrossAmount: p.GrossAmount,
		TransferFee: p.TransferFee,
		NetAmount:   p.NetAmount,
		ItemCount:   p.ItemCount,
		Status:      p.Status,
		Reference:   p.Reference,
		GatewayRef:  p.GatewayRef,
		CreatedAt:   p.CreatedAt.Time,
		UpdatedAt:   p.UpdatedAt.Time,
	}
}
