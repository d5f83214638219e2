package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Account struct {
	ID             pgtype.UUID        `json:"id"`
	Role           string             `json:"role"`
	Name           string             `json:"name"`
	Email          string             `json:"email"`
	Phone          *string            `json:"phone"`
	SubaccountCode *string            `json:"subaccount_code"`
	Balance        int64              `json:"balance"`
	PendingOrders  int32              `json:"pending_orders"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

type Product struct {
	ID        pgtype.UUID        `json:"id"`
	SellerID  pgtype.UUID        `json:"seller_id"`
	Name      string             `json:"name"`
	UnitPrice int64              `json:"unit_price"`
	Stock     int32              `json:"stock"`
	Available bool               `json:"available"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

type Order struct {
	ID              pgtype.UUID        `json:"id"`
	CustomerID      pgtype.UUID        `json:"customer_id"`
	TotalAmount     int64              `json:"total_amount"`
	Status          string             `json:"status"`
	DeliveryAddress string             `json:"delivery_address"`
	TransactionID   pgtype.UUID        `json:"transaction_id"`
	CreatedAt       pgtype.Timestamptz `json:"created_at"`
	UpdatedAt       pgtype.Timestamptz `json:"updated_at"`
}

type OrderItem struct {
	ID        pgtype.UUID        `json:"id"`
	OrderID   pgtype.UUID        `json:"order_id"`
	SellerID  pgtype.UUID        `json:"seller_id"`
	ProductID pgtype.UUID        `json:"product_id"`
	Quantity  int32              `json:"quantity"`
	UnitPrice int64              `json:"unit_price"`
	Status    string             `json:"status"`
	Cancelled bool               `json:"cancelled"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type Transaction struct {
	ID               pgtype.UUID        `json:"id"`
	OrderID          pgtype.UUID        `json:"order_id"`
	GatewayReference string             `json:"gateway_reference"`
	PaymentID        *string            `json:"payment_id"`
	TotalAmount      int64              `json:"total_amount"`
	DeliveryFee      int64              `json:"delivery_fee"`
	GatewayFee       int64              `json:"gateway_fee"`
	NetReceived      int64              `json:"net_received"`
	Status           string             `json:"status"`
	PaymentMethod    string             `json:"payment_method"`
	BuyerEmail       *string            `json:"buyer_email"`
	BuyerPhone       *string            `json:"buyer_phone"`
	PaidAt           pgtype.Timestamptz `json:"paid_at"`
	CreatedAt        pgtype.Timestamptz `json:"created_at"`
	UpdatedAt        pgtype.Timestamptz `json:"updated_at"`
}

type TransactionItem struct {
	TransactionID      pgtype.UUID        `json:"transaction_id"`
	ItemID             pgtype.UUID        `json:"item_id"`
	SellerID           pgtype.UUID        `json:"seller_id"`
	ItemAmount         int64              `json:"item_amount"`
	PlatformCommission int64              `json:"platform_commission"`
	SellerShare        int64              `json:"seller_share"`
	ProratedFee        int64              `json:"prorated_fee"`
	TransferFee        int64              `json:"transfer_fee"`
	NetCommission      int64              `json:"net_commission"`
	OwedAmount         int64              `json:"owed_amount"`
	PayoutStatus       string             `json:"payout_status"`
	RefundStatus       string             `json:"refund_status"`
	RefundedAmount     int64              `json:"refunded_amount"`
	RefundReference    *string            `json:"refund_reference"`
	ReturnStatus       string             `json:"return_status"`
	PayoutID           pgtype.UUID        `json:"payout_id"`
	UpdatedAt          pgtype.Timestamptz `json:"updated_at"`
}

type PayoutHistory struct {
	ID            pgtype.UUID        `json:"id"`
	EventID       pgtype.UUID        `json:"event_id"`
	AccountID     pgtype.UUID        `json:"account_id"`
	Amount        int64              `json:"amount"`
	Kind          string             `json:"kind"`
	Method        string             `json:"method"`
	Status        string             `json:"status"`
	TransactionID pgtype.UUID        `json:"transaction_id"`
	OrderID       pgtype.UUID        `json:"order_id"`
	ItemID        pgtype.UUID        `json:"item_id"`
	PayoutID      pgtype.UUID        `json:"payout_id"`
	CreatedAt     pgtype.Timestamptz `json:"created_at"`
}

type Payout struct {
	ID          pgtype.UUID        `json:"id"`
	SellerID    pgtype.UUID        `json:"seller_id"`
	Method      string             `json:"method"`
	GrossAmount int64              `json:"gross_amount"`
	TransferFee int64              `json:"transfer_fee"`
	NetAmount   int64              `json:"net_amount"`
	ItemCount   int32              `json:"item_count"`
	Status      string             `json:"status"`
	Reference   string             `json:"reference"`
	GatewayRef  *string            `json:"gateway_ref"`
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
	UpdatedAt   pgtype.Timestamptz `json:"updated_at"`
}

type AuditLog struct {
	ID         int64              `json:"id"`
	EntityType string             `json:"entity_type"`
	EntityID   pgtype.UUID        `json:"entity_id"`
	ActorID    pgtype.UUID        `json:"actor_id"`
	Action     string             `json:"action"`
	PrevState  *string            `json:"prev_state"`
	NextState  *string            `json:"next_state"`
	Metadata   []byte             `json:"metadata"`
	CreatedAt  pgtype.Timestamptz `json:"created_at"`
}

type IdempotencyKey struct {
	IdempotencyKey string             `json:"idempotency_key"`
	RequestHash    string             `json:"request_hash"`
	Method         string             `json:"method"`
	Path           string             `json:"path"`
	ResponseStatus int32              `json:"response_status"`
	ResponseBody   []byte             `json:"response_body"`
	ContentType    string             `json:"content_type"`
	InProgress     bool               `json:"in_progress"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

type UnbalancedEvent struct {
	EventID   pgtype.UUID `json:"event_id"`
	NetAmount int64       `json:"net_amount"`
}
