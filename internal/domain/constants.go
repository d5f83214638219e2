package domain

// System account IDs seeded by the ledger migration.
const (
	PlatformAccountID = "00000000-0000-0000-0000-00000000a001"
	ClearingAccountID = "00000000-0000-0000-0000-00000000c001"
)

// Account roles.
const (
	RoleBuyer    = "buyer"
	RoleSeller   = "seller"
	RolePlatform = "platform"
	RoleClearing = "clearing"
)

// Order and order line statuses.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"

	ItemStatusPending   = "pending"
	ItemStatusShipped   = "shipped"
	ItemStatusDelivered = "delivered"
	ItemStatusCancelled = "cancelled"
)

// Settlement transaction statuses.
const (
	TxStatusPending          = "pending"
	TxStatusGatewayInitiated = "gateway_initiated"
	TxStatusCompleted        = "completed"
	TxStatusFailed           = "failed"
	TxStatusReversed         = "reversed"
)

// Payment methods. Split charges through the card gateway and pays sellers
// by transfer, push through the phone push gateway with an offline payout path.
const (
	MethodSplit = "split"
	MethodPush  = "push"
)

// Per-item payout lifecycle.
const (
	PayoutItemManualPending = "manual_pending"
	PayoutItemPending       = "pending"
	PayoutItemTransferred   = "transferred"
	PayoutItemFailed        = "failed"
)

// Per-item refund lifecycle.
const (
	RefundNone      = "none"
	RefundPending   = "pending"
	RefundReturned  = "returned"
	RefundCompleted = "completed"
)

// Per-item return lifecycle.
const (
	ReturnNone      = "none"
	ReturnPending   = "pending"
	ReturnConfirmed = "confirmed"
	ReturnRejected  = "rejected"
)

// Payout batch statuses.
const (
	PayoutStatusProcessing   = "processing"
	PayoutStatusCompleted    = "completed"
	PayoutStatusFailed       = "failed"
	PayoutStatusManualReview = "manual_review"

	PayoutMethodTransfer = "transfer"
	PayoutMethodManual   = "manual"
)

// Ledger entry kinds written to payout history.
const (
	EntryCharge           = "charge"
	EntrySale             = "sale"
	EntryCommission       = "commission"
	EntryDeliveryFee      = "delivery_fee"
	EntryGatewayFee       = "gateway_fee"
	EntryRounding         = "rounding_adjustment"
	EntryRefund           = "refund"
	EntryRefundCommission = "refund_commission"
	EntryRefundPaid       = "refund_paid"
	EntryDeliveryReversal = "delivery_fee_reversal"
	EntryPayout           = "payout"
	EntryPayoutSent       = "payout_sent"
	EntryTransferFee      = "transfer_fee"

	EntryStatusPosted  = "posted"
	EntryStatusPending = "pending_offline"
)
