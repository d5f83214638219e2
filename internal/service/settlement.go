package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/gateway"
	"github.com/ayo6706/marketplace-settlement/internal/notify"
	"github.com/ayo6706/marketplace-settlement/internal/observability"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
	"go.uber.org/zap"
)

const placeholderPrefix = "PENDING-"

// SettlementService drives an order's payment through a gateway and keeps the
// ledger consistent with what the gateway reports.
type SettlementService struct {
	store    QueryStore
	split    gateway.SplitGateway
	push     gateway.PushGateway
	notifier *notify.Dispatcher
	audit    *AuditService
	cfg      Settings
	units    unitRunner
	newID    func() string
}

func NewSettlementService(store QueryStore, split gateway.SplitGateway, push gateway.PushGateway, notifier *notify.Dispatcher, cfg Settings) (*SettlementService, error) {
	idGenerator, err := nanoid.Standard(15)
	if err != nil {
		return nil, fmt.Errorf("create id generator: %w", err)
	}
	return &SettlementService{
		store:    store,
		split:    split,
		push:     push,
		notifier: notifier,
		audit:    NewAuditService(),
		cfg:      cfg,
		units:    newUnitRunner(store, cfg),
		newID:    idGenerator,
	}, nil
}

// InitiateRequest starts payment of a pending order.
type InitiateRequest struct {
	OrderID     uuid.UUID
	Method      string
	Email       string
	Phone       string
	DeliveryFee int64
	ActorID     *uuid.UUID
}

type InitiateResult struct {
	TransactionID    uuid.UUID `json:"transaction_id"`
	Reference        string    `json:"reference"`
	AuthorizationURL string    `json:"authorization_url,omitempty"`
	PushSent         bool      `json:"push_sent,omitempty"`
	Status           string    `json:"status"`
}

// checkout is everything initiation reads before touching the gateway.
type checkout struct {
	order       repository.Order
	items       []repository.OrderItem
	split       domain.Split
	subaccounts map[uuid.UUID]string
}

// Initiate creates the settlement transaction for an order. Split payments
// call the gateway first and persist the reference it returns. Push payments
// persist a placeholder first so the webhook can always find the row, and
// delete it again if the push is not accepted.
func (s *SettlementService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	req.Method = strings.ToLower(strings.TrimSpace(req.Method))
	req.Email = strings.TrimSpace(req.Email)
	if req.DeliveryFee < 0 {
		return nil, validationError("delivery_fee must not be negative")
	}

	switch req.Method {
	case domain.MethodSplit:
		if req.Email == "" {
			return nil, validationError("email is required for split payments")
		}
		if s.split == nil {
			return nil, validationError("split payments are not enabled")
		}
	case domain.MethodPush:
		phone, err := domain.NormalizePhone(req.Phone)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		req.Phone = phone
		if s.push == nil {
			return nil, validationError("push payments are not enabled")
		}
	default:
		return nil, validationError("unsupported payment method %q", req.Method)
	}

	co, err := s.prepareCheckout(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Method == domain.MethodSplit {
		return s.initiateSplit(ctx, req, co)
	}
	return s.initiatePush(ctx, req, co)
}

func (s *SettlementService) prepareCheckout(ctx context.Context, req InitiateRequest) (*checkout, error) {
	q := s.store.Queries()
	order, err := q.GetOrder(ctx, repository.ToPgUUID(req.OrderID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.Status != domain.OrderStatusPending {
		return nil, ErrOrderNotPending
	}
	if _, err := q.GetActiveTransactionForOrder(ctx, order.ID); err == nil {
		return nil, ErrSettlementInProgress
	} else if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get active transaction: %w", err)
	}

	items, err := q.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	split, err := s.cfg.Split.Compute(linesFromOrder(items), order.TotalAmount+req.DeliveryFee, req.DeliveryFee, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	co := &checkout{order: order, items: items, split: split}
	if req.Method == domain.MethodSplit {
		co.subaccounts = make(map[uuid.UUID]string)
		for _, seller := range split.SellerTotals() {
			account, err := q.GetAccount(ctx, repository.ToPgUUID(seller.SellerID))
			if err != nil {
				if repository.IsNotFound(err) {
					return nil, fmt.Errorf("%w: seller %s", ErrAccountNotFound, seller.SellerID)
				}
				return nil, fmt.Errorf("get seller account: %w", err)
			}
			co.subaccounts[seller.SellerID] = repository.StringValue(account.SubaccountCode)
		}
	}
	return co, nil
}

func linesFromOrder(items []repository.OrderItem) []domain.Line {
	lines := make([]domain.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.Line{
			ItemID:    repository.FromPgUUID(item.ID),
			SellerID:  repository.FromPgUUID(item.SellerID),
			UnitPrice: item.UnitPrice,
			Quantity:  int64(item.Quantity),
			Cancelled: item.Cancelled || item.Status == domain.ItemStatusCancelled,
		})
	}
	return lines
}

func (s *SettlementService) initiateSplit(ctx context.Context, req InitiateRequest, co *checkout) (*InitiateResult, error) {
	shares, err := domain.BuildShares(co.split, co.subaccounts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	transactionID := uuid.New()
	start := time.Now()
	resp, err := s.split.Initiate(ctx, gateway.InitiateRequest{
		Reference: transactionID.String(),
		Amount:    co.split.TotalAmount,
		Currency:  s.cfg.Currency,
		Email:     req.Email,
		Shares:    shares,
	})
	observability.ObserveGatewayCall(domain.MethodSplit, "initiate", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("initiate split payment: %w", err)
	}

	err = s.units.run(ctx, "initiate", func(ctx context.Context, qtx repository.Querier) error {
		return s.persistTransaction(ctx, qtx, req, co, transactionID, resp.Reference, domain.TxStatusGatewayInitiated, domain.PayoutItemPending)
	})
	if err != nil {
		zap.L().Warn("split payment initiated but not recorded",
			zap.Error(err),
			zap.String("order_id", req.OrderID.String()),
			zap.String("reference", resp.Reference),
		)
		return nil, err
	}

	return &InitiateResult{
		TransactionID:    transactionID,
		Reference:        resp.Reference,
		AuthorizationURL: resp.AuthorizationURL,
		Status:           domain.TxStatusGatewayInitiated,
	}, nil
}

func (s *SettlementService) initiatePush(ctx context.Context, req InitiateRequest, co *checkout) (*InitiateResult, error) {
	transactionID := uuid.New()
	placeholder := placeholderPrefix + s.newID()

	err := s.units.run(ctx, "initiate", func(ctx context.Context, qtx repository.Querier) error {
		return s.persistTransaction(ctx, qtx, req, co, transactionID, placeholder, domain.TxStatusPending, domain.PayoutItemManualPending)
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.push.Push(ctx, gateway.PushRequest{
		Amount:           co.split.TotalAmount,
		Currency:         s.cfg.Currency,
		Phone:            req.Phone,
		CallbackURL:      s.cfg.PushCallbackURL,
		AccountReference: transactionID.String(),
		Description:      "Order " + req.OrderID.String(),
	})
	observability.ObserveGatewayCall(domain.MethodPush, "push", err, time.Since(start))
	if err != nil {
		if !errors.Is(err, gateway.ErrRejected) {
			// The prompt may have reached the phone. The pending row stays
			// findable by account reference until a callback or expiry settles it.
			zap.L().Warn("push outcome unknown; transaction kept pending",
				zap.Error(err),
				zap.String("transaction_id", transactionID.String()),
			)
			return nil, fmt.Errorf("push payment for transaction %s: %w: %w", transactionID, ErrOutcomeUnknown, err)
		}
		if compErr := s.discardPendingTransaction(context.WithoutCancel(ctx), transactionID, err.Error()); compErr != nil {
			zap.L().Error("push compensation failed",
				zap.Error(compErr),
				zap.String("transaction_id", transactionID.String()),
			)
		}
		return nil, fmt.Errorf("push payment: %w", err)
	}

	status := domain.TxStatusGatewayInitiated
	err = s.units.run(ctx, "push_accepted", func(ctx context.Context, qtx repository.Querier) error {
		status = domain.TxStatusGatewayInitiated
		rows, err := qtx.UpdateTransactionReference(ctx, repository.UpdateTransactionReferenceParams{
			ID:               repository.ToPgUUID(transactionID),
			GatewayReference: resp.CheckoutReference,
		})
		if err != nil {
			return fmt.Errorf("store checkout reference: %w", err)
		}
		if rows == 0 {
			// The webhook got here first; it already found the row by account reference.
			current, err := qtx.GetTransaction(ctx, repository.ToPgUUID(transactionID))
			if err != nil {
				return fmt.Errorf("reload transaction: %w", err)
			}
			status = current.Status
			return nil
		}
		return s.audit.Write(ctx, qtx, entityTransaction, transactionID, req.ActorID, "push_accepted",
			domain.TxStatusPending, domain.TxStatusGatewayInitiated,
			marshalMetadata(map[string]any{"checkout_reference": resp.CheckoutReference}))
	})
	if err != nil {
		return nil, err
	}

	return &InitiateResult{
		TransactionID: transactionID,
		Reference:     resp.CheckoutReference,
		PushSent:      true,
		Status:        status,
	}, nil
}

// persistTransaction records the transaction with its per-item split, reserves
// stock and links the order, all inside one unit.
func (s *SettlementService) persistTransaction(ctx context.Context, qtx repository.Querier, req InitiateRequest, co *checkout, transactionID uuid.UUID, reference, status, payoutStatus string) error {
	order, err := qtx.GetOrderForUpdate(ctx, co.order.ID)
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	if order.Status != domain.OrderStatusPending {
		return ErrOrderNotPending
	}
	if order.TotalAmount != co.order.TotalAmount {
		return fmt.Errorf("%w: order total changed during checkout", ErrValidation)
	}

	var phone *string
	if req.Method == domain.MethodPush {
		phone = repository.StringPtr(req.Phone)
	}
	_, err = qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
		ID:               repository.ToPgUUID(transactionID),
		OrderID:          order.ID,
		GatewayReference: reference,
		TotalAmount:      co.split.TotalAmount,
		DeliveryFee:      co.split.DeliveryFee,
		Status:           status,
		PaymentMethod:    req.Method,
		BuyerEmail:       repository.StringPtr(req.Email),
		BuyerPhone:       phone,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return ErrSettlementInProgress
		}
		return fmt.Errorf("create transaction: %w", err)
	}

	for _, item := range co.split.Items {
		_, err := qtx.CreateTransactionItem(ctx, repository.CreateTransactionItemParams{
			TransactionID:      repository.ToPgUUID(transactionID),
			ItemID:             repository.ToPgUUID(item.ItemID),
			SellerID:           repository.ToPgUUID(item.SellerID),
			ItemAmount:         item.ItemAmount,
			PlatformCommission: item.PlatformCommission,
			SellerShare:        item.SellerShare,
			ProratedFee:        item.ProratedFee,
			TransferFee:        item.TransferFee,
			NetCommission:      item.NetCommission,
			OwedAmount:         item.OwedAmount,
			PayoutStatus:       payoutStatus,
		})
		if err != nil {
			return fmt.Errorf("create transaction item: %w", err)
		}
	}

	if err := s.adjustReservation(ctx, qtx, order, co.items, -1); err != nil {
		return err
	}

	rows, err := qtx.LinkOrderTransaction(ctx, repository.LinkOrderTransactionParams{
		ID:            order.ID,
		TransactionID: repository.ToPgUUID(transactionID),
	})
	if err != nil {
		return fmt.Errorf("link order transaction: %w", err)
	}
	if err := requireExactlyOne(rows, "link order transaction"); err != nil {
		return err
	}

	return s.audit.Write(ctx, qtx, entityTransaction, transactionID, req.ActorID, "created", "", status,
		marshalMetadata(map[string]any{
			"order_id":     repository.FromPgUUID(order.ID).String(),
			"method":       req.Method,
			"reference":    reference,
			"total_amount": co.split.TotalAmount,
		}))
}

// adjustReservation takes (sign -1) or returns (sign +1) stock for the
// order's billable lines and moves the pending-order counters with it.
func (s *SettlementService) adjustReservation(ctx context.Context, qtx repository.Querier, order repository.Order, items []repository.OrderItem, sign int32) error {
	sellers := make(map[uuid.UUID]struct{})
	for _, item := range items {
		if item.Cancelled || item.Status == domain.ItemStatusCancelled {
			continue
		}
		rows, err := qtx.AdjustProductStock(ctx, repository.AdjustProductStockParams{
			ID:    item.ProductID,
			Delta: sign * item.Quantity,
		})
		if err != nil {
			return fmt.Errorf("adjust product stock: %w", err)
		}
		if rows == 0 {
			if sign < 0 {
				return fmt.Errorf("%w: product %s", ErrOutOfStock, repository.FromPgUUID(item.ProductID))
			}
			zap.L().Warn("stock restore skipped for missing product", zap.String("product_id", repository.FromPgUUID(item.ProductID).String()))
		}
		sellers[repository.FromPgUUID(item.SellerID)] = struct{}{}
	}

	counterparties := []uuid.UUID{repository.FromPgUUID(order.CustomerID)}
	for seller := range sellers {
		counterparties = append(counterparties, seller)
	}
	for _, accountID := range counterparties {
		if _, err := qtx.AdjustPendingOrders(ctx, repository.AdjustPendingOrdersParams{
			ID:    repository.ToPgUUID(accountID),
			Delta: -sign,
		}); err != nil {
			return fmt.Errorf("adjust pending orders: %w", err)
		}
	}
	return nil
}

// discardPendingTransaction undoes a push initiation the gateway rejected. A row the webhook already moved out of pending is left alone.
func (s *SettlementService) discardPendingTransaction(ctx context.Context, transactionID uuid.UUID, reason string) error {
	return s.units.run(ctx, "push_compensate", func(ctx context.Context, qtx repository.Querier) error {
		tx, err := qtx.GetTransactionForUpdate(ctx, repository.ToPgUUID(transactionID))
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("lock transaction: %w", err)
		}
		if tx.Status != domain.TxStatusPending {
			zap.L().Warn("push transaction already progressed; not discarding",
				zap.String("transaction_id", transactionID.String()),
				zap.String("status", tx.Status),
			)
			return nil
		}

		order, err := qtx.GetOrderForUpdate(ctx, tx.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		items, err := qtx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("list order items: %w", err)
		}
		if err := s.adjustReservation(ctx, qtx, order, items, 1); err != nil {
			return err
		}
		if _, err := qtx.UnlinkOrderTransaction(ctx, repository.UnlinkOrderTransactionParams{
			ID:            order.ID,
			TransactionID: tx.ID,
		}); err != nil {
			return fmt.Errorf("unlink order transaction: %w", err)
		}
		rows, err := qtx.DeletePendingTransaction(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("delete pending transaction: %w", err)
		}
		if err := requireExactlyOne(rows, "delete pending transaction"); err != nil {
			return err
		}
		reasonMeta, _ := marshalReasonMetadata(reason)
		return s.audit.Write(ctx, qtx, entityOrder, repository.FromPgUUID(order.ID), nil, "push_discarded", domain.TxStatusPending, "", reasonMeta)
	})
}

// ExpireUnconfirmedPushes fails push transactions left pending by an
// unanswered initiation once PendingPushExpiry has passed without a callback.
// It returns how many were failed.
func (s *SettlementService) ExpireUnconfirmedPushes(ctx context.Context, limit int32) (int, error) {
	cutoff := time.Now().Add(-s.cfg.PendingPushExpiry)
	stale, err := s.store.Queries().ListStalePendingTransactions(ctx, repository.ListStalePendingTransactionsParams{
		PaymentMethod: domain.MethodPush,
		UpdatedBefore: repository.ToTimestamptz(cutoff),
		Limit:         limit,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale pending transactions: %w", err)
	}

	expired := 0
	for _, tx := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		id := repository.FromPgUUID(tx.ID)
		res, err := s.Confirm(ctx, ConfirmEvent{
			Gateway:          domain.MethodPush,
			Kind:             EventFailure,
			AccountReference: id.String(),
			Reason:           "no gateway confirmation before expiry",
		})
		if err != nil {
			zap.L().Error("expire pending push failed", zap.Error(err), zap.String("transaction_id", id.String()))
			continue
		}
		if res.Branch == BranchFailure {
			expired++
		}
	}
	if expired > 0 {
		zap.L().Warn("expired unconfirmed push transactions", zap.Int("count", expired))
	}
	return expired, nil
}

// GetTransaction returns a transaction with its item breakdown.
func (s *SettlementService) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*TransactionView, error) {
	q := s.store.Queries()
	tx, err := q.GetTransaction(ctx, repository.ToPgUUID(transactionID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	items, err := q.ListTransactionItems(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("list transaction items: %w", err)
	}
	view := newTransactionView(tx, items)
	return &view, nil
}
