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

// PayoutService moves settled seller funds out of the platform.
type PayoutService struct {
	store    QueryStore
	split    gateway.SplitGateway
	notifier *notify.Dispatcher
	audit    *AuditService
	cfg      Settings
	units    unitRunner
	newID    func() string
}

var (
	ErrPayoutNotFound              = errors.New("payout not found")
	ErrPayoutNotInManualReview     = errors.New("payout is not in manual review")
	ErrInvalidManualReviewDecision = errors.New("invalid manual review decision")
	ErrPayoutInProgress            = errors.New("a payout is already in progress for this seller")
	ErrNothingToPayout             = errors.New("no payable items")
	ErrInsufficientBalance         = errors.New("seller balance does not cover the payout")
)

const payoutReferencePrefix = "PO-"

func NewPayoutService(store QueryStore, split gateway.SplitGateway, notifier *notify.Dispatcher, cfg Settings) (*PayoutService, error) {
	idGenerator, err := nanoid.Standard(15)
	if err != nil {
		return nil, fmt.Errorf("create id generator: %w", err)
	}
	return &PayoutService{
		store:    store,
		split:    split,
		notifier: notifier,
		audit:    NewAuditService(),
		cfg:      cfg,
		units:    newUnitRunner(store, cfg),
		newID:    idGenerator,
	}, nil
}

// RequestPayoutRequest pays out everything a seller is owed. Transfer payouts
// go through the gateway; manual payouts are settled by an operator.
type RequestPayoutRequest struct {
	SellerID uuid.UUID
	Method   string
	ActorID  *uuid.UUID
}

type ResolveManualReviewDecision string

const (
	DecisionConfirmSent ResolveManualReviewDecision = "confirm_sent"
	DecisionRelease     ResolveManualReviewDecision = "release"
)

type ResolveManualReviewRequest struct {
	PayoutID   uuid.UUID
	Decision   ResolveManualReviewDecision
	Reason     string
	ActorID    *uuid.UUID
	GatewayRef *string
}

type claimedPayout struct {
	payout     repository.Payout
	subaccount string
}

// RequestPayout claims the seller's payable items into one payout and, for
// transfers, sends it. Gateway failures leave the items claimable again.
func (s *PayoutService) RequestPayout(ctx context.Context, req RequestPayoutRequest) (*PayoutView, error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = domain.PayoutMethodTransfer
	}
	switch method {
	case domain.PayoutMethodTransfer:
		if s.split == nil {
			return nil, validationError("transfer payouts are not enabled")
		}
	case domain.PayoutMethodManual:
	default:
		return nil, validationError("unsupported payout method %q", req.Method)
	}

	claimed, err := s.claim(ctx, req.SellerID, method, req.ActorID)
	if err != nil {
		return nil, err
	}
	payoutID := repository.FromPgUUID(claimed.payout.ID)

	if method == domain.PayoutMethodManual {
		if err := s.finalize(ctx, claimed.payout, nil, domain.EntryStatusPending, req.ActorID, "manual_payout_recorded"); err != nil {
			s.markPayoutManualReview(ctx, payoutID, "", err.Error())
			return nil, err
		}
		return s.GetPayout(ctx, payoutID)
	}

	if err := s.execute(ctx, claimed); err != nil {
		return nil, err
	}
	return s.GetPayout(ctx, payoutID)
}

// ProcessPayouts recovers stale payouts and then sends a transfer payout for
// each seller with payable items, up to batchSize sellers.
func (s *PayoutService) ProcessPayouts(ctx context.Context, batchSize int32) error {
	if err := s.recoverStaleProcessingPayouts(ctx, batchSize); err != nil {
		return err
	}
	if s.split == nil {
		return nil
	}

	sellers, err := s.store.Queries().ListSellersWithPayableItems(ctx, repository.ListSellersWithPayableItemsParams{
		Limit:        batchSize,
		PayoutStatus: domain.PayoutItemPending,
	})
	if err != nil {
		return fmt.Errorf("list sellers with payable items: %w", err)
	}

	for _, seller := range sellers {
		if err := ctx.Err(); err != nil {
			return err
		}
		sellerID := repository.FromPgUUID(seller)
		claimed, err := s.claim(ctx, sellerID, domain.PayoutMethodTransfer, nil)
		if err != nil {
			if errors.Is(err, ErrNothingToPayout) || errors.Is(err, ErrPayoutInProgress) || errors.Is(err, ErrInsufficientBalance) {
				zap.L().Debug("seller skipped in payout run", zap.String("seller_id", sellerID.String()), zap.Error(err))
				continue
			}
			zap.L().Error("claim payout failed", zap.Error(err), zap.String("seller_id", sellerID.String()))
			continue
		}
		if err := s.execute(ctx, claimed); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			zap.L().Warn("payout not sent", zap.Error(err), zap.String("seller_id", sellerID.String()))
		}
	}
	return nil
}

// claim locks the seller, attaches every payable item to a new processing
// payout and records it. Only one payout per seller may be processing.
func (s *PayoutService) claim(ctx context.Context, sellerID uuid.UUID, method string, actorID *uuid.UUID) (*claimedPayout, error) {
	itemStatus := domain.PayoutItemPending
	if method == domain.PayoutMethodManual {
		itemStatus = domain.PayoutItemManualPending
	}

	var claimed *claimedPayout
	err := s.units.run(ctx, "payout_claim", func(ctx context.Context, qtx repository.Querier) error {
		claimed = nil
		account, err := qtx.GetAccountForUpdate(ctx, repository.ToPgUUID(sellerID))
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock seller account: %w", err)
		}
		if account.Role != domain.RoleSeller {
			return validationError("account %s is not a seller", sellerID)
		}
		subaccount := repository.StringValue(account.SubaccountCode)
		if method == domain.PayoutMethodTransfer && subaccount == "" {
			return fmt.Errorf("%w: %w", ErrValidation, domain.ErrMissingSubaccount)
		}

		items, err := qtx.ListPayableItems(ctx, repository.ListPayableItemsParams{
			SellerID:     account.ID,
			PayoutStatus: itemStatus,
		})
		if err != nil {
			return fmt.Errorf("list payable items: %w", err)
		}
		var gross int64
		for _, item := range items {
			gross += item.SellerShare
		}
		fee := s.cfg.Split.TransferFees.For(gross)
		if method == domain.PayoutMethodManual {
			fee = 0
		}
		if gross <= 0 || gross-fee <= 0 {
			return ErrNothingToPayout
		}
		if account.Balance < gross {
			return fmt.Errorf("%w: balance %d, payout %d", ErrInsufficientBalance, account.Balance, gross)
		}

		payoutID := uuid.New()
		payout, err := qtx.InsertPayout(ctx, repository.InsertPayoutParams{
			ID:          repository.ToPgUUID(payoutID),
			SellerID:    account.ID,
			Method:      method,
			GrossAmount: gross,
			TransferFee: fee,
			NetAmount:   gross - fee,
			ItemCount:   int32(len(items)),
			Status:      domain.PayoutStatusProcessing,
			Reference:   payoutReferencePrefix + s.newID(),
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrPayoutInProgress
			}
			return fmt.Errorf("create payout: %w", err)
		}

		for _, item := range items {
			rows, err := qtx.UpdateTransactionItemPayout(ctx, repository.UpdateTransactionItemPayoutParams{
				TransactionID: item.TransactionID,
				ItemID:        item.ItemID,
				PayoutStatus:  item.PayoutStatus,
				PayoutID:      payout.ID,
			})
			if err != nil {
				return fmt.Errorf("attach item to payout: %w", err)
			}
			if err := requireExactlyOne(rows, "attach item to payout"); err != nil {
				return err
			}
		}

		if err := s.audit.Write(ctx, qtx, entityPayout, payoutID, actorID, "created", "", domain.PayoutStatusProcessing,
			marshalMetadata(map[string]any{
				"seller_id": sellerID.String(),
				"method":    method,
				"gross":     gross,
				"fee":       fee,
				"items":     len(items),
			})); err != nil {
			return err
		}
		claimed = &claimedPayout{payout: payout, subaccount: subaccount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// execute sends a claimed transfer payout. The gateway is called outside any
// database transaction; once it has accepted, a failure to record the result
// moves the payout to manual review rather than retrying the transfer.
func (s *PayoutService) execute(ctx context.Context, claimed *claimedPayout) error {
	payout := claimed.payout
	payoutID := repository.FromPgUUID(payout.ID)

	start := time.Now()
	gatewayRef, err := s.split.Transfer(ctx, gateway.TransferRequest{
		Subaccount: claimed.subaccount,
		Amount:     payout.NetAmount,
		Currency:   s.cfg.Currency,
		Reference:  payout.Reference,
	})
	observability.ObserveGatewayCall(domain.MethodSplit, "transfer", err, time.Since(start))
	if err != nil {
		itemStatus := domain.PayoutItemPending
		if errors.Is(err, gateway.ErrRejected) {
			itemStatus = domain.PayoutItemFailed
		}
		s.handlePayoutFailure(context.WithoutCancel(ctx), payout, itemStatus, err.Error())
		return fmt.Errorf("transfer payout: %w", err)
	}

	if err := s.finalize(ctx, payout, &gatewayRef, domain.EntryStatusPosted, nil, "payout_completed"); err != nil {
		zap.L().Error(
			"payout succeeded at gateway but local finalization failed; moved to manual review",
			zap.Error(err),
			zap.String("payout_id", payoutID.String()),
			zap.String("gateway_ref", gatewayRef),
		)
		s.markPayoutManualReview(context.WithoutCancel(ctx), payoutID, gatewayRef, err.Error())
		return err
	}
	return nil
}

// finalize debits the seller for the payout and marks its items transferred.
func (s *PayoutService) finalize(ctx context.Context, payout repository.Payout, gatewayRef *string, entryStatus string, actorID *uuid.UUID, action string) error {
	var events []notify.Event
	err := s.units.run(ctx, "payout_finalize", func(ctx context.Context, qtx repository.Querier) error {
		events = nil
		current, err := qtx.GetPayoutForUpdate(ctx, payout.ID)
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		events, err = s.applyPayoutLedger(ctx, qtx, current, gatewayRef, entryStatus, actorID, action, nil)
		return err
	})
	if err != nil {
		return err
	}
	s.notifier.Dispatch(events...)
	return nil
}

func (s *PayoutService) applyPayoutLedger(ctx context.Context, qtx repository.Querier, payout repository.Payout, gatewayRef *string, entryStatus string, actorID *uuid.UUID, action string, metadata []byte) ([]notify.Event, error) {
	if payout.Status == domain.PayoutStatusCompleted {
		return nil, nil
	}
	items, err := qtx.ListPayoutItems(ctx, payout.ID)
	if err != nil {
		return nil, fmt.Errorf("list payout items: %w", err)
	}
	for _, item := range items {
		if err := checkTransition(payoutItemTransitions, "payout item", item.PayoutStatus, domain.PayoutItemTransferred); err != nil {
			return nil, err
		}
	}
	if _, err := qtx.SetPayoutItemsStatus(ctx, repository.SetPayoutItemsStatusParams{
		PayoutID:     payout.ID,
		PayoutStatus: domain.PayoutItemTransferred,
	}); err != nil {
		return nil, fmt.Errorf("mark payout items transferred: %w", err)
	}

	sellerID := repository.FromPgUUID(payout.SellerID)
	method := domain.MethodSplit
	if payout.Method == domain.PayoutMethodManual {
		method = domain.MethodPush
	}
	j := newJournal(method, entryStatus)
	j.payoutID = repository.FromPgUUID(payout.ID)
	j.post(sellerID, -payout.GrossAmount, domain.EntryPayout, uuid.Nil)
	j.post(s.cfg.ClearingAccountID, payout.NetAmount, domain.EntryPayoutSent, uuid.Nil)
	j.post(s.cfg.ClearingAccountID, payout.TransferFee, domain.EntryTransferFee, uuid.Nil)
	if err := j.commit(ctx, qtx); err != nil {
		return nil, err
	}

	ref := payout.GatewayRef
	if gatewayRef != nil {
		ref = gatewayRef
	}
	rows, err := qtx.UpdatePayoutStatus(ctx, repository.UpdatePayoutStatusParams{
		ID:         payout.ID,
		Status:     domain.PayoutStatusCompleted,
		GatewayRef: ref,
	})
	if err != nil {
		return nil, fmt.Errorf("update payout status: %w", err)
	}
	if err := requireExactlyOne(rows, "mark payout completed"); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = marshalMetadata(map[string]any{"gateway_ref": repository.StringValue(ref)})
	}
	if err := s.audit.Write(ctx, qtx, entityPayout, j.payoutID, actorID, action, payout.Status, domain.PayoutStatusCompleted, metadata); err != nil {
		return nil, err
	}

	template := notify.TemplatePayoutSent
	if payout.Method == domain.PayoutMethodManual {
		template = notify.TemplatePayoutManual
	}
	return []notify.Event{{
		Party:     notify.PartySeller,
		AccountID: sellerID,
		Template:  template,
		Amount:    payout.NetAmount,
		Currency:  s.cfg.Currency,
		Reference: payout.Reference,
	}}, nil
}

// handlePayoutFailure fails the payout and either frees its items for a later
// payout (itemStatus pending) or fails them with it.
func (s *PayoutService) handlePayoutFailure(ctx context.Context, payout repository.Payout, itemStatus, reason string) {
	payoutID := repository.FromPgUUID(payout.ID)
	err := s.units.run(ctx, "payout_fail", func(ctx context.Context, qtx repository.Querier) error {
		current, err := qtx.GetPayoutForUpdate(ctx, payout.ID)
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		if current.Status != domain.PayoutStatusProcessing {
			return nil
		}
		metadata, err := marshalReasonMetadata(reason)
		if err != nil {
			return fmt.Errorf("marshal payout failure metadata: %w", err)
		}
		return s.failPayout(ctx, qtx, current, itemStatus, nil, "payout_failed", metadata)
	})
	if err != nil {
		zap.L().Error("handle payout failure failed", zap.Error(err), zap.String("payout_id", payoutID.String()))
		s.markPayoutManualReview(ctx, payoutID, "", err.Error()+": "+reason)
		return
	}
	zap.L().Warn("payout marked failed", zap.String("payout_id", payoutID.String()), zap.String("reason", reason))
}

func (s *PayoutService) failPayout(ctx context.Context, qtx repository.Querier, payout repository.Payout, itemStatus string, actorID *uuid.UUID, action string, metadata []byte) error {
	if itemStatus == domain.PayoutItemFailed {
		if _, err := qtx.SetPayoutItemsStatus(ctx, repository.SetPayoutItemsStatusParams{
			PayoutID:     payout.ID,
			PayoutStatus: domain.PayoutItemFailed,
		}); err != nil {
			return fmt.Errorf("fail payout items: %w", err)
		}
	} else {
		claimedStatus := domain.PayoutItemPending
		if payout.Method == domain.PayoutMethodManual {
			claimedStatus = domain.PayoutItemManualPending
		}
		if _, err := qtx.ReleasePayoutItems(ctx, repository.ReleasePayoutItemsParams{
			PayoutID:     payout.ID,
			PayoutStatus: claimedStatus,
		}); err != nil {
			return fmt.Errorf("release payout items: %w", err)
		}
	}

	rows, err := qtx.UpdatePayoutStatus(ctx, repository.UpdatePayoutStatusParams{
		ID:         payout.ID,
		Status:     domain.PayoutStatusFailed,
		GatewayRef: payout.GatewayRef,
	})
	if err != nil {
		return fmt.Errorf("update payout failed status: %w", err)
	}
	if err := requireExactlyOne(rows, "mark payout failed"); err != nil {
		return err
	}
	return s.audit.Write(ctx, qtx, entityPayout, repository.FromPgUUID(payout.ID), actorID, action, payout.Status, domain.PayoutStatusFailed, metadata)
}

// recoverStaleProcessingPayouts hands payouts stuck in processing to an
// operator. The gateway may have sent them, so they are never retried blindly.
func (s *PayoutService) recoverStaleProcessingPayouts(ctx context.Context, batchSize int32) error {
	cutoff := time.Now().Add(-s.cfg.StalePayoutAfter)
	stale, err := s.store.Queries().GetStaleProcessingPayouts(ctx, repository.GetStaleProcessingPayoutsParams{
		UpdatedBefore: repository.ToTimestamptz(cutoff),
		Limit:         batchSize,
	})
	if err != nil {
		return fmt.Errorf("load stale processing payouts: %w", err)
	}
	for _, payout := range stale {
		s.markPayoutManualReview(ctx, repository.FromPgUUID(payout.ID), repository.StringValue(payout.GatewayRef), "stale processing payout")
	}
	if len(stale) > 0 {
		zap.L().Warn("moved stale processing payouts to manual review", zap.Int("count", len(stale)))
	}
	return nil
}

func (s *PayoutService) markPayoutManualReview(ctx context.Context, payoutID uuid.UUID, gatewayRef, reason string) {
	err := s.units.run(ctx, "payout_manual_review", func(ctx context.Context, qtx repository.Querier) error {
		payout, err := qtx.GetPayoutForUpdate(ctx, repository.ToPgUUID(payoutID))
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		if payout.Status != domain.PayoutStatusProcessing {
			return nil
		}
		ref := payout.GatewayRef
		if gatewayRef != "" {
			ref = repository.StringPtr(gatewayRef)
		}
		rows, err := qtx.UpdatePayoutStatus(ctx, repository.UpdatePayoutStatusParams{
			ID:         payout.ID,
			Status:     domain.PayoutStatusManualReview,
			GatewayRef: ref,
		})
		if err != nil {
			return fmt.Errorf("mark payout manual review: %w", err)
		}
		if err := requireExactlyOne(rows, "mark payout manual review"); err != nil {
			return err
		}
		metadata, err := marshalReasonMetadata(reason)
		if err != nil {
			return fmt.Errorf("marshal manual review metadata: %w", err)
		}
		return s.audit.Write(ctx, qtx, entityPayout, payoutID, nil, "payout_manual_review", payout.Status, domain.PayoutStatusManualReview, metadata)
	})
	if err != nil {
		zap.L().Error("failed to mark payout manual review", zap.Error(err), zap.String("payout_id", payoutID.String()))
		return
	}
	observability.IncrementManualReviewTransition("queued")
}

// GetPayout retrieves a payout by ID.
func (s *PayoutService) GetPayout(ctx context.Context, payoutID uuid.UUID) (*PayoutView, error) {
	row, err := s.store.Queries().GetPayout(ctx, repository.ToPgUUID(payoutID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPayoutNotFound
		}
		return nil, fmt.Errorf("get payout: %w", err)
	}
	view := newPayoutView(row)
	return &view, nil
}

func (s *PayoutService) ManualReviewQueueSize(ctx context.Context) (int64, error) {
	count, err := s.store.Queries().CountPayoutsByStatus(ctx, domain.PayoutStatusManualReview)
	if err != nil {
		return 0, fmt.Errorf("count manual review payouts: %w", err)
	}
	return count, nil
}

// ListManualReviewPayouts returns payouts waiting for an operator.
func (s *PayoutService) ListManualReviewPayouts(ctx context.Context, limit int32) ([]PayoutView, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.store.Queries().ListPayoutsByStatus(ctx, repository.ListPayoutsByStatusParams{
		Status: domain.PayoutStatusManualReview,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list manual review payouts: %w", err)
	}
	out := make([]PayoutView, 0, len(rows))
	for _, row := range rows {
		out = append(out, newPayoutView(row))
	}
	return out, nil
}

// ResolveManualReviewPayout settles a payout stuck in manual review: either
// the money did leave (confirm_sent) or it did not and the items are freed.
func (s *PayoutService) ResolveManualReviewPayout(ctx context.Context, req ResolveManualReviewRequest) (*PayoutView, error) {
	decision := ResolveManualReviewDecision(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	switch decision {
	case DecisionConfirmSent, DecisionRelease:
	default:
		return nil, ErrInvalidManualReviewDecision
	}

	var events []notify.Event
	err := s.units.run(ctx, "payout_resolve", func(ctx context.Context, qtx repository.Querier) error {
		events = nil
		payout, err := qtx.GetPayoutForUpdate(ctx, repository.ToPgUUID(req.PayoutID))
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrPayoutNotFound
			}
			return fmt.Errorf("get payout for update: %w", err)
		}
		if payout.Status != domain.PayoutStatusManualReview {
			return ErrPayoutNotInManualReview
		}
		metadata, err := marshalReasonMetadata(req.Reason)
		if err != nil {
			return fmt.Errorf("marshal resolution metadata: %w", err)
		}

		switch decision {
		case DecisionConfirmSent:
			var ref *string
			if req.GatewayRef != nil && strings.TrimSpace(*req.GatewayRef) != "" {
				ref = repository.StringPtr(strings.TrimSpace(*req.GatewayRef))
			}
			events, err = s.applyPayoutLedger(ctx, qtx, payout, ref, domain.EntryStatusPosted, req.ActorID, "manual_review_confirmed", metadata)
			return err
		default:
			return s.failPayout(ctx, qtx, payout, domain.PayoutItemPending, req.ActorID, "manual_review_released", metadata)
		}
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementManualReviewTransition(string(decision))
	s.notifier.Dispatch(events...)
	return s.GetPayout(ctx, req.PayoutID)
}
