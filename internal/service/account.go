package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/repository"
	"github.com/google/uuid"
)

type AccountService struct {
	store QueryStore
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{store: store}
}

type CreateAccountRequest struct {
	Role           string
	Name           string
	Email          string
	Phone          string
	SubaccountCode string
}

type AccountView struct {
	ID             uuid.UUID `json:"id"`
	Role           string    `json:"role"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	SubaccountCode string    `json:"subaccount_code,omitempty"`
	Balance        int64     `json:"balance"`
	PendingOrders  int32     `json:"pending_orders"`
	CreatedAt      time.Time `json:"created_at"`
}

func newAccountView(a repository.Account) AccountView {
	return AccountView{
		ID:             repository.FromPgUUID(a.ID),
		Role:           a.Role,
		Name:           a.Name,
		Email:          a.Email,
		Phone:          repository.StringValue(a.Phone),
		SubaccountCode: repository.StringValue(a.SubaccountCode),
		Balance:        a.Balance,
		PendingOrders:  a.PendingOrders,
		CreatedAt:      a.CreatedAt.Time,
	}
}

type EntryView struct {
	ID            uuid.UUID  `json:"id"`
	EventID       uuid.UUID  `json:"event_id"`
	Amount        int64      `json:"amount"`
	Kind          string     `json:"kind"`
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	OrderID       *uuid.UUID `json:"order_id,omitempty"`
	ItemID        *uuid.UUID `json:"item_id,omitempty"`
	PayoutID      *uuid.UUID `json:"payout_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CreateAccount registers a buyer or seller. Platform and clearing accounts
// are seeded by migration and cannot be created here.
func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*AccountView, error) {
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	if req.Role != domain.RoleBuyer && req.Role != domain.RoleSeller {
		return nil, validationError("role must be buyer or seller")
	}
	if req.Name == "" {
		return nil, validationError("name is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, validationError("invalid email %q", req.Email)
	}
	var phone *string
	if strings.TrimSpace(req.Phone) != "" {
		normalized, err := domain.NormalizePhone(req.Phone)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		phone = &normalized
	}
	var subaccount *string
	if req.Role == domain.RoleSeller {
		subaccount = repository.StringPtr(strings.TrimSpace(req.SubaccountCode))
	}

	account, err := s.store.Queries().CreateAccount(ctx, repository.CreateAccountParams{
		ID:             repository.ToPgUUID(uuid.New()),
		Role:           req.Role,
		Name:           req.Name,
		Email:          req.Email,
		Phone:          phone,
		SubaccountCode: subaccount,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, validationError("email %q is already registered", req.Email)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	view := newAccountView(account)
	return &view, nil
}

func (s *AccountService) GetBalance(ctx context.Context, accountID uuid.UUID) (*AccountView, error) {
	account, err := s.store.Queries().GetAccount(ctx, repository.ToPgUUID(accountID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	view := newAccountView(account)
	return &view, nil
}

// GetStatement pages through an account's ledger entries, newest first.
func (s *AccountService) GetStatement(ctx context.Context, accountID uuid.UUID, page, pageSize int) ([]EntryView, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 200 {
		pageSize = 200
	}
	q := s.store.Queries()
	if _, err := q.GetAccount(ctx, repository.ToPgUUID(accountID)); err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	rows, err := q.ListPayoutHistoryByAccount(ctx, repository.ListPayoutHistoryByAccountParams{
		AccountID: repository.ToPgUUID(accountID),
		Limit:     int32(pageSize),
		Offset:    int32((page - 1) * pageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	out := make([]EntryView, 0, len(rows))
	for _, row := range rows {
		out = append(out, EntryView{
			ID:            repository.FromPgUUID(row.ID),
			EventID:       repository.FromPgUUID(row.EventID),
			Amount:        row.Amount,
			Kind:          row.Kind,
			Method:        row.Method,
			Status:        row.Status,
			TransactionID: optionalUUID(row.TransactionID),
			OrderID:       optionalUUID(row.OrderID),
			ItemID:        optionalUUID(row.ItemID),
			PayoutID:      optionalUUID(row.PayoutID),
			CreatedAt:     row.CreatedAt.Time,
		})
	}
	return out, nil
}

type CreateProductRequest struct {
	SellerID  uuid.UUID
	Name      string
	UnitPrice int64
	Stock     int32
}

type ProductView struct {
	ID        uuid.UUID `json:"id"`
	SellerID  uuid.UUID `json:"seller_id"`
	Name      string    `json:"name"`
	UnitPrice int64     `json:"unit_price"`
	Stock     int32     `json:"stock"`
	Available bool      `json:"available"`
}

func (s *AccountService) CreateProduct(ctx context.Context, req CreateProductRequest) (*ProductView, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, validationError("name is required")
	}
	if req.UnitPrice <= 0 {
		return nil, validationError("unit_price must be positive")
	}
	if req.Stock < 0 {
		return nil, validationError("stock must not be negative")
	}

	q := s.store.Queries()
	seller, err := q.GetAccount(ctx, repository.ToPgUUID(req.SellerID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get seller: %w", err)
	}
	if seller.Role != domain.RoleSeller {
		return nil, validationError("account %s is not a seller", req.SellerID)
	}

	product, err := q.CreateProduct(ctx, repository.CreateProductParams{
		ID:        repository.ToPgUUID(uuid.New()),
		SellerID:  seller.ID,
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Stock:     req.Stock,
	})
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &ProductView{
		ID:        repository.FromPgUUID(product.ID),
		SellerID:  repository.FromPgUUID(product.SellerID),
		Name:      product.Name,
		UnitPrice: product.UnitPrice,
		Stock:     product.Stock,
		Available: product.Available,
	}, nil
}
