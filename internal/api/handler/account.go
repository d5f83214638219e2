package handler

import (
	"net/http"
	"strconv"

	"github.com/ayo6706/marketplace-settlement/internal/service"
	"github.com/google/uuid"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type createAccountBody struct {
	Role           string `json:"role"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	SubaccountCode string `json:"subaccount_code"`
}

// CreateAccount handles POST /v1/accounts: buyer and seller sign-up.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var body createAccountBody
	if !decodeJSON(w, r, &body) {
		return
	}
	account, err := h.svc.CreateAccount(r.Context(), service.CreateAccountRequest{
		Role:           body.Role,
		Name:           body.Name,
		Email:          body.Email,
		Phone:          body.Phone,
		SubaccountCode: body.SubaccountCode,
	})
	if err != nil {
		respondServiceError(w, r, "create account", err)
		return
	}
	RespondJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizeAccount(w, r)
	if !ok {
		return
	}
	account, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, r, "get balance", err)
		return
	}
	RespondJSON(w, http.StatusOK, account)
}

// GetHistory handles GET /v1/accounts/{id}/history?page=&page_size=.
func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizeAccount(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	entries, err := h.svc.GetStatement(r.Context(), accountID, page, pageSize)
	if err != nil {
		respondServiceError(w, r, "get history", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

type createProductBody struct {
	SellerID  string `json:"seller_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Stock     int32  `json:"stock"`
}

// CreateProduct handles POST /v1/products. Sellers list for themselves.
func (h *AccountHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return
	}
	var body createProductBody
	if !decodeJSON(w, r, &body) {
		return
	}
	sellerID := actorID
	if body.SellerID != "" {
		if sellerID, ok = parseUUIDField(w, r, body.SellerID, "seller_id"); !ok {
			return
		}
	}
	if !isAdmin && sellerID != actorID {
		forbidden(w, r)
		return
	}

	product, err := h.svc.CreateProduct(r.Context(), service.CreateProductRequest{
		SellerID:  sellerID,
		Name:      body.Name,
		UnitPrice: body.UnitPrice,
		Stock:     body.Stock,
	})
	if err != nil {
		respondServiceError(w, r, "create product", err)
		return
	}
	RespondJSON(w, http.StatusCreated, product)
}

// authorizeAccount lets account holders read their own account and admins
// read any.
func (h *AccountHandler) authorizeAccount(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actorID, isAdmin, ok := actor(w, r)
	if !ok {
		return uuid.Nil, false
	}
	accountID, ok := uuidParam(w, r, "id", "account id")
	if !ok {
		return uuid.Nil, false
	}
	if !isAdmin && accountID != actorID {
		forbidden(w, r)
		return uuid.Nil, false
	}
	return accountID, true
}
