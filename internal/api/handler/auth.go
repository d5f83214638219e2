package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/marketplace-settlement/internal/api/middleware"
	"github.com/ayo6706/marketplace-settlement/internal/domain"
	"github.com/ayo6706/marketplace-settlement/internal/service"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	accounts *service.AccountService
	auth     *middleware.Auth
}

func NewAuthHandler(accounts *service.AccountService, auth *middleware.Auth) *AuthHandler {
	return &AuthHandler{accounts: accounts, auth: auth}
}

type tokenBody struct {
	AccountID string `json:"account_id"`
}

// IssueToken handles POST /v1/auth/token. It is a development login: any
// existing account gets a token for its own id, and the platform account
// gets the admin role.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var body tokenBody
	if !decodeJSON(w, r, &body) {
		return
	}
	accountID, ok := parseUUIDField(w, r, body.AccountID, "account_id")
	if !ok {
		return
	}

	account, err := h.accounts.GetBalance(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, r, "issue token", err)
		return
	}
	role := account.Role
	if role == domain.RolePlatform {
		role = RoleAdmin
	}

	signed, err := h.auth.Sign(account.ID.String(), role, tokenTTL)
	if err != nil {
		respondServiceError(w, r, "sign token", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"token":      signed,
		"role":       role,
		"expires_in": int(tokenTTL.Seconds()),
	})
}
