package ledger

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-vaults/pkg/response"
)

// GinHandlers exposes read-only token account queries
type GinHandlers struct {
	ledger *Ledger
}

func NewGinHandlers(l *Ledger) *GinHandlers {
	return &GinHandlers{ledger: l}
}

// GetAccountHandler returns any token account by address. Balances are public.
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, err := h.ledger.Account(c.Param("address"))
		response.Handle(c, acc, err)
	}
}

// ListAccountsHandler returns the caller's token accounts
func (h *GinHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := h.ledger.AccountsByOwner(c.GetString("clientID"))
		response.Handle(c, accounts, err)
	}
}
