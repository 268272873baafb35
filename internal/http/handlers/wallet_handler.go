// README: Wallet handlers: balance, top-up, statement.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"yoonu/internal/http/middleware"
	"yoonu/internal/modules/idempotency"
	"yoonu/internal/modules/wallet"
	"yoonu/internal/types"
)

type WalletHandler struct {
	wallets *wallet.Service
	guard   *idempotency.Service
}

func NewWalletHandler(wallets *wallet.Service, guard *idempotency.Service) *WalletHandler {
	return &WalletHandler{wallets: wallets, guard: guard}
}

func (h *WalletHandler) Balance(c *gin.Context) {
	bal, err := h.wallets.Balance(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

type topupReq struct {
	Amount int64 `json:"amount"`
}

func (h *WalletHandler) Topup(c *gin.Context) {
	var req topupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	userID := middleware.UserID(c)
	guarded(c, h.guard, "POST /api/wallet/topup", writeWalletError, func() (int, any, error) {
		if err := h.wallets.Topup(c.Request.Context(), userID, types.XOF(req.Amount)); err != nil {
			return 0, nil, err
		}
		bal, err := h.wallets.Balance(c.Request.Context(), userID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, gin.H{"balance": bal}, nil
	})
}

func (h *WalletHandler) Entries(c *gin.Context) {
	limit := 50
	if v, err := intQuery(c, "limit"); err == nil {
		limit = v
	}
	entries, err := h.wallets.Entries(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
