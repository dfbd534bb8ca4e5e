// internal/handlers/wallet.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chainbazaar/marketplace-backend/internal/services"
	"github.com/chainbazaar/marketplace-backend/internal/utils"
)

type WalletHandler struct {
	walletService *services.WalletService
}

func NewWalletHandler(walletService *services.WalletService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
	}
}

func (h *WalletHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	raw, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid user ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// GET /wallet/balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	result, err := h.walletService.Balance(c.Request.Context(), userID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /wallet/deposit
func (h *WalletHandler) Deposit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req services.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	result, err := h.walletService.Deposit(c.Request.Context(), userID, req.Amount)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /wallet/withdraw
func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req services.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	result, err := h.walletService.Withdraw(c.Request.Context(), userID, req.Amount)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// POST /wallet/deposit-intent
func (h *WalletHandler) CreateDepositIntent(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req services.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	intent, err := h.walletService.CreateDepositIntent(c.Request.Context(), userID, req.Amount)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, intent)
}

// POST /wallet/deposit-intent/confirm
func (h *WalletHandler) ConfirmDeposit(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req struct {
		PaymentIntentID string `json:"payment_intent_id" validate:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	result, err := h.walletService.ConfirmDeposit(c.Request.Context(), userID, req.PaymentIntentID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}
