// internal/handlers/settlement.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chainbazaar/marketplace-backend/internal/models"
	"github.com/chainbazaar/marketplace-backend/internal/services"
	"github.com/chainbazaar/marketplace-backend/internal/utils"
)

type SettlementHandler struct {
	settlementService *services.SettlementService
	listingService    *services.ListingService
}

func NewSettlementHandler(settlementService *services.SettlementService, listingService *services.ListingService) *SettlementHandler {
	return &SettlementHandler{
		settlementService: settlementService,
		listingService:    listingService,
	}
}

// POST /listings/:id/purchase
func (h *SettlementHandler) Purchase(c *gin.Context) {
	wallet, exists := utils.GetWalletFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}

	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid listing ID", nil)
		return
	}

	var req struct {
		PaymentPath models.PaymentPath `json:"payment_path" validate:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	result, err := h.settlementService.Purchase(c.Request.Context(), listingID, wallet, req.PaymentPath)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// GET /settlements/attempts/:id
func (h *SettlementHandler) GetAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid attempt ID", nil)
		return
	}

	attempt, err := h.settlementService.Attempt(c.Request.Context(), attemptID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"attempt": attempt,
	})
}

// GET /settlements
func (h *SettlementHandler) GetSettlementHistory(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	records, total, err := h.listingService.SettlementHistory(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	result := utils.CreatePaginationResult(records, total, params)
	utils.PaginatedResponse(c, result)
}
