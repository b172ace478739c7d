package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/http/dto"
	"alphaforge.app/scout/internal/service"
	"alphaforge.app/scout/internal/store"
)

type BudgetHandler struct {
	gatekeeper service.Gatekeeper
}

func NewBudgetHandler(gatekeeper service.Gatekeeper) *BudgetHandler {
	return &BudgetHandler{gatekeeper: gatekeeper}
}

func (h *BudgetHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	ledgers, err := h.gatekeeper.Ledgers(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "listing budget ledgers failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list budgets"})
		return
	}

	c.JSON(http.StatusOK, dto.ToListBudgetsResponse(ledgers))
}

// Update patches one provider's ledger. Limit edits re-evaluate the
// throttle immediately, so raising a limit un-throttles mid-month.
func (h *BudgetHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	providerName := c.Param("provider")
	if providerName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing provider"})
		return
	}

	var req dto.UpdateBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MonthlyLimitUSD == nil && req.Enabled == nil && req.Paused == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	ledger, err := h.gatekeeper.UpdateLedger(ctx, providerName, service.LedgerUpdate{
		MonthlyLimitUSD: req.MonthlyLimitUSD,
		Enabled:         req.Enabled,
		Paused:          req.Paused,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no budget ledger for provider: " + providerName})
			return
		}
		slog.ErrorContext(ctx, "updating budget ledger failed", "provider", providerName, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update budget"})
		return
	}

	c.JSON(http.StatusOK, dto.ToBudgetResponse(ledger))
}
