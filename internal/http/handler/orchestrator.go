package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/engine"
	"alphaforge.app/scout/internal/http/dto"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/service"
)

// Orchestrator is the engine surface the API exposes. *engine.Engine
// satisfies it.
type Orchestrator interface {
	Trigger(ctx context.Context, mode model.Mode, note string) (*model.ResearchJob, *service.Blocked, error)
	Status(ctx context.Context) (*engine.Status, error)
	SetEnabled(ctx context.Context, enabled bool, reason string) bool
	ClearActionRequired(ctx context.Context) bool
}

type OrchestratorHandler struct {
	orch Orchestrator
}

func NewOrchestratorHandler(orch Orchestrator) *OrchestratorHandler {
	return &OrchestratorHandler{orch: orch}
}

// Trigger runs the manual research path. A blocked admission is a 409
// carrying the reason, not an error; the operator asked and was told no.
func (h *OrchestratorHandler) Trigger(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode, ok := dto.ValidMode(req.Mode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown research mode: " + req.Mode})
		return
	}

	job, blocked, err := h.orch.Trigger(ctx, mode, req.Note)
	if err != nil {
		slog.ErrorContext(ctx, "manual trigger failed", "mode", mode, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger research run"})
		return
	}
	if blocked != nil {
		c.JSON(http.StatusConflict, dto.ToBlockedResponse(blocked.Reason))
		return
	}

	c.JSON(http.StatusCreated, dto.TriggerResponse{Job: dto.ToJobResponse(job)})
}

func (h *OrchestratorHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	status, err := h.orch.Status(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "status snapshot failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read orchestrator status"})
		return
	}

	c.JSON(http.StatusOK, dto.ToStatusResponse(status))
}

func (h *OrchestratorHandler) SetEnabled(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changed := h.orch.SetEnabled(ctx, *req.Enabled, req.Reason)
	c.JSON(http.StatusOK, dto.SetEnabledResponse{Enabled: *req.Enabled, Changed: changed})
}

// AckAction acknowledges the action-required flag after an operator has
// looked at whatever fatal failure raised it.
func (h *OrchestratorHandler) AckAction(c *gin.Context) {
	ctx := c.Request.Context()

	cleared := h.orch.ClearActionRequired(ctx)
	c.JSON(http.StatusOK, dto.AckActionResponse{Cleared: cleared})
}
