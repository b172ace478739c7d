package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/http/dto"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/store"
)

type CandidateHandler struct {
	candidates store.CandidateStore
}

func NewCandidateHandler(candidates store.CandidateStore) *CandidateHandler {
	return &CandidateHandler{candidates: candidates}
}

// List returns recent candidates, optionally narrowed by disposition and mode.
func (h *CandidateHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var filter store.CandidateFilter
	if raw := c.Query("disposition"); raw != "" {
		disposition := model.Disposition(raw)
		switch disposition {
		case model.DispositionFastTrack, model.DispositionReview, model.DispositionBacklog:
			filter.Disposition = &disposition
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown disposition: " + raw})
			return
		}
	}
	if raw := c.Query("mode"); raw != "" {
		mode, ok := dto.ValidMode(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown research mode: " + raw})
			return
		}
		filter.Mode = &mode
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		filter.Limit = limit
	}

	candidates, err := h.candidates.List(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "listing candidates failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list candidates"})
		return
	}

	c.JSON(http.StatusOK, dto.ToListCandidatesResponse(candidates))
}
