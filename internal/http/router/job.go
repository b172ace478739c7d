package router

import (
	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/http/handler"
)

func JobRouter(rg *gin.RouterGroup, h *handler.JobHandler) {
	rg.GET("", h.List)
	rg.GET("/:id", h.GetByID)
}
