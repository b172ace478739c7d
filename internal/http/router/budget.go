package router

import (
	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/http/handler"
)

// BudgetRouter exposes ledgers read-only and gates edits behind the key.
func BudgetRouter(rg *gin.RouterGroup, h *handler.BudgetHandler, admin gin.HandlerFunc) {
	rg.GET("", h.List)

	guarded := rg.Group("")
	guarded.Use(admin)
	{
		guarded.PUT("/:provider", h.Update)
	}
}
