package router

import (
	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/http/handler"
)

// OrchestratorRouter wires the engine control surface.
// Status is open; everything that changes engine behavior needs the key.
func OrchestratorRouter(rg *gin.RouterGroup, h *handler.OrchestratorHandler, admin gin.HandlerFunc) {
	rg.GET("/status", h.Status)

	guarded := rg.Group("")
	guarded.Use(admin)
	{
		guarded.POST("/trigger", h.Trigger)
		guarded.PUT("/enabled", h.SetEnabled)
		guarded.POST("/ack", h.AckAction)
	}
}
