package router

import (
	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/http/handler"
)

func EventRouter(rg *gin.RouterGroup, h *handler.EventStreamHandler) {
	rg.GET("/stream", h.Stream)
}
