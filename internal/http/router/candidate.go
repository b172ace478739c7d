package router

import (
	"github.com/gin-gonic/gin"

	"alphaforge.app/scout/internal/http/handler"
)

func CandidateRouter(rg *gin.RouterGroup, h *handler.CandidateHandler) {
	rg.GET("", h.List)
}
