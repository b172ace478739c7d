package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"alphaforge.app/scout/internal/http/handler"
	"alphaforge.app/scout/internal/http/middleware"
	"alphaforge.app/scout/internal/service"
	"alphaforge.app/scout/internal/store"
)

type RouterConfig struct {
	AdminAPIKey string
	AuditStream string
}

// Deps are the live collaborators the API serves from.
type Deps struct {
	Orchestrator handler.Orchestrator
	Jobs         store.JobStore
	Candidates   store.CandidateStore
	Gatekeeper   service.Gatekeeper
	Redis        *redis.Client
}

func SetupRoutes(router *gin.Engine, deps Deps, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := middleware.RequireAdminKey(cfg.AdminAPIKey)

	v1 := router.Group("/api/v1")
	{
		orchHandler := handler.NewOrchestratorHandler(deps.Orchestrator)
		OrchestratorRouter(v1.Group("/orchestrator"), orchHandler, admin)

		jobHandler := handler.NewJobHandler(deps.Jobs)
		JobRouter(v1.Group("/jobs"), jobHandler)

		candidateHandler := handler.NewCandidateHandler(deps.Candidates)
		CandidateRouter(v1.Group("/candidates"), candidateHandler)

		budgetHandler := handler.NewBudgetHandler(deps.Gatekeeper)
		BudgetRouter(v1.Group("/budgets"), budgetHandler, admin)

		eventHandler := handler.NewEventStreamHandler(deps.Redis, cfg.AuditStream)
		EventRouter(v1.Group("/events"), eventHandler)
	}
}
