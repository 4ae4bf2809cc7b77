package api

import (
	"github.com/gin-gonic/gin"

	"github.com/perpscan/fundingmon/internal/api/handlers"
	"github.com/perpscan/fundingmon/internal/database"
	"github.com/perpscan/fundingmon/internal/services"
)

// SetupRoutes registers the serving API: funding-rate opportunity views and
// the health probe.
func SetupRoutes(router *gin.Engine, db *database.PostgresDB, redis *database.RedisClient, opportunities *services.OpportunityService, defaultExchange string) {
	healthHandler := handlers.NewHealthHandler(db, redis)
	fundingHandler := handlers.NewFundingHandler(opportunities, defaultExchange)

	router.GET("/health", healthHandler.HealthCheck)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/funding-rates", fundingHandler.GetFundingRates)
		apiGroup.GET("/funding-rates-by-exchange", fundingHandler.GetFundingRatesByExchange)
	}
}
