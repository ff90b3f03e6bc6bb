package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/wcagai/scanner-go/internal/orchestrator"
	"github.com/wcagai/scanner-go/internal/pool"
	"github.com/wcagai/scanner-go/pkg/config"
	"github.com/wcagai/scanner-go/pkg/health"
	"github.com/wcagai/scanner-go/pkg/logging"
	"github.com/wcagai/scanner-go/pkg/metrics"
	"github.com/wcagai/scanner-go/pkg/resilience"
)

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, orch *orchestrator.Orchestrator, p *pool.Pool, breakers *resilience.Manager, healthSvc *health.Service, m *metrics.Metrics, logger *logging.Logger) *gin.Engine {
	if logger == nil {
		logger = logging.GetLogger()
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(RecoveryMiddleware(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	if m != nil {
		router.Use(m.GinMiddleware())
	}

	router.GET("/health", healthSvc.Handler())
	if m != nil {
		router.GET("/metrics", m.Handler())
	}

	scanHandler := NewScanHandler(orch, p, breakers, cfg.Scan.BulkConcurrency, logger)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/scan", scanHandler.Scan)
		v1.POST("/scan/bulk", scanHandler.BulkScan)
		v1.GET("/pool/stats", scanHandler.PoolStats)
		v1.GET("/breakers", scanHandler.Breakers)
	}

	return router
}
