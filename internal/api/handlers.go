package api

import (
	"github.com/gin-gonic/gin"

	"github.com/wcagai/scanner-go/internal/orchestrator"
	"github.com/wcagai/scanner-go/internal/pool"
	"github.com/wcagai/scanner-go/pkg/errors"
	"github.com/wcagai/scanner-go/pkg/logging"
	"github.com/wcagai/scanner-go/pkg/resilience"
)

// ScanHandler exposes scan operations over HTTP
type ScanHandler struct {
	orch            *orchestrator.Orchestrator
	pool            *pool.Pool
	breakers        *resilience.Manager
	bulkConcurrency int
	logger          *logging.Logger
}

// NewScanHandler creates a new scan handler. bulkConcurrency is the wave size
// used when a bulk request does not name its own.
func NewScanHandler(orch *orchestrator.Orchestrator, p *pool.Pool, breakers *resilience.Manager, bulkConcurrency int, logger *logging.Logger) *ScanHandler {
	if bulkConcurrency < 1 {
		bulkConcurrency = 1
	}
	return &ScanHandler{
		orch:            orch,
		pool:            p,
		breakers:        breakers,
		bulkConcurrency: bulkConcurrency,
		logger:          logger,
	}
}

// ScanRequest is the body of POST /api/v1/scan
type ScanRequest struct {
	Type    string               `json:"type" binding:"required"`
	Input   string               `json:"input" binding:"required"`
	Options orchestrator.Options `json:"options"`
}

// BulkScanRequest is the body of POST /api/v1/scan/bulk
type BulkScanRequest struct {
	Targets     []ScanRequest        `json:"targets" binding:"required"`
	Options     orchestrator.Options `json:"options"`
	Concurrency int                  `json:"concurrency"`
}

// Scan handles POST /api/v1/scan
func (h *ScanHandler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, errors.NewValidationError("invalid request body").WithCause(err))
		return
	}

	target := orchestrator.Target{
		Type:  orchestrator.TargetType(req.Type),
		Input: req.Input,
	}

	result, err := h.orch.PerformScan(c.Request.Context(), target, req.Options)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, result)
}

// BulkScan handles POST /api/v1/scan/bulk
func (h *ScanHandler) BulkScan(c *gin.Context) {
	var req BulkScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, errors.NewValidationError("invalid request body").WithCause(err))
		return
	}

	targets := make([]orchestrator.Target, len(req.Targets))
	for i, t := range req.Targets {
		targets[i] = orchestrator.Target{
			Type:  orchestrator.TargetType(t.Type),
			Input: t.Input,
		}
	}

	concurrency := req.Concurrency
	if concurrency < 1 {
		concurrency = h.bulkConcurrency
	}

	result, err := h.orch.PerformBulk(c.Request.Context(), targets, req.Options, concurrency, nil)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, result)
}

// PoolStats handles GET /api/v1/pool/stats
func (h *ScanHandler) PoolStats(c *gin.Context) {
	SuccessResponse(c, h.pool.Stats())
}

// Breakers handles GET /api/v1/breakers
func (h *ScanHandler) Breakers(c *gin.Context) {
	SuccessResponse(c, gin.H{
		"statuses": h.breakers.Statuses(),
		"metrics":  h.breakers.AllMetrics(),
	})
}
