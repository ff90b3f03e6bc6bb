package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wcagai/scanner-go/pkg/logging"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check represents the result of one health check
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Response represents the overall health response
type Response struct {
	Status    Status            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]*Check `json:"checks,omitempty"`
}

// Checker probes one component
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context) error

// Check implements Checker
func (f CheckerFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// Service aggregates component health checks
type Service struct {
	serviceName string
	version     string
	timeout     time.Duration
	logger      *logging.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewService creates a new health check service
func NewService(serviceName, version string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Service{
		serviceName: serviceName,
		version:     version,
		timeout:     5 * time.Second,
		logger:      logger,
		checkers:    make(map[string]Checker),
	}
}

// RegisterChecker registers a named component checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// CheckAll runs every registered checker and aggregates the outcome
func (s *Service) CheckAll(ctx context.Context) *Response {
	s.mu.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mu.RUnlock()

	response := &Response{
		Status:    StatusHealthy,
		Service:   s.serviceName,
		Version:   s.version,
		Timestamp: time.Now(),
		Checks:    make(map[string]*Check, len(checkers)),
	}

	for name, checker := range checkers {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := checker.Check(checkCtx)
		cancel()

		check := &Check{
			Name:      name,
			Status:    StatusHealthy,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Error = err.Error()
			response.Status = StatusDegraded
			s.logger.Warn("Health check failed", "check", name, "error", err.Error())
		}
		response.Checks[name] = check
	}

	return response
}

// Handler returns a gin handler serving the health endpoint
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response := s.CheckAll(c.Request.Context())
		status := http.StatusOK
		if response.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, response)
	}
}
