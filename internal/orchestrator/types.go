package orchestrator

import (
	"context"
	"time"

	"github.com/wcagai/scanner-go/internal/pool"
)

// TargetType identifies what kind of input a scan target carries
type TargetType string

const (
	TargetTypeURL  TargetType = "url"
	TargetTypeHTML TargetType = "html"
)

// Target is one scan input
type Target struct {
	Type  TargetType `json:"type"`
	Input string     `json:"input"`
}

// Options are opaque engine options forwarded with each scan
type Options map[string]interface{}

// Result is the normalized outcome of a single scan
type Result struct {
	Violations      []interface{}          `json:"violations"`
	Passes          []interface{}          `json:"passes"`
	Incomplete      []interface{}          `json:"incomplete"`
	ViolationsCount int                    `json:"violationsCount"`
	PassesCount     int                    `json:"passesCount"`
	Duration        int64                  `json:"duration"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Analyzer runs the actual content analysis against a target using a lent
// browser handle. Its result schema is opaque to the orchestrator.
type Analyzer func(ctx context.Context, handle *pool.Handle, target Target, options Options) (*Result, error)

// Validator rejects unsafe targets before any pool interaction
type Validator func(target Target) error

// Enricher optionally augments a finished result by calling an external
// dependency. Enrichment calls are wrapped by a circuit breaker and their
// failures never fail the scan.
type Enricher func(ctx context.Context, target Target, result *Result) (*Result, error)

// ResultCache is a read-through cache of finished scan results. A nil cache
// disables caching; cache failures are soft.
type ResultCache interface {
	Get(ctx context.Context, target Target, options Options) (*Result, bool)
	Set(ctx context.Context, target Target, options Options, result *Result)
}

// Task tracks one scan through its retry attempts
type Task struct {
	ID       string        `json:"id"`
	Target   Target        `json:"target"`
	Attempts int           `json:"attempts"`
	Timeout  time.Duration `json:"timeout"`
}

// TaskOutcome is the settled result of one target within a bulk scan
type TaskOutcome struct {
	Target  Target  `json:"target"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
	Success bool    `json:"success"`
}

// BulkResult aggregates a whole bulk scan. Outcomes preserve target input
// order and len(Outcomes) always equals the number of submitted targets.
type BulkResult struct {
	Outcomes  []TaskOutcome `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// ProgressFunc is invoked after each completed wave of a bulk scan
type ProgressFunc func(completed, total int)
