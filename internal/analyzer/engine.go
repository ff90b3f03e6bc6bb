package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wcagai/scanner-go/internal/orchestrator"
	"github.com/wcagai/scanner-go/internal/pool"
	"github.com/wcagai/scanner-go/pkg/config"
	"github.com/wcagai/scanner-go/pkg/errors"
	"github.com/wcagai/scanner-go/pkg/logging"
)

// EngineClient talks to the rendering backend that hosts the headless
// browser sessions and runs the actual accessibility analysis
type EngineClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewEngineClient creates a client for the analysis engine backend
func NewEngineClient(cfg config.EngineConfig, logger *logging.Logger) *EngineClient {
	if logger == nil {
		logger = logging.GetLogger()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &EngineClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Session is one allocated browser session on the engine backend. It
// implements pool.Resource so sessions can be pooled.
type Session struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`

	client *EngineClient
}

// Ping probes the session for liveness
func (s *Session) Ping(ctx context.Context) error {
	var status struct {
		Healthy bool `json:"healthy"`
	}
	if err := s.client.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%s/health", s.ID), nil, &status); err != nil {
		return err
	}
	if !status.Healthy {
		return errors.NewExternalError("engine", fmt.Sprintf("session %s reported unhealthy", s.ID))
	}
	return nil
}

// Close releases the session on the backend
func (s *Session) Close(ctx context.Context) error {
	return s.client.do(ctx, http.MethodDelete, fmt.Sprintf("/api/sessions/%s", s.ID), nil, nil)
}

// Factory returns a pool factory that allocates engine browser sessions
func (c *EngineClient) Factory() pool.Factory {
	return func(ctx context.Context) (pool.Resource, error) {
		var session Session
		if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, &session); err != nil {
			return nil, errors.NewExternalError("engine", "failed to allocate browser session").WithCause(err)
		}
		session.client = c
		c.logger.Debug("Browser session allocated", "session_id", session.ID)
		return &session, nil
	}
}

// scanRequest is the wire format of an engine scan call
type scanRequest struct {
	SessionID string               `json:"sessionId"`
	Type      string               `json:"type"`
	Input     string               `json:"input"`
	Options   orchestrator.Options `json:"options,omitempty"`
}

// scanResponse is the wire format of an engine scan result
type scanResponse struct {
	Success bool                `json:"success"`
	Error   string              `json:"error,omitempty"`
	Result  orchestrator.Result `json:"result"`
}

// Analyzer returns the analysis function the orchestrator invokes with a
// lent handle. The handle's resource must be an engine Session.
func (c *EngineClient) Analyzer() orchestrator.Analyzer {
	return func(ctx context.Context, handle *pool.Handle, target orchestrator.Target, options orchestrator.Options) (*orchestrator.Result, error) {
		session, ok := handle.Resource().(*Session)
		if !ok {
			return nil, errors.NewInternalError("handle does not wrap an engine session")
		}

		req := scanRequest{
			SessionID: session.ID,
			Type:      string(target.Type),
			Input:     target.Input,
			Options:   options,
		}

		var resp scanResponse
		if err := c.do(ctx, http.MethodPost, "/api/scan", req, &resp); err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, errors.NewExternalError("engine", resp.Error)
		}
		return &resp.Result, nil
	}
}

// do issues one JSON request against the engine backend
func (c *EngineClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to marshal engine request").WithCause(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewInternalError("failed to create engine request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewExternalError("engine", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.NewExternalError("engine",
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewExternalError("engine", "failed to decode response").WithCause(err)
	}
	return nil
}
