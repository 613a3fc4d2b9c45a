package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spachava753/cellopt/internal/models"
	"github.com/spachava753/cellopt/internal/secrets"
	"golang.org/x/time/rate"
)

// APIError is a non-success response from the optimizer service.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPClient implements Service against the optimizer's REST API.
type HTTPClient struct {
	baseURL      string
	apiKeySecret string
	secrets      secrets.Store
	client       *http.Client
	limiter      *rate.Limiter
}

// NewHTTPClient creates a client. The API key is read from store under
// apiKeySecret on every request. requestsPerSecond <= 0 disables limiting.
func NewHTTPClient(baseURL, apiKeySecret string, store secrets.Store, requestsPerSecond float64) *HTTPClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKeySecret: apiKeySecret,
		secrets:      store,
		client:       &http.Client{Timeout: 2 * time.Minute},
		limiter:      rate.NewLimiter(limit, 1),
	}
}

type initializeResponse struct {
	ID     string  `json:"id"`
	Config *Config `json:"config"`
}

type suggestionsResponse struct {
	Suggestions []*models.Suggestion `json:"suggestions"`
}

type measurementsRequest struct {
	Suggestions []*models.Suggestion `json:"suggestions"`
}

// Initialize validates cfg locally, then creates the optimization.
func (c *HTTPClient) Initialize(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("initializing optimization", "name", cfg.OptimizationName, "algorithm", cfg.Algorithm, "budget", cfg.Budget, "batch_size", cfg.BatchSize)

	var resp initializeResponse
	if _, err := c.do(ctx, http.MethodPost, "/optimizations", cfg, &resp, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("initializing optimization: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("initializing optimization: response has no id")
	}

	session := &Session{ID: resp.ID, Config: cfg}
	if resp.Config != nil {
		session.Config = *resp.Config
	}
	return session, nil
}

// Suggest polls for the next batch.
func (c *HTTPClient) Suggest(ctx context.Context, s *Session) ([]*models.Suggestion, error) {
	var resp suggestionsResponse
	status, err := c.do(ctx, http.MethodGet, "/optimizations/"+url.PathEscape(s.ID)+"/suggestions", nil, &resp, http.StatusOK, http.StatusAccepted, http.StatusConflict)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, ErrNotReady
	}
	return resp.Suggestions, nil
}

// ReportMeasurements sends the measured suggestions back.
func (c *HTTPClient) ReportMeasurements(ctx context.Context, s *Session, suggestions []*models.Suggestion) error {
	body := measurementsRequest{Suggestions: suggestions}
	if _, err := c.do(ctx, http.MethodPost, "/optimizations/"+url.PathEscape(s.ID)+"/measurements", body, nil, http.StatusOK, http.StatusCreated, http.StatusNoContent); err != nil {
		return fmt.Errorf("reporting measurements: %w", err)
	}
	return nil
}

// do sends one request and decodes a JSON body into out when the response
// status is 200 or 201. It returns the response status.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any, accept ...int) (int, error) {
	apiKey, err := c.secrets.Get(ctx, c.apiKeySecret)
	if err != nil {
		return 0, fmt.Errorf("loading api key: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return 0, fmt.Errorf("reading response: %w", err)
	}

	accepted := false
	for _, code := range accept {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return resp.StatusCode, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil && (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated) && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
