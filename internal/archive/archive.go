// Package archive publishes entity snapshots to public data repositories.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spachava753/cellopt/internal/models"
	"github.com/spachava753/cellopt/internal/secrets"
	"golang.org/x/time/rate"
)

// Creator is an author of a record.
type Creator struct {
	Name        string
	Affiliation string
}

// Metadata describes a record independently of the target repository.
type Metadata struct {
	Title           string
	Description     string
	Creators        []Creator
	PublicationDate time.Time
	// ResourceType defaults to "dataset".
	ResourceType string
	Version      string
}

func (m Metadata) resourceType() string {
	if m.ResourceType == "" {
		return "dataset"
	}
	return m.ResourceType
}

func (m Metadata) date() string {
	d := m.PublicationDate
	if d.IsZero() {
		d = time.Now()
	}
	return d.UTC().Format("2006-01-02")
}

// File is one file attached to a record.
type File struct {
	Name string
	Data []byte
}

// Record is the result of an upload.
type Record struct {
	Repository string `json:"repository"`
	PID        string `json:"pid"`
	Link       string `json:"link"`
	DOI        string `json:"doi,omitempty"`
	Published  bool   `json:"published"`
}

// Publisher uploads a record with its files.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, meta Metadata, files []File) (*Record, error)
}

// New returns the publisher configured by cfg, or nil when archiving is off.
func New(cfg models.ArchiveConfig, store secrets.Store) (Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "zenodo":
		return NewZenodo(cfg.BaseURL, cfg.TokenSecret, store, cfg.Publish), nil
	case "bigmap":
		return NewBigMap(cfg.BaseURL, cfg.TokenSecret, store, cfg.Publish), nil
	default:
		return nil, fmt.Errorf("unsupported archive %q", cfg.Type)
	}
}

// StatusError is a non-success response from a repository API.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// client is the token-authenticated, rate-limited transport shared by
// both repositories.
type client struct {
	baseURL     string
	tokenSecret string
	secrets     secrets.Store
	http        *http.Client
	limiter     *rate.Limiter
}

func newClient(baseURL, tokenSecret string, store secrets.Store) client {
	return client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokenSecret: tokenSecret,
		secrets:     store,
		http:        &http.Client{Timeout: 5 * time.Minute},
		limiter:     rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// url resolves a path against the base URL. Absolute links returned by the
// API are used unchanged.
func (c *client) url(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	return c.baseURL + pathOrURL
}

// doJSON sends in as JSON and decodes a JSON response into out.
func (c *client) doJSON(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, target, "application/json", body, out)
}

func (c *client) do(ctx context.Context, method, target, contentType string, body io.Reader, out any) error {
	token, err := c.secrets.Get(ctx, c.tokenSecret)
	if err != nil {
		return fmt.Errorf("loading archive token: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.url(target)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// lastSegment returns the final path element of a link.
func lastSegment(link string) string {
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndex(link, "/"); i >= 0 {
		return link[i+1:]
	}
	return link
}
