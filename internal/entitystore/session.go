// Package entitystore reads and writes battery model entities kept as JSON
// slots on a semantic wiki, through the MediaWiki action API.
package entitystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spachava753/cellopt/internal/secrets"
)

// DefaultAPIPath is the action API endpoint relative to the wiki root.
const DefaultAPIPath = "/w/api.php"

// Slot is the revision slot holding entity JSON.
const Slot = "jsondata"

// ErrNotFound is returned when a page does not exist or has no entity data.
var ErrNotFound = errors.New("entity not found")

// Settings locate a wiki and the account used to edit it.
type Settings struct {
	Domain string
	// BaseURL overrides https://<Domain>.
	BaseURL string
	User    string
	// PasswordSecret defaults to SecretName(User, Domain).
	PasswordSecret string
	APIPath        string
}

// SecretName is the conventional secret name of a wiki password:
// the lowercased user, a dash, and the domain with dots replaced by dashes.
func SecretName(user, domain string) string {
	return strings.ToLower(user) + "-" + strings.ReplaceAll(domain, ".", "-")
}

func (s Settings) apiURL() (string, error) {
	base := s.BaseURL
	if base == "" {
		if s.Domain == "" {
			return "", fmt.Errorf("entity store domain is not set")
		}
		base = "https://" + s.Domain
	}
	path := s.APIPath
	if path == "" {
		path = DefaultAPIPath
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

// Session is a logged-in connection to the wiki. It is safe for
// sequential use by one job; the CSRF token is fixed at connect time.
type Session struct {
	api    string
	client *http.Client
	csrf   string
}

// Connect logs in and fetches an edit token.
func Connect(ctx context.Context, settings Settings, store secrets.Store) (*Session, error) {
	api, err := settings.apiURL()
	if err != nil {
		return nil, err
	}

	secretName := settings.PasswordSecret
	if secretName == "" {
		secretName = SecretName(settings.User, settings.Domain)
	}
	password, err := store.Get(ctx, secretName)
	if err != nil {
		return nil, fmt.Errorf("loading wiki password: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	s := &Session{
		api:    api,
		client: &http.Client{Jar: jar, Timeout: time.Minute},
	}

	loginToken, err := s.token(ctx, "login")
	if err != nil {
		return nil, fmt.Errorf("fetching login token: %w", err)
	}

	var login struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	form := url.Values{
		"action":     {"login"},
		"lgname":     {settings.User},
		"lgpassword": {password},
		"lgtoken":    {loginToken},
	}
	if err := s.post(ctx, form, &login); err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	if login.Login.Result != "Success" {
		return nil, fmt.Errorf("logging in as %s: %s %s", settings.User, login.Login.Result, login.Login.Reason)
	}

	s.csrf, err = s.token(ctx, "csrf")
	if err != nil {
		return nil, fmt.Errorf("fetching csrf token: %w", err)
	}

	slog.Info("connected to entity store", "api", api, "user", settings.User)
	return s, nil
}

// LoadEntity returns the raw entity JSON stored on the page.
func (s *Session) LoadEntity(ctx context.Context, title string) (json.RawMessage, error) {
	q := url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"titles":  {title},
		"rvprop":  {"content"},
		"rvslots": {Slot},
	}
	var resp struct {
		Query struct {
			Pages []struct {
				Title     string `json:"title"`
				Missing   bool   `json:"missing"`
				Revisions []struct {
					Slots map[string]struct {
						Content string `json:"content"`
					} `json:"slots"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := s.get(ctx, q, &resp); err != nil {
		return nil, fmt.Errorf("loading %s: %w", title, err)
	}
	if len(resp.Query.Pages) == 0 || resp.Query.Pages[0].Missing || len(resp.Query.Pages[0].Revisions) == 0 {
		return nil, fmt.Errorf("loading %s: %w", title, ErrNotFound)
	}
	slot, ok := resp.Query.Pages[0].Revisions[0].Slots[Slot]
	if !ok || slot.Content == "" {
		return nil, fmt.Errorf("loading %s: %w", title, ErrNotFound)
	}
	return json.RawMessage(slot.Content), nil
}

// StoreEntity replaces the entity JSON on the page.
func (s *Session) StoreEntity(ctx context.Context, title string, data json.RawMessage, summary string) error {
	form := url.Values{
		"action":  {"editslots"},
		"title":   {title},
		"slot":    {Slot},
		"text":    {string(data)},
		"summary": {summary},
		"token":   {s.csrf},
	}
	var resp struct {
		Edit struct {
			Result string `json:"result"`
		} `json:"edit"`
	}
	if err := s.post(ctx, form, &resp); err != nil {
		return fmt.Errorf("storing %s: %w", title, err)
	}
	if resp.Edit.Result != "" && resp.Edit.Result != "Success" {
		return fmt.Errorf("storing %s: edit result %s", title, resp.Edit.Result)
	}
	slog.Debug("stored entity", "title", title)
	return nil
}

// LoadModel loads and validates a battery model entity.
func (s *Session) LoadModel(ctx context.Context, title string) (*BattmoModel, error) {
	data, err := s.LoadEntity(ctx, title)
	if err != nil {
		return nil, err
	}
	var m BattmoModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", title, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", title, err)
	}
	return &m, nil
}

// StoreModel validates and stores a battery model entity under its own title.
func (s *Session) StoreModel(ctx context.Context, m *BattmoModel) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", m.Title(), err)
	}
	return s.StoreEntity(ctx, m.Title(), data, "cellopt update")
}

// PendingQuery is the semantic query for models with a ToDo workflow run.
const PendingQuery = "[[" + CategoryBattmoModel + "]][[HasWorkflowRuns.HasStatus::" + StatusToDo + "]]"

// QueryPending returns the titles of models with a ToDo workflow run, sorted.
func (s *Session) QueryPending(ctx context.Context) ([]string, error) {
	q := url.Values{
		"action": {"ask"},
		"query":  {PendingQuery + "|limit=1000"},
	}
	var resp struct {
		Query struct {
			Results map[string]json.RawMessage `json:"results"`
		} `json:"query"`
	}
	if err := s.get(ctx, q, &resp); err != nil {
		return nil, fmt.Errorf("querying pending models: %w", err)
	}
	titles := make([]string, 0, len(resp.Query.Results))
	for title := range resp.Query.Results {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return titles, nil
}

func (s *Session) token(ctx context.Context, kind string) (string, error) {
	var resp struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	q := url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {kind}}
	if err := s.get(ctx, q, &resp); err != nil {
		return "", err
	}
	tok := resp.Query.Tokens[kind+"token"]
	if tok == "" {
		return "", fmt.Errorf("no %s token in response", kind)
	}
	return tok, nil
}

func (s *Session) get(ctx context.Context, q url.Values, out any) error {
	q.Set("format", "json")
	q.Set("formatversion", "2")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.api+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return s.do(req, q.Get("action"), out)
}

func (s *Session) post(ctx context.Context, form url.Values, out any) error {
	form.Set("format", "json")
	form.Set("formatversion", "2")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.api, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req, form.Get("action"), out)
}

// APIError is an error object returned by the action API.
type APIError struct {
	Action string
	Code   string
	Info   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("action %s: %s: %s", e.Action, e.Code, e.Info)
}

func (s *Session) do(req *http.Request, action string, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("action %s: status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var apiErr struct {
		Error *struct {
			Code string `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &apiErr); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if apiErr.Error != nil {
		return &APIError{Action: action, Code: apiErr.Error.Code, Info: apiErr.Error.Info}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
