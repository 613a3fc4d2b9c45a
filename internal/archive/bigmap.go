package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/spachava753/cellopt/internal/secrets"
)

const (
	DefaultBigMapURL    = "https://big-map-archive-demo.materialscloud.org"
	DefaultBigMapSecret = "big-map-archive-demo-api-key"
	BigMapRepository    = "BIG-MAP Archive"
)

// BigMap publishes to an InvenioRDM instance such as the BIG-MAP Archive.
type BigMap struct {
	client
	publish bool
}

// NewBigMap creates an InvenioRDM publisher. Empty arguments select the
// BIG-MAP demo instance and its conventional token secret.
func NewBigMap(baseURL, tokenSecret string, store secrets.Store, publish bool) *BigMap {
	if baseURL == "" {
		baseURL = DefaultBigMapURL
	}
	if tokenSecret == "" {
		tokenSecret = DefaultBigMapSecret
	}
	return &BigMap{client: newClient(baseURL, tokenSecret, store), publish: publish}
}

func (b *BigMap) Name() string { return BigMapRepository }

type rdmLinks struct {
	Self     string `json:"self"`
	SelfHTML string `json:"self_html"`
	Files    string `json:"files"`
	Publish  string `json:"publish"`
}

type rdmRecord struct {
	ID    string   `json:"id"`
	Links rdmLinks `json:"links"`
	PIDs  struct {
		DOI struct {
			Identifier string `json:"identifier"`
		} `json:"doi"`
	} `json:"pids"`
}

type rdmFileEntries struct {
	Entries []struct {
		Key   string `json:"key"`
		Links struct {
			Content string `json:"content"`
			Commit  string `json:"commit"`
		} `json:"links"`
	} `json:"entries"`
}

func rdmMetadata(meta Metadata) map[string]any {
	creators := make([]map[string]any, 0, len(meta.Creators))
	for _, c := range meta.Creators {
		entry := map[string]any{
			"person_or_org": map[string]any{"type": "organizational", "name": c.Name},
		}
		if c.Affiliation != "" {
			entry["affiliations"] = []map[string]string{{"name": c.Affiliation}}
		}
		creators = append(creators, entry)
	}
	md := map[string]any{
		"resource_type":    map[string]string{"id": meta.resourceType()},
		"title":            meta.Title,
		"description":      meta.Description,
		"publication_date": meta.date(),
		"creators":         creators,
	}
	if meta.Version != "" {
		md["version"] = meta.Version
	}
	return map[string]any{
		"access":   map[string]string{"record": "public", "files": "public"},
		"files":    map[string]bool{"enabled": true},
		"metadata": md,
	}
}

func (b *BigMap) Publish(ctx context.Context, meta Metadata, files []File) (*Record, error) {
	var draft rdmRecord
	if err := b.doJSON(ctx, http.MethodPost, "/api/records", rdmMetadata(meta), &draft); err != nil {
		return nil, fmt.Errorf("creating draft: %w", err)
	}
	slog.Info("created draft", "repository", b.Name(), "id", draft.ID)

	filesURL := draft.Links.Files
	if filesURL == "" {
		filesURL = "/api/records/" + url.PathEscape(draft.ID) + "/draft/files"
	}

	for _, f := range files {
		var entries rdmFileEntries
		if err := b.doJSON(ctx, http.MethodPost, filesURL, []map[string]string{{"key": f.Name}}, &entries); err != nil {
			return nil, fmt.Errorf("initializing upload of %s: %w", f.Name, err)
		}
		content := filesURL + "/" + url.PathEscape(f.Name) + "/content"
		commit := filesURL + "/" + url.PathEscape(f.Name) + "/commit"
		for _, e := range entries.Entries {
			if e.Key == f.Name {
				if e.Links.Content != "" {
					content = e.Links.Content
				}
				if e.Links.Commit != "" {
					commit = e.Links.Commit
				}
			}
		}
		if err := b.do(ctx, http.MethodPut, content, "application/octet-stream", bytes.NewReader(f.Data), nil); err != nil {
			return nil, fmt.Errorf("uploading %s: %w", f.Name, err)
		}
		if err := b.doJSON(ctx, http.MethodPost, commit, nil, nil); err != nil {
			return nil, fmt.Errorf("committing %s: %w", f.Name, err)
		}
	}

	rec := &Record{Repository: b.Name(), PID: draft.ID, Link: draft.Links.SelfHTML}
	if !b.publish {
		return rec, nil
	}

	publishURL := draft.Links.Publish
	if publishURL == "" {
		publishURL = "/api/records/" + url.PathEscape(draft.ID) + "/draft/actions/publish"
	}
	var published rdmRecord
	if err := b.doJSON(ctx, http.MethodPost, publishURL, nil, &published); err != nil {
		return nil, fmt.Errorf("publishing draft %s: %w", draft.ID, err)
	}
	rec.Published = true
	if published.Links.SelfHTML != "" {
		rec.Link = published.Links.SelfHTML
	}
	if rec.Link != "" {
		rec.PID = lastSegment(rec.Link)
	}
	rec.DOI = published.PIDs.DOI.Identifier
	slog.Info("published record", "repository", b.Name(), "pid", rec.PID, "link", rec.Link)
	return rec, nil
}
