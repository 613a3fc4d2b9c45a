package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spachava753/cellopt/internal/secrets"
)

const (
	DefaultZenodoURL    = "https://sandbox.zenodo.org"
	DefaultZenodoSecret = "zenodo-sandbox-api-token"
)

// Zenodo publishes through the depositions API.
type Zenodo struct {
	client
	publish bool
}

// NewZenodo creates a Zenodo publisher. Empty arguments select the sandbox
// instance and its conventional token secret. With publish false the
// deposition is left as a draft.
func NewZenodo(baseURL, tokenSecret string, store secrets.Store, publish bool) *Zenodo {
	if baseURL == "" {
		baseURL = DefaultZenodoURL
	}
	if tokenSecret == "" {
		tokenSecret = DefaultZenodoSecret
	}
	return &Zenodo{client: newClient(baseURL, tokenSecret, store), publish: publish}
}

func (z *Zenodo) Name() string {
	u, err := url.Parse(z.baseURL)
	if err != nil || u.Host == "" {
		return "Zenodo"
	}
	return u.Host
}

type zenodoCreator struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

type zenodoMetadata struct {
	Title           string          `json:"title"`
	UploadType      string          `json:"upload_type"`
	Description     string          `json:"description"`
	Creators        []zenodoCreator `json:"creators"`
	PublicationDate string          `json:"publication_date"`
	Version         string          `json:"version,omitempty"`
}

type deposition struct {
	ID        int    `json:"id"`
	DOI       string `json:"doi"`
	Submitted bool   `json:"submitted"`
	Links     struct {
		Bucket     string `json:"bucket"`
		HTML       string `json:"html"`
		RecordHTML string `json:"record_html"`
	} `json:"links"`
	Metadata struct {
		PrereserveDOI struct {
			DOI string `json:"doi"`
		} `json:"prereserve_doi"`
	} `json:"metadata"`
}

func (z *Zenodo) Publish(ctx context.Context, meta Metadata, files []File) (*Record, error) {
	var dep deposition
	if err := z.doJSON(ctx, http.MethodPost, "/api/deposit/depositions", map[string]any{}, &dep); err != nil {
		return nil, fmt.Errorf("creating deposition: %w", err)
	}
	if dep.Links.Bucket == "" {
		return nil, fmt.Errorf("creating deposition: response has no bucket link")
	}
	id := strconv.Itoa(dep.ID)
	slog.Info("created deposition", "repository", z.Name(), "id", id)

	for _, f := range files {
		target := dep.Links.Bucket + "/" + url.PathEscape(f.Name)
		if err := z.do(ctx, http.MethodPut, target, "application/octet-stream", bytes.NewReader(f.Data), nil); err != nil {
			return nil, fmt.Errorf("uploading %s: %w", f.Name, err)
		}
	}

	md := zenodoMetadata{
		Title:           meta.Title,
		UploadType:      meta.resourceType(),
		Description:     meta.Description,
		PublicationDate: meta.date(),
		Version:         meta.Version,
	}
	for _, c := range meta.Creators {
		md.Creators = append(md.Creators, zenodoCreator{Name: c.Name, Affiliation: c.Affiliation})
	}
	if err := z.doJSON(ctx, http.MethodPut, "/api/deposit/depositions/"+id, map[string]any{"metadata": md}, &dep); err != nil {
		return nil, fmt.Errorf("setting metadata: %w", err)
	}

	rec := &Record{Repository: z.Name(), PID: id, Link: dep.Links.HTML, DOI: dep.Metadata.PrereserveDOI.DOI}
	if !z.publish {
		return rec, nil
	}

	if err := z.doJSON(ctx, http.MethodPost, "/api/deposit/depositions/"+id+"/actions/publish", nil, &dep); err != nil {
		return nil, fmt.Errorf("publishing deposition %s: %w", id, err)
	}
	rec.Published = true
	if dep.DOI != "" {
		rec.DOI = dep.DOI
	}
	if dep.Links.RecordHTML != "" {
		rec.Link = dep.Links.RecordHTML
	}
	slog.Info("published deposition", "repository", z.Name(), "id", id, "doi", rec.DOI)
	return rec, nil
}
