// Package secrets resolves credentials by name at call time.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no store holds the named secret.
var ErrNotFound = errors.New("secret not found")

// Store looks up a secret value by name.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvPrefix is prepended to the variable name of every Env secret.
const EnvPrefix = "CELLOPT_SECRET_"

// Env reads secrets from environment variables. The name
// "atinary-api-key" maps to CELLOPT_SECRET_ATINARY_API_KEY.
type Env struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// EnvVar returns the environment variable holding the named secret.
func EnvVar(name string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (e Env) Get(ctx context.Context, name string) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(EnvVar(name))
	if !ok || v == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return v, nil
}

// Dir reads secrets from one file per name inside a directory, the layout
// used by mounted Kubernetes and Docker secrets.
type Dir string

func (d Dir) Get(ctx context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(string(d), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("reading secret %s: %w", name, err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return v, nil
}

// Chain asks each store in order and returns the first hit.
type Chain []Store

func (c Chain) Get(ctx context.Context, name string) (string, error) {
	for _, s := range c {
		v, err := s.Get(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Static serves secrets from a fixed map. Useful for tests and dry runs.
type Static map[string]string

func (s Static) Get(ctx context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return v, nil
}

// Default returns the store used by the CLI: a secrets directory (when set)
// followed by the environment.
func Default(dir string) Store {
	if dir == "" {
		return Env{}
	}
	return Chain{Dir(dir), Env{}}
}
