package client

import (
	"context"
	"os"
	"strings"
	"sync"
)

// FileTokenSource reads the bearer token from a file in the profile
// directory. External auth tooling rotates the file; RefreshToken
// re-reads it, so a rotated token is picked up without restarting the
// daemon. A missing file means authentication has not completed yet.
type FileTokenSource struct {
	path string

	mu     sync.Mutex
	cached string
}

// NewFileTokenSource creates a token source backed by the given path.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// AccessToken returns the cached token, reading the file on first use.
// An absent file yields an empty token, not an error.
func (f *FileTokenSource) AccessToken(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != "" {
		return f.cached, nil
	}
	f.cached = f.read()
	return f.cached, nil
}

// RefreshToken drops the cache and re-reads the file. An empty result
// signals refresh failure to the caller.
func (f *FileTokenSource) RefreshToken(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = f.read()
	return f.cached, nil
}

func (f *FileTokenSource) read() string {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
