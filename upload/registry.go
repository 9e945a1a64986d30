package upload

import (
	"sync"

	"github.com/google/uuid"
)

// URLRegistry hands out blob: URLs for selected files. Every URL must be
// revoked once its file is replaced or cleared.
type URLRegistry struct {
	mu      sync.Mutex
	entries map[string]Candidate
}

func NewURLRegistry() *URLRegistry {
	return &URLRegistry{entries: make(map[string]Candidate)}
}

func (r *URLRegistry) Create(c Candidate) string {
	url := "blob:" + uuid.NewString()
	r.mu.Lock()
	r.entries[url] = c
	r.mu.Unlock()
	return url
}

// Revoke reports whether url was live.
func (r *URLRegistry) Revoke(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[url]; !ok {
		return false
	}
	delete(r.entries, url)
	return true
}

func (r *URLRegistry) Lookup(url string) (Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[url]
	return c, ok
}

func (r *URLRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
