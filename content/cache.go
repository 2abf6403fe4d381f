package content

import (
	"log/slog"
	"strings"
	"sync"

	"mosaic-api/models"
)

// Loader is the read side the cache falls back to on a miss. Satisfied
// by repository.ContentRepository.
type Loader interface {
	GetPublishedBySlug(slug string) (*models.ContentEntry, error)
}

// Cache keeps published entries keyed by slug so marketing pages are
// served without touching Postgres on every request. Entries are loaded
// through on miss and dropped on revalidation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*models.ContentEntry
	loader  Loader
}

func NewCache(loader Loader) *Cache {
	return &Cache{
		entries: make(map[string]*models.ContentEntry),
		loader:  loader,
	}
}

// Get returns the published entry for slug, loading it on a miss.
// A nil entry with nil error means the slug does not exist (negative
// results are not cached).
func (c *Cache) Get(slug string) (*models.ContentEntry, error) {
	c.mu.RLock()
	e, ok := c.entries[slug]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := c.loader.GetPublishedBySlug(slug)
	if err != nil || e == nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[slug] = e
	c.mu.Unlock()
	return e, nil
}

// Revalidate drops the cached entry for a site path ("/about" → "about")
// so the next read reflects the CMS change. Unknown paths are a no-op.
func (c *Cache) Revalidate(path string) error {
	slug := strings.TrimPrefix(path, "/")
	c.mu.Lock()
	_, existed := c.entries[slug]
	delete(c.entries, slug)
	c.mu.Unlock()
	slog.Info("content revalidated", "path", path, "wasCached", existed)
	return nil
}

// Flush empties the cache entirely, used after a full CMS sync.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]*models.ContentEntry)
	c.mu.Unlock()
}
