// Package cache provides in-memory caching of Search Index results (C1),
// so that repeated or auto-investigator-driven queries over the same
// terms don't re-hit the index within a short window.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// Searcher is the C1 collaborator a QueryCache wraps.
type Searcher interface {
	Search(ctx context.Context, terms string, limit int) ([]model.SearchHit, error)
}

// QueryCache caches search results by (terms, limit). Thread-safe via
// sync.RWMutex. Entries auto-expire after TTL.
type QueryCache struct {
	inner   Searcher
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	stopCh  chan struct{}
}

type cacheEntry struct {
	hits      []model.SearchHit
	createdAt time.Time
	expiresAt time.Time
}

// New wraps inner with a result cache of the given TTL and starts a
// background cleanup goroutine.
func New(inner Searcher, ttl time.Duration) *QueryCache {
	c := &QueryCache{
		inner:   inner,
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Search implements Searcher, serving from cache when possible and falling
// through to the wrapped index otherwise (§4.1: search results are not
// required to be real-time-fresh within a short TTL since the documents
// corpus is append-only and immutable per §1).
func (c *QueryCache) Search(ctx context.Context, terms string, limit int) ([]model.SearchHit, error) {
	key := cacheKey(terms, limit)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		slog.Debug("query cache hit", "query_hash", key, "age_ms", time.Since(entry.createdAt).Milliseconds())
		return entry.hits, nil
	}

	hits, err := c.inner.Search(ctx, terms, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &cacheEntry{hits: hits, createdAt: now, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return hits, nil
}

// Len returns the number of entries in the cache.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *QueryCache) Stop() {
	close(c.stopCh)
}

// cleanup removes expired entries every 5 minutes.
func (c *QueryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// cacheKey builds a deterministic key from the search terms and limit.
func cacheKey(terms string, limit int) string {
	h := sha256.Sum256([]byte(terms))
	return fmt.Sprintf("qc:%d:%x", limit, h[:8])
}
