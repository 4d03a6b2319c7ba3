package folio

import (
	"context"
	"sync"
	"time"

	"github.com/weirdwool/folio/content"
	"github.com/weirdwool/folio/contentsync"
)

// PostCache is an in-memory cache of the post list with TTL.
type PostCache struct {
	mu      sync.RWMutex
	posts   []content.Post
	fetched time.Time
	ttl     time.Duration
	load    func(context.Context) ([]content.Post, error)
}

// NewPostCache creates a PostCache filled by load.
func NewPostCache(load func(context.Context) ([]content.Post, error), ttl time.Duration) *PostCache {
	return &PostCache{load: load, ttl: ttl}
}

func (c *PostCache) valid() bool {
	return c.posts != nil && time.Since(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *PostCache) Invalidate() {
	c.mu.Lock()
	c.posts = nil
	c.mu.Unlock()
}

// ensureLoaded returns cached posts after ensuring the cache is fresh.
// It tries a read lock first; only takes a write lock if a reload is needed.
func (c *PostCache) ensureLoaded(ctx context.Context) ([]content.Post, error) {
	c.mu.RLock()
	if c.valid() {
		posts := c.posts
		c.mu.RUnlock()
		return posts, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid() {
		return c.posts, nil
	}
	posts, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.posts = posts
	c.fetched = time.Now()
	return c.posts, nil
}

// ListPosts returns all posts, newest first.
func (c *PostCache) ListPosts(ctx context.Context) ([]content.Post, error) {
	return c.ensureLoaded(ctx)
}

// GetPost returns a single post by slug from the cache.
func (c *PostCache) GetPost(ctx context.Context, slug string) (content.Post, error) {
	posts, err := c.ensureLoaded(ctx)
	if err != nil {
		return content.Post{}, err
	}
	for _, p := range posts {
		if p.Slug == slug {
			return p, nil
		}
	}
	return content.Post{}, contentsync.ErrNotFound
}
