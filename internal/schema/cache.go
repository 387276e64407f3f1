package schema

import (
	"context"
	"sync"
)

// FetchFunc obtains the raw self-description of the named tool, typically by
// invoking it with a describe flag or calling a remote worker's description
// endpoint.
type FetchFunc func(ctx context.Context, tool string) ([]byte, error)

// Cache parses each processor's description at most once and serves the
// cached result to every later form render and run. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Description
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Description)}
}

// Get returns the cached description for tool, fetching and parsing it on
// first use. Parse failures are not cached so a fixed description can be
// picked up on retry.
func (c *Cache) Get(ctx context.Context, tool string, fetch FetchFunc) (*Description, error) {
	c.mu.RLock()
	desc, ok := c.entries[tool]
	c.mu.RUnlock()
	if ok {
		return desc, nil
	}

	raw, err := fetch(ctx, tool)
	if err != nil {
		return nil, err
	}

	parsed, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have won the race, keep the first result so
	// every caller sees the same schema instance.
	if existing, ok := c.entries[tool]; ok {
		return existing, nil
	}
	c.entries[tool] = parsed
	return parsed, nil
}

// Invalidate drops the cached description for tool.
func (c *Cache) Invalidate(tool string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tool)
}
