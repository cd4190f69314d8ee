package api

import (
	"context"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/callscope/callscope/pkg/analysis"
)

// ResultCache is a thread-safe LRU cache of decoded analysis reports.
type ResultCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*analysis.Report
	order   []string // oldest first
	flight  singleflight.Group
}

// NewResultCache creates a cache with the given maximum number of entries.
// If maxSize <= 0, it defaults to 20.
func NewResultCache(maxSize int) *ResultCache {
	if maxSize <= 0 {
		maxSize = 20
	}
	return &ResultCache{
		maxSize: maxSize,
		entries: make(map[string]*analysis.Report),
	}
}

// NewResultCacheFromEnv creates a cache sized by RESULT_CACHE_SIZE.
func NewResultCacheFromEnv() *ResultCache {
	size := 20
	if v := os.Getenv("RESULT_CACHE_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			size = parsed
		}
	}
	return NewResultCache(size)
}

// Len returns the number of cached reports.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get returns a cached report, or nil if absent.
func (c *ResultCache) Get(id string) *analysis.Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[id]
	if !ok {
		return nil
	}
	c.moveToEnd(id)
	return r
}

// Put adds a report, evicting the least recently used one if full.
func (c *ResultCache) Put(id string, r *analysis.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		c.entries[id] = r
		c.moveToEnd(id)
		return
	}

	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[id] = r
	c.order = append(c.order, id)
}

// GetOrLoad returns the cached report for id, calling load at most once
// for concurrent misses on the same id. The shared load does not inherit the
// caller's cancellation; a caller whose ctx ends stops waiting on its own.
func (c *ResultCache) GetOrLoad(ctx context.Context, id string, load func(context.Context) (*analysis.Report, error)) (*analysis.Report, error) {
	if r := c.Get(id); r != nil {
		return r, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(id, func() (any, error) {
		r, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Put(id, r)
		return r, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*analysis.Report), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ResultCache) moveToEnd(id string) {
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, id)
			return
		}
	}
}
