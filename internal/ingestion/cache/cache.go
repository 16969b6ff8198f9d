// Package cache holds a process-local LRU of parsed pages keyed by canonical URL.
// It is an accelerator only; every read path has a durable fallback.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yungbote/weblink-backend/internal/domain/weblink"
)

const DefaultCapacity = 1000

// Observer receives hit/miss notifications. Metrics wire one in.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// ContentCache maps canonical URL to page data. Values are copied on the way in and
// on the way out, so callers never share the cache-owned document.
type ContentCache struct {
	lru *lru.Cache[string, weblink.Data]
	obs Observer
}

func NewContentCache(capacity int, obs Observer) *ContentCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only fails on a non-positive size.
	c, _ := lru.New[string, weblink.Data](capacity)
	return &ContentCache{lru: c, obs: obs}
}

func (c *ContentCache) Get(url string) (weblink.Data, bool) {
	if c == nil {
		return weblink.Data{}, false
	}
	v, ok := c.lru.Get(url)
	if c.obs != nil {
		if ok {
			c.obs.CacheHit()
		} else {
			c.obs.CacheMiss()
		}
	}
	if !ok || v.Doc == nil {
		return weblink.Data{}, false
	}
	return v.Clone(), true
}

// Put stores data for url, evicting the least recently used entry when full.
// Entries without a document are ignored.
func (c *ContentCache) Put(url string, data weblink.Data) {
	if c == nil || data.Doc == nil {
		return
	}
	c.lru.Add(url, data.Clone())
}

func (c *ContentCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

func (c *ContentCache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}
