package source

import (
	"sync"
	"time"
)

// listingCache keeps probe results per reference for a short TTL so that the
// formats call and the download call that usually follows it hit yt-dlp once.
type listingCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	info    *ytdlpInfo
	expires time.Time
}

func newListingCache(ttl time.Duration) *listingCache {
	return &listingCache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *listingCache) get(ref string) (*ytdlpInfo, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ref]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, ref)
		return nil, false
	}
	return e.info, true
}

func (c *listingCache) put(ref string, info *ytdlpInfo) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[ref] = cacheEntry{info: info, expires: now.Add(c.ttl)}
}

func (c *listingCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
