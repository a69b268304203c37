package credential

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/geoproxy/ports"
	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	token     string
	expiresAt time.Time
}

// Cache is the Token Cache of §4.4 and §5: per-rule single-flight
// acquisition in front of a ports.TokenAcquirer. Concurrent misses for
// the same rule share one acquisition via singleflight.Group; misses
// for different rules proceed independently. A failed acquisition is
// not cached and is surfaced only to the callers that were waiting on
// it.
type Cache struct {
	acquirer ports.TokenAcquirer
	clock    ports.Clock

	mu      sync.RWMutex
	entries map[int]cacheEntry

	group singleflight.Group
}

// NewCache builds a Cache fronting acquirer.
func NewCache(acquirer ports.TokenAcquirer, clock ports.Clock) *Cache {
	return &Cache{
		acquirer: acquirer,
		clock:    clock,
		entries:  make(map[int]cacheEntry),
	}
}

// Get implements ports.TokenCache.
func (c *Cache) Get(ctx context.Context, ruleIndex int) (string, error) {
	if tok, ok := c.cached(ruleIndex); ok {
		return tok, nil
	}

	key := strconv.Itoa(ruleIndex)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if tok, ok := c.cached(ruleIndex); ok {
			return tok, nil
		}
		token, expiresAt, err := c.acquirer.Acquire(ctx, ruleIndex)
		if err != nil {
			return "", err
		}
		if token != "" {
			c.mu.Lock()
			c.entries[ruleIndex] = cacheEntry{token: token, expiresAt: expiresAt}
			c.mu.Unlock()
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) cached(ruleIndex int) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[ruleIndex]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		return "", false
	}
	return e.token, true
}

// Invalidate implements ports.TokenCache. The Dispatcher calls this
// after an upstream 401, 403, 498, or 499 so the next Get reacquires.
func (c *Cache) Invalidate(ruleIndex int) {
	c.mu.Lock()
	delete(c.entries, ruleIndex)
	c.mu.Unlock()
}

var _ ports.TokenCache = (*Cache)(nil)
