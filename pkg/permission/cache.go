package permission

import (
	"strings"
	"sync"
	"time"
)

// defaultCacheTTL bounds how stale a cached permission set may be.
const defaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	permissions []Permission
	expiresAt   time.Time
}

// ttlCache is a process-local permission cache. Keys embed the instance id,
// so entries cannot serve another tenant.
type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &ttlCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(userID, instanceID, orgID, projectID string) string {
	return strings.Join([]string{userID, instanceID, orgID, projectID}, "\x00")
}

func (c *ttlCache) get(key string) ([]Permission, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.permissions, true
}

func (c *ttlCache) set(key string, permissions []Permission) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{permissions: permissions, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// clearUser drops every entry of one user in one instance.
func (c *ttlCache) clearUser(userID, instanceID string) {
	prefix := userID + "\x00" + instanceID + "\x00"
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
