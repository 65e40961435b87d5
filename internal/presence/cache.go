// Package presence keeps a volatile view of which users are online.
// Nothing here is persisted: the latest realtime event is authoritative
// and polling only fills gaps while realtime is down.
package presence

import (
	"sync"
	"time"

	"github.com/citydesk/appealsync/internal/bus"
	"github.com/citydesk/appealsync/internal/model"
)

// Cache holds per-user presence info merged from push and polling.
type Cache struct {
	mu    sync.RWMutex
	users map[int64]model.PresenceInfo
	bus   *bus.Bus
}

// NewCache creates an empty presence cache.
func NewCache(b *bus.Bus) *Cache {
	return &Cache{
		users: make(map[int64]model.PresenceInfo),
		bus:   b,
	}
}

// ApplyPush records presence from a realtime event. Push is always
// authoritative, so the entry is replaced outright.
func (c *Cache) ApplyPush(p model.PresenceInfo) {
	c.mu.Lock()
	c.users[p.UserID] = p
	c.mu.Unlock()
	c.bus.Publish("presence.changed", p)
}

// ApplyPoll merges polled presence, filling gaps only: an entry from a
// newer push is never overwritten by an older poll result.
func (c *Cache) ApplyPoll(infos []model.PresenceInfo) {
	c.mu.Lock()
	var changed []model.PresenceInfo
	for _, p := range infos {
		prev, ok := c.users[p.UserID]
		if ok && !prev.LastSeenAt.Before(p.LastSeenAt) {
			continue
		}
		c.users[p.UserID] = p
		changed = append(changed, p)
	}
	c.mu.Unlock()
	for _, p := range changed {
		c.bus.Publish("presence.changed", p)
	}
}

// Get returns the cached presence for a user.
func (c *Cache) Get(userID int64) (model.PresenceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.users[userID]
	return p, ok
}

// Online reports whether a user is currently known to be online.
func (c *Cache) Online(userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users[userID].IsOnline
}

// Sweep marks entries stale: users whose last seen timestamp is older
// than maxAge flip to offline. Used when realtime is unavailable and
// polling is the only signal.
func (c *Cache) Sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	var changed []model.PresenceInfo
	for id, p := range c.users {
		if p.IsOnline && p.LastSeenAt.Before(cutoff) {
			p.IsOnline = false
			c.users[id] = p
			changed = append(changed, p)
		}
	}
	c.mu.Unlock()
	for _, p := range changed {
		c.bus.Publish("presence.changed", p)
	}
}
