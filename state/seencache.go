package state

import (
	"sync"
	"time"
)

// DefaultSeenTTL is the default per-entry expiration for the dedup cache
// (spec.md §3 "default 120 s").
const DefaultSeenTTL = 120 * time.Second

// SeenCache is a TTL set of msg_id strings used to dedup relayed packets.
// It is safe for concurrent use and guarded by its own mutex, independent of
// Store's, since the forwarding pipeline queries it without holding any
// other State lock (spec.md §5 "safe to query... without additional
// locking").
type SeenCache struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	expiresAt map[string]time.Time
}

// NewSeenCache constructs a SeenCache with the given TTL. A zero ttl selects
// DefaultSeenTTL.
func NewSeenCache(ttl time.Duration, now func() time.Time) *SeenCache {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SeenCache{
		ttl:       ttl,
		now:       now,
		expiresAt: make(map[string]time.Time),
	}
}

// IsSeen reports whether msgID is present and not expired.
func (c *SeenCache) IsSeen(msgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.expiresAt[msgID]
	if !ok {
		return false
	}
	return c.now().Before(exp)
}

// MarkSeen records msgID as seen, resetting its expiration.
func (c *SeenCache) MarkSeen(msgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiresAt[msgID] = c.now().Add(c.ttl)
}

// CheckAndMark reports whether msgID was already seen (not expired) and, if
// not, marks it seen. This is the atomic dedup-and-insert operation the
// forwarding pipeline uses (spec.md §4.4 step 4).
func (c *SeenCache) CheckAndMark(msgID string) (alreadySeen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.expiresAt[msgID]; ok && now.Before(exp) {
		return true
	}
	c.expiresAt[msgID] = now.Add(c.ttl)
	return false
}

// Purge removes all expired entries and returns how many were removed.
func (c *SeenCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for id, exp := range c.expiresAt {
		if !now.Before(exp) {
			delete(c.expiresAt, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries currently tracked, expired or not.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expiresAt)
}
