package client

import (
	"sync"
	"time"

	"github.com/thereayou/clubchat/internal/handlers/dto"
)

const (
	DefaultCacheTTL  = time.Hour
	DefaultCacheSize = 200
)

type cacheEntry struct {
	messages  []dto.MessageResponse
	writtenAt time.Time
}

// Cache keeps the last known list per room. An entry is served whole or not at
// all: expired entries are dropped on read.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	size    int
	entries map[uint64]cacheEntry
	now     func() time.Time
}

func NewCache(ttl time.Duration, size int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{ttl: ttl, size: size, entries: make(map[uint64]cacheEntry), now: time.Now}
}

// Get returns a copy of the cached list for roomID, or nil.
func (c *Cache) Get(roomID uint64) []dto.MessageResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[roomID]
	if !ok {
		return nil
	}
	if c.now().Sub(e.writtenAt) > c.ttl {
		delete(c.entries, roomID)
		return nil
	}
	out := make([]dto.MessageResponse, len(e.messages))
	copy(out, e.messages)
	return out
}

// Put replaces the room's entry with the newest size messages of msgs.
func (c *Cache) Put(roomID uint64, msgs []dto.MessageResponse) {
	if len(msgs) > c.size {
		msgs = msgs[len(msgs)-c.size:]
	}
	stored := make([]dto.MessageResponse, len(msgs))
	copy(stored, msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[roomID] = cacheEntry{messages: stored, writtenAt: c.now()}
}

func (c *Cache) Invalidate(roomID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, roomID)
}
