package messages

import (
	"sort"

	"github.com/cuemby/squares/pkg/types"
)

// Cache holds the CachedMessage of every message that currently has at
// least one reaction. It is a derived store: the manager creates and evicts
// entries to follow the reaction tally.
type Cache struct {
	byID map[string]*types.CachedMessage
}

// NewCache creates a cache from persisted entries
func NewCache(entries map[string]*types.CachedMessage) *Cache {
	if entries == nil {
		entries = make(map[string]*types.CachedMessage)
	}
	return &Cache{byID: entries}
}

// Get returns the cached message, or nil
func (c *Cache) Get(id string) *types.CachedMessage {
	return c.byID[id]
}

// Has reports whether a message is cached
func (c *Cache) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Put stores a message. An existing entry is kept: messages are captured
// once, the first time they receive a reaction.
func (c *Cache) Put(m *types.CachedMessage) bool {
	if _, ok := c.byID[m.ID]; ok {
		return false
	}
	c.byID[m.ID] = m
	return true
}

// Delete evicts a message and reports whether it was present
func (c *Cache) Delete(id string) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	return true
}

// Len returns the number of cached messages
func (c *Cache) Len() int {
	return len(c.byID)
}

// IDs returns every cached message id in order
func (c *Cache) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of the entries for persistence
func (c *Cache) Snapshot() map[string]*types.CachedMessage {
	out := make(map[string]*types.CachedMessage, len(c.byID))
	for id, m := range c.byID {
		cp := *m
		out[id] = &cp
	}
	return out
}
