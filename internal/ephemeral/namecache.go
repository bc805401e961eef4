package ephemeral

import "sync"

// NameID is a handle into a NameCache's interned string pool.
type NameID int32

// NameCache interns path segment strings so that a name like "index.js"
// appearing under thousands of node_modules directories is stored once
// (§4.2 "one copy of a name across thousands of occurrences"). Shared
// across every tree browsed in the same EphemeralIndex session.
type NameCache struct {
	mu      sync.RWMutex
	strings []string
	byValue map[string]NameID
}

// NewNameCache returns an empty interning pool.
func NewNameCache() *NameCache {
	return &NameCache{byValue: make(map[string]NameID, 256)}
}

// Intern returns the NameID for s, allocating one if s hasn't been seen.
func (c *NameCache) Intern(s string) NameID {
	c.mu.RLock()
	if id, ok := c.byValue[s]; ok {
		c.mu.RUnlock()
		return id
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.byValue[s]; ok {
		return id
	}

	id := NameID(len(c.strings))
	c.strings = append(c.strings, s)
	c.byValue[s] = id

	return id
}

// String resolves a NameID back to its interned value.
func (c *NameCache) String(id NameID) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if id < 0 || int(id) >= len(c.strings) {
		return ""
	}

	return c.strings[id]
}

// Len returns the number of distinct interned strings.
func (c *NameCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.strings)
}

func (c *NameCache) memoryUsage() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, s := range c.strings {
		total += len(s) + 16 // string header + backing bytes
	}

	return total
}
