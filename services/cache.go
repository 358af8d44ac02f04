package services

import (
	"container/list"
	"sync"
)

// DefaultProgressCacheSize bounds the number of jobs with live telemetry
const DefaultProgressCacheSize = 1024

type telemetry struct {
	jobID string
	speed string
	eta   string
}

// ProgressCache holds the latest speed and ETA labels per job for display.
// Entries are evicted least recently updated first once the cache is full.
type ProgressCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

// NewProgressCache creates a cache holding at most capacity jobs
func NewProgressCache(capacity int) *ProgressCache {
	if capacity <= 0 {
		capacity = DefaultProgressCacheSize
	}
	return &ProgressCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Set records the latest labels for jobID
func (c *ProgressCache) Set(jobID, speed, eta string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[jobID]; ok {
		t := el.Value.(*telemetry)
		t.speed, t.eta = speed, eta
		c.order.MoveToFront(el)
		return
	}

	c.entries[jobID] = c.order.PushFront(&telemetry{jobID: jobID, speed: speed, eta: eta})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*telemetry).jobID)
	}
}

// Get returns the labels for jobID, empty when unknown
func (c *ProgressCache) Get(jobID string) (speed, eta string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[jobID]; ok {
		t := el.Value.(*telemetry)
		return t.speed, t.eta
	}
	return "", ""
}

// Delete forgets jobID
func (c *ProgressCache) Delete(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[jobID]; ok {
		c.order.Remove(el)
		delete(c.entries, jobID)
	}
}

// Len returns the number of cached jobs
func (c *ProgressCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
