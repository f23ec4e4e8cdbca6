// Package errorcounter keeps an in-memory tally of failures keyed by label,
// used by replay runs to attribute failed executions per command.
package errorcounter

import (
	"strings"
	"sync"
)

// New creates and returns a Counter with an initialised internal store ready for use.
func New() *Counter {
	return &Counter{
		store: make(map[string]int),
	}
}

type Counter struct {
	mu    sync.Mutex
	store map[string]int
}

func (c *Counter) Add(labels ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.Join(labels, "-")
	c.store[key] += 1
	return c.store[key]
}

func (c *Counter) Count(labels ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store[strings.Join(labels, "-")]
}

// Counts returns a copy of the full tally.
func (c *Counter) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.store))
	for k, v := range c.store {
		out[k] = v
	}

	return out
}

func (c *Counter) Clear(labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store[strings.Join(labels, "-")] = 0
}
