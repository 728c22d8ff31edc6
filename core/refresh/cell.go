package refresh

import (
	"errors"
	"sync"
)

// ErrSuperseded is returned by a reload whose batch settled after a newer
// batch had started. Its results were dropped.
var ErrSuperseded = errors.New("reload superseded by a newer trigger")

// Cell holds the last published snapshot of a cache. Every reload takes a
// token from Begin and may only publish while its token is still the latest;
// older batches are dropped when they settle rather than cancelled.
type Cell[T any] struct {
	mu     sync.Mutex
	latest uint64
	value  T
}

func (c *Cell[T]) Begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest++
	return c.latest
}

// Rebind is Begin for a batch built from new inputs: when keep rejects the
// published value it is replaced by empty before the batch starts, so a
// failed batch never leaves a value from other inputs behind.
func (c *Cell[T]) Rebind(keep func(T) bool, empty T) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !keep(c.value) {
		c.value = empty
	}
	c.latest++
	return c.latest
}

// Publish stores v if token is still the latest and reports whether it did.
func (c *Cell[T]) Publish(token uint64, v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.latest {
		return false
	}
	c.value = v
	return true
}

// Reset supersedes every in-flight batch and stores v.
func (c *Cell[T]) Reset(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest++
	c.value = v
}

func (c *Cell[T]) Load() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
