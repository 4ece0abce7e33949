package repository

import (
	"sync"

	"github.com/alitto/pond"
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/sirupsen/logrus"
)

// ProcessCache - bounds the number of fast-import processes running at once,
// closing the least recently used when a new one is needed
type ProcessCache struct {
	logger *logrus.Logger
	max    int
	mu     sync.Mutex
	lru    *linkedhashmap.Map // *FastImport -> struct{}, least recently used first
}

// NewProcessCache - at most max processes, 100 if max is not positive
func NewProcessCache(logger *logrus.Logger, max int) *ProcessCache {
	if max <= 0 {
		max = 100
	}
	return &ProcessCache{logger: logger, max: max, lru: linkedhashmap.New()}
}

// Touch marks r as most recently used, closing another repository's process if the cache is full
func (c *ProcessCache) Touch(r *FastImport) error {
	c.mu.Lock()
	var victim *FastImport
	if _, found := c.lru.Get(r); found {
		c.lru.Remove(r)
	} else if c.lru.Size() >= c.max {
		victim = c.lru.Keys()[0].(*FastImport)
		c.lru.Remove(victim)
	}
	c.lru.Put(r, struct{}{})
	c.mu.Unlock()

	if victim != nil {
		c.logger.Debugf("Closing fast-import for repository %s to make room for %s", victim.name, r.name)
		return victim.closeFastImport()
	}
	return nil
}

// Remove forgets r, called once its process has been closed
func (c *ProcessCache) Remove(r *FastImport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(r)
}

// Len - number of running processes
func (c *ProcessCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Size()
}

// CloseAll closes every running process in parallel, returning the first error
func (c *ProcessCache) CloseAll() error {
	c.mu.Lock()
	repos := make([]*FastImport, 0, c.lru.Size())
	for _, k := range c.lru.Keys() {
		repos = append(repos, k.(*FastImport))
	}
	c.mu.Unlock()
	if len(repos) == 0 {
		return nil
	}

	var errMu sync.Mutex
	var firstErr error
	pool := pond.New(len(repos), 0)
	for _, r := range repos {
		r := r
		pool.Submit(func() {
			c.logger.Debugf("Closing fast-import for repository %s", r.name)
			if err := r.closeFastImport(); err != nil {
				c.logger.Errorf("Closing repository %s: %v", r.name, err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		})
	}
	pool.StopAndWait()
	return firstErr
}
