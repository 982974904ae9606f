package utils

import (
	"sync"
	"time"

	"psu-logger/internal/model"
)

// SampleCache keeps the most recent sample and reports it as stale once it
// is older than the TTL. It is safe for concurrent use.
type SampleCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	sample model.Sample
	at     time.Time
	set    bool
	now    func() time.Time
}

// NewSampleCache creates a cache with the given TTL. If ttl <= 0, it defaults to 1m.
func NewSampleCache(ttl time.Duration) *SampleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SampleCache{ttl: ttl, now: time.Now}
}

// Get returns the cached sample if one exists and hasn't expired.
func (c *SampleCache) Get() (model.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return model.Sample{}, false
	}
	if c.now().Sub(c.at) > c.ttl {
		c.set = false
		return model.Sample{}, false
	}
	return c.sample, true
}

// ObserveSample stores s; it lets the cache sit directly on a sampling loop.
func (c *SampleCache) ObserveSample(s model.Sample) {
	c.mu.Lock()
	c.sample = s
	c.at = c.now()
	c.set = true
	c.mu.Unlock()
}

// SetTTL updates the cache TTL for subsequent Get checks.
func (c *SampleCache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}
