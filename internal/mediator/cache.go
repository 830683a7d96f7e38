package mediator

import (
	"sync"

	"github.com/pagewarden/pagewarden/internal/shared/types"
)

// assessmentCache memoizes assessments by content fingerprint. Agents
// revisit identical pages constantly; the verdict for identical input is
// identical by construction, so re-analysis is pure waste.
type assessmentCache struct {
	mu      sync.RWMutex
	max     int
	entries map[string]types.RiskAssessment
}

func newAssessmentCache(max int) *assessmentCache {
	if max <= 0 {
		max = 1024
	}
	return &assessmentCache{max: max, entries: make(map[string]types.RiskAssessment)}
}

func (c *assessmentCache) get(key string) (types.RiskAssessment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.entries[key]
	return a, ok
}

func (c *assessmentCache) put(key string, a types.RiskAssessment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Full reset on overflow keeps the hot path allocation-free; an LRU
	// buys little for fingerprint-keyed content.
	if len(c.entries) >= c.max {
		c.entries = make(map[string]types.RiskAssessment, c.max)
	}
	c.entries[key] = a
}
