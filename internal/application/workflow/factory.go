package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/workflow-engine/internal/application/port"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// graphCache compiles definitions on first use. Only the transition graph is
// kept: it cannot change once instances run against a definition, while the
// header (status in particular) can, so callers needing it reload it.
// Expiry bounds memory for idle definitions.
type graphCache struct {
	repo   port.DefinitionRepository
	expiry time.Duration
	now    func() time.Time

	mu         sync.RWMutex
	entries    map[string]*domainwf.Graph
	lastAccess map[string]time.Time
}

func newGraphCache(repo port.DefinitionRepository, expiry time.Duration, now func() time.Time) *graphCache {
	return &graphCache{
		repo:       repo,
		expiry:     expiry,
		now:        now,
		entries:    make(map[string]*domainwf.Graph),
		lastAccess: make(map[string]time.Time),
	}
}

func (c *graphCache) get(ctx context.Context, definitionID string) (*domainwf.Graph, error) {
	c.mu.RLock()
	entry, exists := c.entries[definitionID]
	last := c.lastAccess[definitionID]
	c.mu.RUnlock()

	if exists && c.now().Sub(last) < c.expiry {
		c.mu.Lock()
		c.lastAccess[definitionID] = c.now()
		c.mu.Unlock()
		return entry, nil
	}

	def, err := c.repo.GetByID(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: definition %s", domainwf.ErrNotFound, definitionID)
	}

	entry, err = domainwf.NewGraph(def)
	if err != nil {
		return nil, fmt.Errorf("definition %s does not compile: %w", definitionID, err)
	}

	c.mu.Lock()
	c.entries[definitionID] = entry
	c.lastAccess[definitionID] = c.now()
	c.sweepLocked()
	c.mu.Unlock()

	return entry, nil
}

func (c *graphCache) sweepLocked() {
	now := c.now()
	for id, last := range c.lastAccess {
		if now.Sub(last) >= c.expiry {
			delete(c.entries, id)
			delete(c.lastAccess, id)
		}
	}
}
