// Package offers holds the live set of driver offers for one ride
// session. The set is keyed by driver id: a repeated offer from the
// same driver replaces the previous one in place, keeping the position
// the driver was first seen at so the displayed list stays stable.
package offers

import (
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

type Collector struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]models.DriverOffer
	frozen bool
	logger *slog.Logger
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{byID: make(map[string]models.DriverOffer), logger: logger}
}

// Upsert inserts the offer or replaces the existing entry for the same
// driver. Returns true when this is a new driver. Once the collector is
// frozen, late offers are dropped and logged.
func (c *Collector) Upsert(o models.DriverOffer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		c.logger.Debug("dropping late offer", "driver_id", o.DriverID)
		return false
	}
	if _, ok := c.byID[o.DriverID]; !ok {
		c.order = append(c.order, o.DriverID)
		c.byID[o.DriverID] = o
		return true
	}
	c.byID[o.DriverID] = o
	return false
}

// Remove drops the entry for the driver; absent ids are a no-op.
func (c *Collector) Remove(driverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[driverID]; !ok {
		return
	}
	delete(c.byID, driverID)
	for i, id := range c.order {
		if id == driverID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Get returns the live offer for the driver, if any.
func (c *Collector) Get(driverID string) (models.DriverOffer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.byID[driverID]
	return o, ok
}

// List returns a snapshot in first-seen order. Safe to call repeatedly.
func (c *Collector) List() []models.DriverOffer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.DriverOffer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Freeze marks the session as decided; subsequent upserts are dropped.
func (c *Collector) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Clear empties the collection when the session ends.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.byID = make(map[string]models.DriverOffer)
}
