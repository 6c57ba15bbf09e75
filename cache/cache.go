// Package cache keeps a cache of connection info records.
package cache

import (
	"log"

	"github.com/GuangguanWang/smc-tools/metrics"
	"github.com/GuangguanWang/smc-tools/netlink"
)

// Cache is a cache of all connection status.
type Cache struct {
	// Maps from socket cookie to ArchivalRecord.
	current  map[uint64]*netlink.ArchivalRecord // Cache of most recent messages.
	previous map[uint64]*netlink.ArchivalRecord // Cache of previous round of messages.
	cycles   int64
}

// NewCache creates a cache object with capacity of 1000.
func NewCache() *Cache {
	return &Cache{current: make(map[uint64]*netlink.ArchivalRecord, 1000),
		previous: make(map[uint64]*netlink.ArchivalRecord, 0)}
}

// Update adds the record to the current cycle, and returns the matching
// record from the previous cycle, or nil if the connection is new.
func (c *Cache) Update(msg *netlink.ArchivalRecord) *netlink.ArchivalRecord {
	sdm, err := msg.RawSDM.Parse()
	if err != nil {
		log.Println(err)
		return nil
	}
	cookie := sdm.ID.Cookie()
	c.current[cookie] = msg
	evicted := c.previous[cookie]
	delete(c.previous, cookie)
	return evicted
}

// CycleCount returns the number of cycles completed so far.
func (c *Cache) CycleCount() int64 {
	return c.cycles
}

// EndCycle marks the completion of updates from one set of netlink messages.
// It returns the records for all connections that were not seen in the
// cycle just completed, i.e. connections that have closed.
func (c *Cache) EndCycle() map[uint64]*netlink.ArchivalRecord {
	metrics.CacheSizeHistogram.Observe(float64(len(c.current)))
	residual := c.previous
	c.previous = c.current
	// Allocate a new map with room for a bit of churn.
	c.current = make(map[uint64]*netlink.ArchivalRecord, len(c.previous)+len(c.previous)/10+10)
	c.cycles++
	return residual
}
