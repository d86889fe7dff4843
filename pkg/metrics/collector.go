package metrics

import (
	"time"

	"github.com/cuemby/squares/pkg/types"
)

// Stats is a point-in-time view of the aggregates
type Stats struct {
	Reactions          map[types.Color]int
	CachedMessages     int
	SquareboardEntries int
}

// StatsSource provides the stats sampled by the collector
type StatsSource interface {
	Stats() Stats
}

// Collector periodically publishes aggregate sizes as gauges
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.source.Stats()

	for _, color := range types.Colors {
		ReactionsTotal.WithLabelValues(color.String()).Set(float64(stats.Reactions[color]))
	}
	CachedMessagesTotal.Set(float64(stats.CachedMessages))
	SquareboardEntriesTotal.Set(float64(stats.SquareboardEntries))
}
