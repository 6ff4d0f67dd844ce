package metrics

import (
	"strconv"
	"time"

	"github.com/cuemby/tagstore/pkg/tagstore"
)

// Collector polls a Core's stage accessors on a fixed interval and pushes
// the values into the package's Prometheus gauges. No domain package
// imports this one; Collector reaches outward into Core instead.
type Collector struct {
	core   *tagstore.Core
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over core.
func NewCollector(core *tagstore.Core) *Collector {
	return &Collector{core: core, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds, starting immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	s := c.core.Stats()

	for i, depth := range s.CmdQueueDepths {
		CmdQueueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(depth))
	}
	for i, depth := range s.OpQueueDepths {
		OpQueueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(depth))
	}
	WriterQueueDepth.Set(float64(s.WriterQueueLen))

	for i := range s.ConsumerCacheLen {
		label := strconv.Itoa(i)
		ConsumerCacheEntries.WithLabelValues(label).Set(float64(s.ConsumerCacheLen[i]))
		ConsumerCacheDirty.WithLabelValues(label).Set(float64(s.ConsumerCacheDirty[i]))
		ConsumerEBRPending.WithLabelValues(label).Set(float64(s.ConsumerEBRPending[i]))
		ConsumerFlushBatchesTotal.WithLabelValues(label).Set(float64(s.ConsumerFlushBatches[i]))
		ConsumerCacheHitsTotal.WithLabelValues(label).Set(float64(s.ConsumerCacheHits[i]))
		ConsumerCacheMissesTotal.WithLabelValues(label).Set(float64(s.ConsumerCacheMisses[i]))
	}

	WriterCommitsTotal.Set(float64(s.WriterCommits))
	WriterAbortsTotal.Set(float64(s.WriterAborts))
	OpenContainers.Set(float64(s.OpenContainers))
}
