package tagstore

// Stats is a point-in-time snapshot of pipeline health, read by the
// metrics exporter (see pkg/metrics) and by readiness checks.
type Stats struct {
	CmdQueueDepths []int
	OpQueueDepths  []int
	WriterQueueLen int

	ConsumerCacheLen    []int
	ConsumerCacheDirty  []int
	ConsumerEBRPending  []int
	ConsumerFlushBatches []uint64
	ConsumerCacheHits   []uint64
	ConsumerCacheMisses []uint64

	WriterCommits uint64
	WriterAborts  uint64

	OpenContainers int
}

// Stats takes a consistent-enough snapshot for monitoring purposes;
// individual fields are read without a shared lock, matching every
// Len()/Pending() accessor's own "best-effort, for metrics only" contract.
func (c *Core) Stats() Stats {
	s := Stats{
		CmdQueueDepths:       make([]int, len(c.cmdQueues)),
		OpQueueDepths:        make([]int, len(c.opQueues)),
		ConsumerCacheLen:     make([]int, len(c.consumers)),
		ConsumerCacheDirty:   make([]int, len(c.consumers)),
		ConsumerEBRPending:   make([]int, len(c.consumers)),
		ConsumerFlushBatches: make([]uint64, len(c.consumers)),
		ConsumerCacheHits:    make([]uint64, len(c.consumers)),
		ConsumerCacheMisses:  make([]uint64, len(c.consumers)),
	}
	for i, q := range c.cmdQueues {
		s.CmdQueueDepths[i] = q.Len()
	}
	for i, q := range c.opQueues {
		s.OpQueueDepths[i] = q.Len()
	}
	s.WriterQueueLen = c.wq.Len()
	for i, cons := range c.consumers {
		s.ConsumerCacheLen[i] = cons.Cache.Len()
		s.ConsumerCacheDirty[i] = cons.Cache.DirtyCount()
		s.ConsumerEBRPending[i] = cons.Cache.EBR.Pending()
		s.ConsumerFlushBatches[i] = cons.FlushBatches()
		s.ConsumerCacheHits[i] = cons.Cache.Hits()
		s.ConsumerCacheMisses[i] = cons.Cache.Misses()
	}
	s.WriterCommits = c.wr.Commits()
	s.WriterAborts = c.wr.Aborts()
	s.OpenContainers = c.containers.Len()
	return s
}
