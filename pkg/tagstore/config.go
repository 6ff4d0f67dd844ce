// Package tagstore wires the storage substrate, container layer, bitmap
// cache, queues, and the worker/consumer/writer/query stages into the
// single Core entry point the rest of the system drives.
//
// This replaces the source's global singletons (g_container_cache,
// g_next_entity_id, g_event_id_counters) with one explicit core-context
// value constructed at startup and passed by reference into every stage,
// per the Design Notes redesign flag.
package tagstore

import "time"

// Config enumerates every tunable spec.md §6 names.
type Config struct {
	DataDir               string
	ContainerInitialSize  int64
	NumWorkers            int
	NumConsumers          int
	OpQueuesPerConsumer   int
	CmdQueueCapacity      int
	OpQueueCapacity       int
	WriterQueueCapacity   int
	CacheCapacityPerShard int
	FlushEveryNCycles     int
	EventIDReservationBlockSize uint32
	SyncIntervalEvents    int
	SpinLimit             int
	MaxSleepMs            int
}

// DefaultConfig mirrors the teacher's habit of a fully-populated default
// constructor for its manager/worker config types.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:                     dataDir,
		ContainerInitialSize:        1 << 30,
		NumWorkers:                  4,
		NumConsumers:                4,
		OpQueuesPerConsumer:         2,
		CmdQueueCapacity:            1024,
		OpQueueCapacity:             1024,
		WriterQueueCapacity:         4096,
		CacheCapacityPerShard:       4096,
		FlushEveryNCycles:           16,
		EventIDReservationBlockSize: 1024,
		SyncIntervalEvents:          1000,
		SpinLimit:                   1000,
		MaxSleepMs:                  64,
	}
}

func (c Config) maxSleep() time.Duration {
	return time.Duration(c.MaxSleepMs) * time.Millisecond
}
