// Package consumer implements the consumer pipeline stage: it drains
// per-key bitmap operations, applies them to the in-memory bitmap cache
// with copy-on-write semantics, and periodically flushes dirty entries
// to the writer.
package consumer

import (
	"fmt"
	"sync/atomic"

	"github.com/cuemby/tagstore/pkg/bmap"
	"github.com/cuemby/tagstore/pkg/cache"
	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/kv"
	"github.com/cuemby/tagstore/pkg/log"
	"github.com/cuemby/tagstore/pkg/msg"
	"github.com/cuemby/tagstore/pkg/queue"
	"github.com/google/btree"
	"github.com/rs/zerolog"
)

// Config carries a consumer's tunables (spec.md §6/§4.7).
type Config struct {
	MaxBatch         int
	FlushEveryN      int
	ReclaimThreshold int
}

// DefaultConfig matches the teacher's pattern of a conservative default
// constructor alongside the Config type.
func DefaultConfig() Config {
	return Config{MaxBatch: 256, FlushEveryN: 16, ReclaimThreshold: 64}
}

// Consumer owns a contiguous slice of op-queues and one bitmap cache.
type Consumer struct {
	ID          int
	OpQueues    []*queue.Ring[msg.OpMsg]
	Cache       *cache.Cache
	Containers  *container.Cache
	WriterQueue *queue.Ring[msg.WriterBatch]
	Cfg         Config

	cycles       int
	flushBatches atomic.Uint64
	log          zerolog.Logger
}

// New builds a consumer over opQueues (its owned contiguous slice) and a
// freshly-constructed local bitmap cache of the given capacity.
func New(id int, opQueues []*queue.Ring[msg.OpMsg], cacheCapacity int, containers *container.Cache,
	writerQueue *queue.Ring[msg.WriterBatch], cfg Config) *Consumer {
	return &Consumer{
		ID: id, OpQueues: opQueues, Cache: cache.New(cacheCapacity),
		Containers: containers, WriterQueue: writerQueue, Cfg: cfg,
		log: log.WithStage("consumer").With().Int("consumer_id", id).Logger(),
	}
}

type batchEntry struct {
	serKey    string
	container string
	dbName    string
	dbKey     kv.Key
	ops       []msg.OpMsg
}

func lessBatchEntry(a, b *batchEntry) bool { return a.serKey < b.serKey }

// RunCycle drains up to Cfg.MaxBatch ops per queue, applies them, and
// (on the configured cadence) flushes dirty entries and reclaims retired
// bitmaps. Returns the number of ops applied.
func (c *Consumer) RunCycle() int {
	bt := btree.NewG(32, lessBatchEntry)

	for _, q := range c.OpQueues {
		for i := 0; i < c.Cfg.MaxBatch; i++ {
			op, ok := q.TryDequeue()
			if !ok {
				break
			}
			probe := &batchEntry{serKey: op.SerKey}
			e, found := bt.Get(probe)
			if !found {
				e = &batchEntry{serKey: op.SerKey, container: op.Container, dbName: op.DBName, dbKey: op.DBKey}
				bt.ReplaceOrInsert(e)
			}
			e.ops = append(e.ops, op)
		}
	}

	entries := make([]*batchEntry, 0, bt.Len())
	bt.Ascend(func(e *batchEntry) bool {
		entries = append(entries, e)
		return true
	})

	applied := 0
	i := 0
	for i < len(entries) {
		name := entries[i].container
		j := i
		for j < len(entries) && entries[j].container == name {
			j++
		}
		applied += c.processContainerBatch(name, entries[i:j])
		i = j
	}

	c.cycles++
	if c.cycles%c.Cfg.FlushEveryN == 0 {
		c.flush()
	}
	if c.Cache.EBR.Pending() >= c.Cfg.ReclaimThreshold {
		c.Cache.EBR.Poll()
	}
	return applied
}

func (c *Consumer) processContainerBatch(name string, entries []*batchEntry) int {
	cont, err := c.Containers.Get(name)
	if err != nil {
		c.log.Warn().Err(err).Str("container", name).Msg("dropping batch: container unavailable")
		return 0
	}
	defer c.Containers.Release(name)

	tx, err := cont.Env.BeginRo()
	if err != nil {
		c.log.Warn().Err(err).Str("container", name).Msg("dropping batch: read txn failed")
		return 0
	}
	defer tx.Abort()

	applied := 0
	for _, e := range entries {
		if err := c.applyEntry(tx, e); err != nil {
			c.log.Warn().Err(err).Str("ser_key", e.serKey).Msg("skipping key for this cycle")
			continue
		}
		applied += len(e.ops)
	}
	return applied
}

func (c *Consumer) applyEntry(tx *kv.Tx, e *batchEntry) error {
	if existing, ok := c.Cache.GetForWrite(e.serKey); ok {
		next := existing.Bitmap.Clone()
		applyOps(next, e.ops)
		c.Cache.Swap(existing, next)
		c.Cache.MarkDirty(existing)
		return nil
	}

	v, found, err := tx.Get(e.dbName, e.dbKey)
	if err != nil {
		return err
	}
	var bm *bmap.Bitmap
	if found {
		bm, err = bmap.Deserialize(v)
		if err != nil {
			return fmt.Errorf("consumer: deserialize cached key %s: %w", e.serKey, err)
		}
	} else {
		bm = bmap.New()
	}
	applyOps(bm, e.ops)

	entry := &cache.Entry{Key: e.serKey, Bitmap: bm}
	entry.Version.Store(1)
	if err := c.Cache.Insert(entry); err != nil {
		return err
	}
	c.Cache.MarkDirty(entry)
	return nil
}

func applyOps(bm *bmap.Bitmap, ops []msg.OpMsg) {
	for _, op := range ops {
		switch op.Kind {
		case msg.OpBitmapAddValue:
			bm.Add(op.Value)
		case msg.OpBitmapRemoveValue:
			bm.Remove(op.Value)
		}
	}
}

// flush serializes every dirty entry and enqueues one writer batch
// covering the whole cycle.
func (c *Consumer) flush() {
	dirty := c.Cache.DrainDirty()
	if len(dirty) == 0 {
		return
	}

	entries := make([]msg.WriterEntry, 0, len(dirty))
	for _, e := range dirty {
		data, err := e.Bitmap.Serialize()
		if err != nil {
			c.log.Warn().Err(err).Str("key", e.Key).Msg("skipping flush: serialize failed")
			continue
		}
		contName, dbName, dbKey := splitSerKey(e.Key)
		entries = append(entries, msg.WriterEntry{
			Container: contName, DBName: dbName, Key: dbKey, Value: data,
			Condition: msg.WriteAlways, BumpFlushVersion: true,
			Version: e.Version.Load(), FlushVersion: &e.FlushVersion,
		})
	}
	if len(entries) == 0 {
		return
	}
	if err := c.WriterQueue.TryEnqueue(msg.WriterBatch{Entries: entries}); err != nil {
		// The enqueue failed, so put the drained entries back on the
		// dirty list for the next flush.
		for _, e := range dirty {
			c.Cache.MarkDirty(e)
		}
		c.log.Warn().Err(err).Msg("writer queue full; flush batch dropped for this cycle")
		return
	}
	c.flushBatches.Add(1)
}

// FlushBatches returns the cumulative number of flush batches
// successfully enqueued to the writer, read by the metrics collector.
func (c *Consumer) FlushBatches() uint64 { return c.flushBatches.Load() }

// splitSerKey recovers (container, db-name, db-key) from a canonical
// "<container>|<db-kind>|<tag>:<value>" cache key for flush purposes.
// db-kind is always the inverted event index in this pipeline, so the
// db-key portion is everything after the second '|'.
func splitSerKey(serKey string) (string, string, kv.Key) {
	firstSep := -1
	secondSep := -1
	for i := 0; i < len(serKey); i++ {
		if serKey[i] == '|' {
			if firstSep == -1 {
				firstSep = i
			} else {
				secondSep = i
				break
			}
		}
	}
	if firstSep == -1 || secondSep == -1 {
		return serKey, container.DBInvertedEventIndex, kv.StrKey(serKey)
	}
	containerName := serKey[:firstSep]
	tagPart := serKey[secondSep+1:]
	return containerName, container.DBInvertedEventIndex, kv.StrKey(tagPart)
}
