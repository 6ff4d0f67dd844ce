// Package writer implements the single writer pipeline stage: it drains
// durable write intents, groups them by container, and commits one
// write transaction per container per cycle.
package writer

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/errs"
	"github.com/cuemby/tagstore/pkg/kv"
	"github.com/cuemby/tagstore/pkg/log"
	"github.com/cuemby/tagstore/pkg/msg"
	"github.com/cuemby/tagstore/pkg/queue"
	"github.com/rs/zerolog"
)

// Config carries the writer's tunable (spec.md §6 implicit MAX_DEQUEUE).
type Config struct {
	MaxDequeue int
}

// DefaultConfig matches the teacher's conservative-default convention.
func DefaultConfig() Config {
	return Config{MaxDequeue: 512}
}

// Writer is the single durable-commit thread.
type Writer struct {
	Containers  *container.Cache
	WriterQueue *queue.Ring[msg.WriterBatch]
	Cfg         Config
	log         zerolog.Logger

	commits atomic.Uint64
	aborts  atomic.Uint64
}

// Commits and Aborts return the cumulative per-container commit/abort
// counts, read by the metrics collector.
func (w *Writer) Commits() uint64 { return w.commits.Load() }
func (w *Writer) Aborts() uint64  { return w.aborts.Load() }

// New builds a writer.
func New(containers *container.Cache, writerQueue *queue.Ring[msg.WriterBatch], cfg Config) *Writer {
	return &Writer{Containers: containers, WriterQueue: writerQueue, Cfg: cfg, log: log.WithStage("writer")}
}

// RunCycle drains up to Cfg.MaxDequeue writer batches, groups their
// entries by container, and commits one write transaction per
// container. Returns the number of entries successfully committed.
func (w *Writer) RunCycle() int {
	var batches []msg.WriterBatch
	for i := 0; i < w.Cfg.MaxDequeue; i++ {
		b, ok := w.WriterQueue.TryDequeue()
		if !ok {
			break
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		return 0
	}

	var order []string
	grouped := make(map[string][]msg.WriterEntry)
	for _, b := range batches {
		for _, e := range b.Entries {
			if _, ok := grouped[e.Container]; !ok {
				order = append(order, e.Container)
			}
			grouped[e.Container] = append(grouped[e.Container], e)
		}
	}

	committed := 0
	for _, name := range order {
		n, err := w.commitContainer(name, grouped[name])
		committed += n
		if err != nil {
			w.log.Warn().Err(err).Str("container", name).
				Int("entries", len(grouped[name])).
				Msg("batch commit failed; entries discarded for this cycle")
		}
	}
	return committed
}

func (w *Writer) commitContainer(name string, entries []msg.WriterEntry) (int, error) {
	cont, err := w.Containers.Get(name)
	if err != nil {
		return 0, err
	}
	defer w.Containers.Release(name)

	tx, err := cont.Env.BeginRw()
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if err := applyEntry(tx, e); err != nil {
			tx.Abort()
			w.aborts.Add(1)
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		w.aborts.Add(1)
		return 0, fmt.Errorf("writer: commit %s: %w", name, errs.ErrConsistencyFault)
	}
	w.commits.Add(1)

	for _, e := range entries {
		if e.BumpFlushVersion && e.FlushVersion != nil {
			e.FlushVersion.Store(e.Version)
		}
	}
	return len(entries), nil
}

// applyEntry writes one entry according to its write condition. On
// NO_OVERWRITE and INT32_GREATER_THAN misses the entry is simply not
// written; this is not an error — it is the condition doing its job.
func applyEntry(tx *kv.Tx, e msg.WriterEntry) error {
	switch e.Condition {
	case msg.WriteAlways:
		_, err := tx.Put(e.DBName, e.Key, e.Value, false)
		return err

	case msg.WriteNoOverwrite:
		_, err := tx.Put(e.DBName, e.Key, e.Value, true)
		return err

	case msg.WriteInt32GreaterThan:
		cur, found, err := tx.Get(e.DBName, e.Key)
		if err != nil {
			return err
		}
		if found && len(cur) == 4 {
			curVal := binary.BigEndian.Uint32(cur)
			if len(e.Value) != 4 {
				return fmt.Errorf("writer: INT32_GREATER_THAN value must be 4 bytes: %w", errs.ErrInvalidInput)
			}
			newVal := binary.BigEndian.Uint32(e.Value)
			if newVal <= curVal {
				return nil
			}
		}
		_, err = tx.Put(e.DBName, e.Key, e.Value, false)
		return err

	case msg.WriteIndexPut:
		if len(e.Value) != 4 {
			return fmt.Errorf("writer: index put value must be a 4-byte event id: %w", errs.ErrInvalidInput)
		}
		return tx.IndexPut(e.DBName, e.Key.Encode(), binary.BigEndian.Uint32(e.Value))

	default:
		return fmt.Errorf("writer: unknown write condition %d: %w", e.Condition, errs.ErrConsistencyFault)
	}
}
