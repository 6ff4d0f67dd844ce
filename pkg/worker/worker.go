// Package worker implements the worker pipeline stage: it resolves an
// event's entity id, allocates its event id, writes the durable event
// body, and fans out one bitmap operation per custom tag to the
// consumer stage.
package worker

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"time"

	"github.com/cuemby/tagstore/pkg/ast"
	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/errs"
	"github.com/cuemby/tagstore/pkg/ids"
	"github.com/cuemby/tagstore/pkg/kv"
	"github.com/cuemby/tagstore/pkg/log"
	"github.com/cuemby/tagstore/pkg/msg"
	"github.com/cuemby/tagstore/pkg/queue"
	"github.com/cuemby/tagstore/pkg/registry"
	"github.com/cuemby/tagstore/pkg/route"
	"github.com/cuemby/tagstore/pkg/tagkey"
	"github.com/cuemby/tagstore/pkg/wire"
	"github.com/rs/zerolog"
)

// RegistryLookup returns the live index registry for a container name,
// opening the container as a side effect if it is not already cached.
type RegistryLookup func(containerName string) (*registry.Registry, error)

// Config carries a worker's tunables (spec.md §6 spin_limit, max_sleep_ms).
type Config struct {
	SpinLimit int
	MaxSleep  time.Duration
	// WriterEnqueueRetries bounds how many times a full writer_queue or
	// op_queue is retried with a short sleep before the command fails
	// with ErrResourceExhausted.
	WriterEnqueueRetries int
}

// DefaultConfig mirrors the teacher's habit of giving every stage a
// conservative, documented default.
func DefaultConfig() Config {
	return Config{SpinLimit: 1000, MaxSleep: 64 * time.Millisecond, WriterEnqueueRetries: 8}
}

// Worker pulls validated event commands off its cmd_queue and
// drives them through id resolution, durable-write emission, and
// op fan-out.
type Worker struct {
	ID int

	Sys        *container.Container
	Containers *container.Cache
	Registries RegistryLookup
	IDs        *ids.Manager
	Resolver   *ids.Resolver

	CmdQueue          *queue.Ring[msg.CmdMsg]
	OpQueues          []*queue.Ring[msg.OpMsg]
	WriterQueue       *queue.Ring[msg.WriterBatch]
	QueuesPerConsumer int

	Cfg Config
	log zerolog.Logger

	entityCache map[string]uint32
	open        map[string]*container.Container
}

// New builds a worker. opQueues must have a power-of-two length.
func New(id int, sys *container.Container, containers *container.Cache, registries RegistryLookup,
	idMgr *ids.Manager, resolver *ids.Resolver, cmdQueue *queue.Ring[msg.CmdMsg],
	opQueues []*queue.Ring[msg.OpMsg], queuesPerConsumer int, writerQueue *queue.Ring[msg.WriterBatch], cfg Config) *Worker {
	return &Worker{
		ID: id, Sys: sys, Containers: containers, Registries: registries,
		IDs: idMgr, Resolver: resolver, CmdQueue: cmdQueue, OpQueues: opQueues,
		QueuesPerConsumer: queuesPerConsumer, WriterQueue: writerQueue, Cfg: cfg,
		log:         log.WithStage("worker").With().Int("worker_id", id).Logger(),
		entityCache: make(map[string]uint32),
		open:        make(map[string]*container.Container),
	}
}

// Run drives the worker loop until stop is closed, then drains any
// commands already queued before returning.
func (w *Worker) Run(stop <-chan struct{}) {
	spins := 0
	sleep := time.Millisecond
	for {
		select {
		case <-stop:
			for {
				m, ok := w.CmdQueue.TryDequeue()
				if !ok {
					break
				}
				w.process(m)
			}
			w.releaseAll()
			return
		default:
		}

		m, ok := w.CmdQueue.TryDequeue()
		if !ok {
			spins++
			if spins < w.Cfg.SpinLimit {
				runtime.Gosched()
				continue
			}
			time.Sleep(sleep)
			sleep *= 2
			if sleep > w.Cfg.MaxSleep {
				sleep = w.Cfg.MaxSleep
			}
			continue
		}
		spins = 0
		sleep = time.Millisecond
		w.process(m)
	}
}

func (w *Worker) releaseAll() {
	for name := range w.open {
		w.Containers.Release(name)
	}
	w.open = make(map[string]*container.Container)
}

func (w *Worker) getContainer(name string) (*container.Container, error) {
	if c, ok := w.open[name]; ok {
		return c, nil
	}
	c, err := w.Containers.Get(name)
	if err != nil {
		return nil, err
	}
	w.open[name] = c
	return c, nil
}

func (w *Worker) process(m msg.CmdMsg) {
	cmd := m.Cmd
	eventID, err := w.handleEvent(cmd)
	if m.Result != nil {
		m.Result <- msg.CmdResult{EventID: eventID, Err: err}
	}
	if err != nil {
		w.log.Warn().Err(err).Str("container", cmd.Container).Msg("command failed")
	}
}

func (w *Worker) handleEvent(cmd *ast.Command) (uint32, error) {
	if cmd.Kind != CommandKindEvent {
		return 0, fmt.Errorf("worker: unsupported command kind %d: %w", cmd.Kind, errs.ErrInvalidInput)
	}
	if err := validateTags(cmd.Tags); err != nil {
		return 0, err
	}

	cont, err := w.getContainer(cmd.Container)
	if err != nil {
		return 0, err
	}

	entityID, err := w.resolveEntity(cmd.Entity)
	if err != nil {
		return 0, err
	}

	eventID, err := w.IDs.NextEventID(cont)
	if err != nil {
		return 0, err
	}

	evtEntBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(evtEntBuf, entityID)
	if err := cont.EvtEnt.Set(int64(eventID), evtEntBuf); err != nil {
		return 0, err
	}

	reg, err := w.Registries(cmd.Container)
	if err != nil {
		return 0, err
	}

	entries := w.buildWriterEntries(cmd, cont.Name, eventID, reg)
	if err := w.enqueueWriterBatch(entries); err != nil {
		return 0, err
	}

	if err := w.emitOps(cmd, cont.Name, eventID); err != nil {
		return 0, err
	}

	return eventID, nil
}

func (w *Worker) resolveEntity(entity string) (uint32, error) {
	if id, ok := w.entityCache[entity]; ok {
		return id, nil
	}
	id, _, err := w.Resolver.ResolveID(entity)
	if err != nil {
		return 0, err
	}
	w.entityCache[entity] = id
	return id, nil
}

// buildWriterEntries assembles the single writer batch spec.md §4.6 step
// 4 describes: the serialized event record, the resolver's any-pending
// str->entity-id mapping, and one secondary-index entry per registered
// tag present on the event.
func (w *Worker) buildWriterEntries(cmd *ast.Command, containerName string, eventID uint32, reg *registry.Registry) []msg.WriterEntry {
	fields := []wire.Field{
		{Name: "id", Type: wire.FieldInt, Int: int64(eventID)},
		{Name: "in", Type: wire.FieldStr, Str: containerName},
		{Name: "entity", Type: wire.FieldStr, Str: cmd.Entity},
	}
	for _, t := range cmd.Tags {
		if t.Value.Type == ast.ValInt {
			fields = append(fields, wire.Field{Name: t.Key, Type: wire.FieldInt, Int: t.Value.Int})
		} else {
			fields = append(fields, wire.Field{Name: t.Key, Type: wire.FieldStr, Str: t.Value.Str})
		}
	}
	body := wire.Encode(fields)

	entries := []msg.WriterEntry{
		{Container: containerName, DBName: container.DBEvents, Key: kv.U32Key(eventID), Value: body, Condition: msg.WriteAlways},
	}

	for _, p := range w.Resolver.DrainDirty() {
		idBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(idBuf, p.PendingID())
		entries = append(entries, msg.WriterEntry{
			Container: container.SystemName, DBName: container.DBStrToEntityID,
			Key: kv.StrKey(p.PendingStr()), Value: idBuf, Condition: msg.WriteNoOverwrite,
		})
	}

	eventIDBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(eventIDBuf, eventID)
	for _, t := range cmd.Tags {
		entry, ok := reg.Lookup(t.Key)
		if !ok {
			continue
		}
		var idxKey kv.Key
		switch entry.Type {
		case registry.ValueI64:
			idxKey = kv.I64Key(t.Value.Int)
		default:
			idxKey = kv.StrKey(t.Value.Str)
		}
		entries = append(entries, msg.WriterEntry{
			Container: containerName, DBName: container.IndexDBName(t.Key),
			Key: idxKey, Value: eventIDBuf, Condition: msg.WriteIndexPut,
		})
	}

	return entries
}

func (w *Worker) emitOps(cmd *ast.Command, containerName string, eventID uint32) error {
	total := len(w.OpQueues)
	for _, t := range cmd.Tags {
		valueStr := t.Value.Str
		if t.Value.Type == ast.ValInt {
			valueStr = fmt.Sprintf("%d", t.Value.Int)
		}
		serKey := tagkey.Build(containerName, tagkey.DBKindInvertedIndex, t.Key, valueStr)
		op := msg.OpMsg{
			Container: containerName,
			DBName:    container.DBInvertedEventIndex,
			DBKey:     kv.StrKey(tagkey.Tag(t.Key, valueStr)),
			SerKey:    serKey,
			Kind:      msg.OpBitmapAddValue,
			Target:    msg.TargetBitmap,
			Value:     eventID,
		}
		idx := route.IndexString(serKey, total)
		if err := w.trySend(w.OpQueues[idx], op); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) enqueueWriterBatch(entries []msg.WriterEntry) error {
	return w.trySendWriter(msg.WriterBatch{Entries: entries})
}

func (w *Worker) trySend(ring *queue.Ring[msg.OpMsg], op msg.OpMsg) error {
	sleep := time.Millisecond
	for attempt := 0; attempt <= w.Cfg.WriterEnqueueRetries; attempt++ {
		if err := ring.TryEnqueue(op); err == nil {
			return nil
		}
		time.Sleep(sleep)
		sleep *= 2
	}
	return fmt.Errorf("worker: op queue full after retries: %w", errs.ErrResourceExhausted)
}

func (w *Worker) trySendWriter(batch msg.WriterBatch) error {
	sleep := time.Millisecond
	for attempt := 0; attempt <= w.Cfg.WriterEnqueueRetries; attempt++ {
		if err := w.WriterQueue.TryEnqueue(batch); err == nil {
			return nil
		}
		time.Sleep(sleep)
		sleep *= 2
	}
	return fmt.Errorf("worker: writer queue full after retries: %w", errs.ErrResourceExhausted)
}

// CommandKindEvent mirrors ast.KindEvent; declared locally so callers
// constructing test commands do not need the ast import just to compare.
const CommandKindEvent = ast.KindEvent

func validateTags(tags []ast.Tag) error {
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if _, dup := seen[t.Key]; dup {
			return fmt.Errorf("worker: duplicate custom tag %q: %w", t.Key, errs.ErrInvalidInput)
		}
		seen[t.Key] = struct{}{}
	}
	return nil
}
