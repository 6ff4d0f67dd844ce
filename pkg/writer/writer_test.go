package writer

import (
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/kv"
	"github.com/cuemby/tagstore/pkg/msg"
	"github.com/cuemby/tagstore/pkg/queue"
)

func newTestContainers(t *testing.T) *container.Cache {
	t.Helper()
	dir := t.TempDir()
	return container.NewCache(4, func(name string) (*container.Container, error) {
		return container.OpenUser(container.Config{DataDir: dir}, name)
	})
}

func TestRunCycleCommitsAndBumpsFlushVersion(t *testing.T) {
	containers := newTestContainers(t)
	writerQueue, _ := queue.NewRing[msg.WriterBatch](4)

	var flushVersion atomic.Uint64
	entry := msg.WriterEntry{
		Container: "metrics", DBName: container.DBEvents, Key: kv.U32Key(1),
		Value: []byte("event-body"), Condition: msg.WriteAlways,
		BumpFlushVersion: true, Version: 7, FlushVersion: &flushVersion,
	}
	if err := writerQueue.TryEnqueue(msg.WriterBatch{Entries: []msg.WriterEntry{entry}}); err != nil {
		t.Fatalf("enqueue batch: %v", err)
	}

	w := New(containers, writerQueue, DefaultConfig())
	committed := w.RunCycle()
	if committed != 1 {
		t.Fatalf("expected 1 committed entry, got %d", committed)
	}
	if got := flushVersion.Load(); got != 7 {
		t.Fatalf("expected flush version bumped to 7, got %d", got)
	}

	cont, err := containers.Get("metrics")
	if err != nil {
		t.Fatalf("reopen container: %v", err)
	}
	defer containers.Release("metrics")
	err = cont.Env.View(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBEvents, kv.U32Key(1))
		if err != nil {
			return err
		}
		if !ok || string(v) != "event-body" {
			t.Fatalf("expected committed event body, got %q ok=%v", v, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestInt32GreaterThanConditionRejectsNonIncreasing(t *testing.T) {
	containers := newTestContainers(t)
	writerQueue, _ := queue.NewRing[msg.WriterBatch](4)

	mkVal := func(v uint32) []byte {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, v)
		return buf
	}

	first := msg.WriterEntry{Container: "c", DBName: container.DBMetadata, Key: kv.StrKey("next_event_id"), Value: mkVal(10), Condition: msg.WriteInt32GreaterThan}
	second := msg.WriterEntry{Container: "c", DBName: container.DBMetadata, Key: kv.StrKey("next_event_id"), Value: mkVal(5), Condition: msg.WriteInt32GreaterThan}

	_ = writerQueue.TryEnqueue(msg.WriterBatch{Entries: []msg.WriterEntry{first}})
	w := New(containers, writerQueue, DefaultConfig())
	w.RunCycle()

	_ = writerQueue.TryEnqueue(msg.WriterBatch{Entries: []msg.WriterEntry{second}})
	w.RunCycle()

	cont, err := containers.Get("c")
	if err != nil {
		t.Fatalf("get container: %v", err)
	}
	defer containers.Release("c")
	err = cont.Env.View(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBMetadata, kv.StrKey("next_event_id"))
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("expected a value to be present")
		}
		if got := binary.BigEndian.Uint32(v); got != 10 {
			t.Fatalf("expected value to remain 10 after a non-increasing write, got %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
