package consumer

import (
	"errors"
	"testing"

	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/kv"
	"github.com/cuemby/tagstore/pkg/msg"
	"github.com/cuemby/tagstore/pkg/queue"
	"github.com/cuemby/tagstore/pkg/tagkey"
)

var errNoSuchContainer = errors.New("no such container")

func newTestContainers(t *testing.T) *container.Cache {
	t.Helper()
	dir := t.TempDir()
	return container.NewCache(4, func(name string) (*container.Container, error) {
		return container.OpenUser(container.Config{DataDir: dir}, name)
	})
}

func TestRunCycleAppliesOpsAndTracksDirty(t *testing.T) {
	containers := newTestContainers(t)
	opQueues := make([]*queue.Ring[msg.OpMsg], 2)
	for i := range opQueues {
		opQueues[i], _ = queue.NewRing[msg.OpMsg](8)
	}
	writerQueue, _ := queue.NewRing[msg.WriterBatch](4)

	c := New(0, opQueues, 8, containers, writerQueue, Config{MaxBatch: 64, FlushEveryN: 1, ReclaimThreshold: 64})

	serKey := tagkey.Build("metrics", tagkey.DBKindInvertedIndex, "loc", "ca")
	op := msg.OpMsg{
		Container: "metrics", DBName: container.DBInvertedEventIndex,
		DBKey: kv.StrKey(tagkey.Tag("loc", "ca")), SerKey: serKey,
		Kind: msg.OpBitmapAddValue, Target: msg.TargetBitmap, Value: 1,
	}
	if err := opQueues[0].TryEnqueue(op); err != nil {
		t.Fatalf("enqueue op: %v", err)
	}

	applied := c.RunCycle()
	if applied != 1 {
		t.Fatalf("expected 1 op applied, got %d", applied)
	}

	batch, ok := writerQueue.TryDequeue()
	if !ok {
		t.Fatalf("expected a flush batch to be enqueued (FlushEveryN=1)")
	}
	if len(batch.Entries) != 1 {
		t.Fatalf("expected exactly one flushed entry, got %d", len(batch.Entries))
	}
	if batch.Entries[0].Container != "metrics" {
		t.Fatalf("expected flushed entry for container metrics, got %q", batch.Entries[0].Container)
	}
}

func TestRunCycleMissingContainerSkipsBatch(t *testing.T) {
	containers := container.NewCache(1, func(name string) (*container.Container, error) {
		return nil, errNoSuchContainer
	})
	opQueues := make([]*queue.Ring[msg.OpMsg], 1)
	opQueues[0], _ = queue.NewRing[msg.OpMsg](4)
	writerQueue, _ := queue.NewRing[msg.WriterBatch](4)
	c := New(0, opQueues, 4, containers, writerQueue, DefaultConfig())

	serKey := tagkey.Build("ghost", tagkey.DBKindInvertedIndex, "loc", "ca")
	_ = opQueues[0].TryEnqueue(msg.OpMsg{
		Container: "ghost", DBName: container.DBInvertedEventIndex,
		DBKey: kv.StrKey(tagkey.Tag("loc", "ca")), SerKey: serKey,
		Kind: msg.OpBitmapAddValue, Value: 1,
	})

	applied := c.RunCycle()
	if applied != 0 {
		t.Fatalf("expected 0 ops applied when container open fails, got %d", applied)
	}
}
