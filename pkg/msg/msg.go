// Package msg defines the message shapes carried on the pipeline's
// queues: validated commands, per-key bitmap operations, and durable
// writer entries.
package msg

import (
	"sync/atomic"

	"github.com/cuemby/tagstore/pkg/ast"
	"github.com/cuemby/tagstore/pkg/kv"
)

// CmdMsg is one validated command routed to exactly one worker. Query
// commands are handled directly by the query evaluator and never flow
// through this queue.
type CmdMsg struct {
	Cmd    *ast.Command
	Result chan<- CmdResult
}

// CmdResult is delivered back to the command's originator once the
// worker has finished fanning it out (not once consumers/writer have
// durably applied it — that is governed by flush-version visibility).
type CmdResult struct {
	EventID uint32
	Err     error
}

// OpKind is the kind of mutation an OpMsg carries.
type OpKind uint8

const (
	OpBitmapAddValue OpKind = iota
	OpBitmapRemoveValue
)

// TargetType names the kind of entity an OpMsg mutates.
type TargetType uint8

const (
	TargetBitmap TargetType = iota
)

// OpMsg is one mutation to a tag's bitmap, produced by a worker and
// consumed by exactly one consumer.
type OpMsg struct {
	Container string
	DBName    string // container.DBInvertedEventIndex
	DBKey     kv.Key // the "<tag>:<value>" key, e.g. kv.StrKey("loc:ca")
	SerKey    string // canonical "<container>|<db-kind>|<tag>:<value>" routing key

	Kind       OpKind
	Target     TargetType
	Value      uint32 // the event id being added/removed
}

// WriteCondition governs how the writer applies a WriterEntry.
type WriteCondition uint8

const (
	WriteAlways WriteCondition = iota
	WriteNoOverwrite
	WriteInt32GreaterThan
	// WriteIndexPut targets a secondary index database: Key carries the
	// indexed value, Value carries the 4-byte big-endian event id.
	WriteIndexPut
)

// WriterEntry is one durable write intent, produced by a worker or
// consumer and consumed by the writer.
type WriterEntry struct {
	Container string
	DBName    string
	Key       kv.Key
	Value     []byte
	Condition WriteCondition

	// BumpFlushVersion requests that, on successful commit, Version be
	// atomically stored into *FlushVersion.
	BumpFlushVersion bool
	Version          uint64
	FlushVersion     *atomic.Uint64
}

// WriterBatch is one message on the writer_queue: a worker's single
// batch for one command, or a consumer's periodic flush batch.
type WriterBatch struct {
	Entries []WriterEntry
}
