// Package query implements the boolean tag-expression evaluator: leaf
// resolution is cache-first with a disk fallback, combinators perform
// bitmap algebra, and NOT complements within the container's universe.
package query

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/cuemby/tagstore/pkg/ast"
	"github.com/cuemby/tagstore/pkg/bmap"
	"github.com/cuemby/tagstore/pkg/cache"
	"github.com/cuemby/tagstore/pkg/container"
	"github.com/cuemby/tagstore/pkg/errs"
	"github.com/cuemby/tagstore/pkg/kv"
	"github.com/cuemby/tagstore/pkg/registry"
	"github.com/cuemby/tagstore/pkg/route"
	"github.com/cuemby/tagstore/pkg/tagkey"
)

// DefaultMaxDepth is the hard recursion-depth limit spec.md §4.9 requires.
const DefaultMaxDepth = 128

// Evaluator resolves a where-expression against one user container's
// cache-plus-disk state.
type Evaluator struct {
	Container         *container.Container
	Consumers         []*cache.Cache
	QueuesPerConsumer int
	Registry          *registry.Registry
	MaxDepth          int
}

// New builds an evaluator. consumers must be indexed identically to the
// routing scheme the worker/consumer stages use: consumer i owns op
// queues [i*queuesPerConsumer, (i+1)*queuesPerConsumer).
func New(cont *container.Container, consumers []*cache.Cache, queuesPerConsumer int, reg *registry.Registry) *Evaluator {
	return &Evaluator{Container: cont, Consumers: consumers, QueuesPerConsumer: queuesPerConsumer, Registry: reg, MaxDepth: DefaultMaxDepth}
}

// Run evaluates where against the container's current universe and
// returns the matching event ids, truncated to take if take > 0.
// A non-empty cursor is rejected, per spec.md §9's reserved-but-
// unimplemented pagination decision.
func (e *Evaluator) Run(where *ast.Expr, take int, cursor string) ([]uint32, error) {
	if cursor != "" {
		return nil, fmt.Errorf("query: cursor pagination: %w", errs.ErrNotSupported)
	}

	universe, err := e.universe()
	if err != nil {
		return nil, err
	}

	result, err := e.eval(where, 0, universe)
	if err != nil {
		return nil, err
	}

	ids := result.ToSlice()
	if take > 0 && len(ids) > take {
		ids = ids[:take]
	}
	return ids, nil
}

func (e *Evaluator) universe() (uint64, error) {
	var n uint32
	err := e.Container.Env.View(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBMetadata, kv.StrKey(container.MetaNextEventID))
		if err != nil {
			return err
		}
		if ok && len(v) == 4 {
			n = binary.BigEndian.Uint32(v)
		}
		return nil
	})
	return uint64(n), err
}

func (e *Evaluator) eval(expr *ast.Expr, depth int, universe uint64) (*bmap.Bitmap, error) {
	if expr == nil {
		return bmap.New(), nil
	}
	if depth > e.MaxDepth {
		return nil, fmt.Errorf("query: expression depth exceeds %d: %w", e.MaxDepth, errs.ErrInvalidInput)
	}

	switch expr.Kind {
	case ast.ExprTag:
		return e.resolveLeaf(expr.Key, expr.Value)

	case ast.ExprCmp:
		return e.resolveComparison(expr.Key, expr.Cmp, expr.Value)

	case ast.ExprAnd:
		l, err := e.eval(expr.Left, depth+1, universe)
		if err != nil {
			return nil, err
		}
		r, err := e.eval(expr.Right, depth+1, universe)
		if err != nil {
			return nil, err
		}
		return bmap.And(l, r), nil

	case ast.ExprOr:
		l, err := e.eval(expr.Left, depth+1, universe)
		if err != nil {
			return nil, err
		}
		r, err := e.eval(expr.Right, depth+1, universe)
		if err != nil {
			return nil, err
		}
		return bmap.Or(l, r), nil

	case ast.ExprNot:
		inner, err := e.eval(expr.Inner, depth+1, universe)
		if err != nil {
			return nil, err
		}
		return bmap.Not(inner, universe), nil

	default:
		return nil, fmt.Errorf("query: unknown expression kind %d: %w", expr.Kind, errs.ErrInvalidInput)
	}
}

func literalString(v ast.Literal) string {
	if v.Type == ast.ValInt {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

// resolveLeaf implements spec.md §4.9's operand resolution: compute the
// serialized db-key, identify the owning consumer, look up its cache
// under an EBR section, and fall back to disk on a miss. The returned
// bitmap is always an owned clone: the EBR section closes as soon as the
// clone is taken, trading the cache-hit fast path's zero-copy borrow for
// materially simpler lifetime management (see DESIGN.md).
func (e *Evaluator) resolveLeaf(key string, value ast.Literal) (*bmap.Bitmap, error) {
	valueStr := literalString(value)
	serKey := tagkey.Build(e.Container.Name, tagkey.DBKindInvertedIndex, key, valueStr)

	total := len(e.Consumers) * e.QueuesPerConsumer
	if total > 0 {
		qIdx := route.IndexString(serKey, total)
		consumerIdx := qIdx / e.QueuesPerConsumer
		c := e.Consumers[consumerIdx]

		g := c.EBR.Enter()
		bm, ok := c.Get(serKey)
		if ok {
			clone := bm.Clone()
			g.Exit()
			c.RecordHit()
			return clone, nil
		}
		g.Exit()
		c.RecordMiss()
	}

	return e.loadFromDisk(key, valueStr)
}

func (e *Evaluator) loadFromDisk(key, valueStr string) (*bmap.Bitmap, error) {
	var bm *bmap.Bitmap
	err := e.Container.Env.View(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBInvertedEventIndex, kv.StrKey(tagkey.Tag(key, valueStr)))
		if err != nil {
			return err
		}
		if !ok {
			bm = bmap.New()
			return nil
		}
		bm, err = bmap.Deserialize(v)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query: load %s:%s from disk: %w", key, valueStr, err)
	}
	return bm, nil
}

// resolveComparison range-scans a registered secondary index database;
// unindexed keys cannot be compared.
func (e *Evaluator) resolveComparison(key string, op ast.CmpOp, value ast.Literal) (*bmap.Bitmap, error) {
	entry, ok := e.Registry.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("query: comparison on unindexed key %q: %w", key, errs.ErrInvalidInput)
	}

	var target kv.Key
	switch entry.Type {
	case registry.ValueI64:
		target = kv.I64Key(value.Int)
	default:
		target = kv.StrKey(value.Str)
	}
	targetBytes := target.Encode()

	var from, to []byte
	skipEqual := false
	switch op {
	case ast.CmpLt:
		to = targetBytes
	case ast.CmpLte:
		to = nextBytes(targetBytes)
	case ast.CmpGt:
		// Seek keys are "value‖eventID", so seeking past the target value
		// alone would still land on the target's own entries; scan from
		// the target and skip them instead.
		from = targetBytes
		skipEqual = true
	case ast.CmpGte:
		from = targetBytes
	case ast.CmpEq:
		from = targetBytes
		to = nextBytes(targetBytes)
	default:
		return nil, fmt.Errorf("query: unknown comparison operator %d: %w", op, errs.ErrInvalidInput)
	}

	out := bmap.New()
	err := e.Container.Env.View(func(tx *kv.Tx) error {
		return tx.IndexRange(container.IndexDBName(key), from, to, func(v []byte, eventID uint32) bool {
			if skipEqual && bytes.Equal(v, targetBytes) {
				return true
			}
			out.Add(eventID)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// nextBytes returns the lexicographically-next byte string after b, used
// to turn an inclusive upper bound into IndexRange's exclusive "to".
func nextBytes(b []byte) []byte {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

// FetchEvent returns the raw, opaque event body for eventID, matching
// the "ordered list of opaque byte blobs" response kind for event
// fetches (spec.md §6). The caller is responsible for any further
// decoding; this layer does not interpret the bytes.
func (e *Evaluator) FetchEvent(eventID uint32) ([]byte, error) {
	var out []byte
	err := e.Container.Env.View(func(tx *kv.Tx) error {
		v, ok, err := tx.Get(container.DBEvents, kv.U32Key(eventID))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("query: event %d: %w", eventID, errs.ErrNotFound)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
