package tagstore

import (
	"testing"
	"time"

	"github.com/cuemby/tagstore/pkg/ast"
	"github.com/cuemby/tagstore/pkg/registry"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.NumWorkers = 1
	cfg.NumConsumers = 1
	cfg.OpQueuesPerConsumer = 1
	cfg.FlushEveryNCycles = 1

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	c.Run()
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return c
}

func TestCoreEventThenQueryEndToEnd(t *testing.T) {
	c := newTestCore(t)

	idxResp, err := c.Execute(&ast.Command{
		Kind: ast.KindIndex, Container: "metrics",
		IndexKey: "loc", IndexType: uint8(registry.ValueString),
	})
	if err != nil {
		t.Fatalf("index command: %v", err)
	}
	if idxResp.Kind != RespAck {
		t.Fatalf("expected ack, got %+v", idxResp)
	}

	evResp, err := c.Execute(&ast.Command{
		Kind: ast.KindEvent, Container: "metrics", Entity: "u-1",
		Tags: []ast.Tag{{Key: "loc", Value: ast.Literal{Type: ast.ValStr, Str: "ca"}}},
	})
	if err != nil {
		t.Fatalf("event command: %v", err)
	}
	if evResp.Kind != RespAck {
		t.Fatalf("expected ack, got %+v", evResp)
	}

	where := &ast.Expr{Kind: ast.ExprTag, Key: "loc", Value: ast.Literal{Type: ast.ValStr, Str: "ca"}}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := c.Execute(&ast.Command{Kind: ast.KindQuery, Container: "metrics", Where: where})
		if err != nil {
			t.Fatalf("query command: %v", err)
		}
		if resp.Kind != RespIDs {
			t.Fatalf("expected ids response, got %+v", resp)
		}
		if len(resp.IDs) == 1 && resp.IDs[0] == evResp.EventID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected event id %d to appear in query results, got %v", evResp.EventID, resp.IDs)
		}
		time.Sleep(time.Millisecond)
	}

	body, err := c.FetchEvent("metrics", evResp.EventID)
	if err != nil {
		t.Fatalf("fetch event: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected a non-empty event body")
	}
}

func TestCoreQueryRejectsCursor(t *testing.T) {
	c := newTestCore(t)
	_, err := c.Execute(&ast.Command{Kind: ast.KindQuery, Container: "metrics", Cursor: "x"})
	if err == nil {
		t.Fatalf("expected cursor rejection")
	}
}
