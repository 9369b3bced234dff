package store

import (
	"context"
	"errors"
	"testing"
)

// scriptedClient is a Client whose every operation either succeeds with
// canned rows or fails with a fixed error, recording what was called.
type scriptedClient struct {
	rows  []Row
	err   error
	calls []string
}

func (c *scriptedClient) Select(context.Context, string, Filter, Options) ([]Row, error) {
	c.calls = append(c.calls, "select")
	return c.rows, c.err
}

func (c *scriptedClient) Insert(context.Context, string, []Row) ([]Row, error) {
	c.calls = append(c.calls, "insert")
	return c.rows, c.err
}

func (c *scriptedClient) Update(context.Context, string, Filter, Row) ([]Row, error) {
	c.calls = append(c.calls, "update")
	return c.rows, c.err
}

func (c *scriptedClient) Delete(context.Context, string, Filter) error {
	c.calls = append(c.calls, "delete")
	return c.err
}

func (c *scriptedClient) CallProcedure(context.Context, string, Row) (Row, error) {
	c.calls = append(c.calls, "call_procedure")
	if len(c.rows) > 0 {
		return c.rows[0], c.err
	}
	return nil, c.err
}

func TestFallbackUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &scriptedClient{rows: []Row{{"id": "from-primary"}}}
	secondary := &scriptedClient{rows: []Row{{"id": "from-secondary"}}}
	client, err := NewFallbackClient(FallbackClientConfig{Primary: primary, Secondary: secondary})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := client.Select(context.Background(), "documents", nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "from-primary" {
		t.Fatalf("expected the primary result, got %v", rows)
	}
	if len(secondary.calls) != 0 {
		t.Fatalf("secondary must stay untouched while the primary is healthy")
	}
}

func TestFallbackRetriesOnSecondary(t *testing.T) {
	primary := &scriptedClient{err: errors.New("connection refused")}
	secondary := &scriptedClient{rows: []Row{{"id": "from-secondary"}}}
	client, err := NewFallbackClient(FallbackClientConfig{Primary: primary, Secondary: secondary})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := client.Insert(context.Background(), "cells", []Row{{"reference": "A1"}})
	if err != nil {
		t.Fatalf("expected the secondary to absorb the failure, got %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "from-secondary" {
		t.Fatalf("expected the secondary result, got %v", rows)
	}
	if len(primary.calls) != 1 || len(secondary.calls) != 1 {
		t.Fatalf("expected one attempt per path, got %v then %v", primary.calls, secondary.calls)
	}
}

func TestFallbackPropagatesWithoutSecondary(t *testing.T) {
	wantErr := errors.New("connection refused")
	primary := &scriptedClient{err: wantErr}
	client, err := NewFallbackClient(FallbackClientConfig{Primary: primary})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.Update(context.Background(), "cells", Filter{"id": "c1"}, Row{"content": "x"}); !errors.Is(err, wantErr) {
		t.Fatalf("expected the primary error, got %v", err)
	}
}

func TestFallbackCoversEveryOperation(t *testing.T) {
	primary := &scriptedClient{err: errors.New("down")}
	secondary := &scriptedClient{rows: []Row{{"ok": true}}}
	client, err := NewFallbackClient(FallbackClientConfig{Primary: primary, Secondary: secondary})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if _, err := client.Select(ctx, "documents", nil, Options{}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := client.Insert(ctx, "documents", []Row{{}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := client.Update(ctx, "documents", Filter{"id": "d1"}, Row{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := client.Delete(ctx, "documents", Filter{"id": "d1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.CallProcedure(ctx, "purge_sync_events", nil); err != nil {
		t.Fatalf("call_procedure: %v", err)
	}

	want := []string{"select", "insert", "update", "delete", "call_procedure"}
	if len(secondary.calls) != len(want) {
		t.Fatalf("expected %d secondary calls, got %v", len(want), secondary.calls)
	}
	for index, operation := range want {
		if secondary.calls[index] != operation {
			t.Fatalf("unexpected secondary call order: %v", secondary.calls)
		}
	}
}

func TestFallbackRequiresPrimary(t *testing.T) {
	if _, err := NewFallbackClient(FallbackClientConfig{}); err == nil {
		t.Fatalf("expected an error without a primary client")
	}
}
