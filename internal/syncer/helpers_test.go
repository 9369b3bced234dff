package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
)

// memoryClient is an in-memory store.Client that records how many writes
// each test run issued. failures injects an error for every operation on a
// collection; failAll takes the whole store down.
type memoryClient struct {
	mu     sync.Mutex
	tables map[string][]store.Row
	nextID int

	selectCalls int
	insertCalls int
	updateCalls int
	deleteCalls int

	failures map[string]error
	failAll  error
}

func newMemoryClient() *memoryClient {
	return &memoryClient{
		tables:   map[string][]store.Row{},
		failures: map[string]error{},
	}
}

func (c *memoryClient) failureFor(collection string) error {
	if c.failAll != nil {
		return c.failAll
	}
	return c.failures[collection]
}

// seed inserts a row directly, assigning an id when none is present, and
// returns the row's id.
func (c *memoryClient) seed(collection string, row store.Row) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := copyRow(row)
	if identifier, ok := stored["id"].(string); !ok || identifier == "" {
		c.nextID++
		stored["id"] = fmt.Sprintf("seed-%04d", c.nextID)
	}
	c.tables[collection] = append(c.tables[collection], stored)
	return stored["id"].(string)
}

func (c *memoryClient) rowCount(collection string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables[collection])
}

func (c *memoryClient) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertCalls + c.updateCalls + c.deleteCalls
}

func (c *memoryClient) Select(_ context.Context, collection string, filter store.Filter, opts store.Options) ([]store.Row, error) {
	if err := c.failureFor(collection); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectCalls++

	matched := make([]store.Row, 0)
	for _, row := range c.tables[collection] {
		if rowMatches(row, filter) {
			matched = append(matched, copyRow(row))
			if opts.Limit > 0 && len(matched) == opts.Limit {
				break
			}
		}
	}
	return matched, nil
}

func (c *memoryClient) Insert(_ context.Context, collection string, rows []store.Row) ([]store.Row, error) {
	if err := c.failureFor(collection); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	inserted := make([]store.Row, 0, len(rows))
	for _, row := range rows {
		stored := copyRow(row)
		if identifier, ok := stored["id"].(string); !ok || identifier == "" {
			c.nextID++
			stored["id"] = fmt.Sprintf("rec-%04d", c.nextID)
		}
		c.tables[collection] = append(c.tables[collection], stored)
		inserted = append(inserted, copyRow(stored))
	}
	c.insertCalls++
	return inserted, nil
}

func (c *memoryClient) Update(_ context.Context, collection string, filter store.Filter, patch store.Row) ([]store.Row, error) {
	if err := c.failureFor(collection); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := make([]store.Row, 0)
	for _, row := range c.tables[collection] {
		if !rowMatches(row, filter) {
			continue
		}
		for key, value := range patch {
			row[key] = value
		}
		updated = append(updated, copyRow(row))
	}
	if len(updated) > 0 {
		c.updateCalls++
	}
	return updated, nil
}

func (c *memoryClient) Delete(_ context.Context, collection string, filter store.Filter) error {
	if err := c.failureFor(collection); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := make([]store.Row, 0, len(c.tables[collection]))
	removed := false
	for _, row := range c.tables[collection] {
		if rowMatches(row, filter) {
			removed = true
			continue
		}
		remaining = append(remaining, row)
	}
	c.tables[collection] = remaining
	if removed {
		c.deleteCalls++
	}
	return nil
}

func (c *memoryClient) CallProcedure(_ context.Context, name string, _ store.Row) (store.Row, error) {
	return nil, fmt.Errorf("%w: %s", store.ErrUnknownProcedure, name)
}

func (c *memoryClient) firstRow(t *testing.T, collection string, filter store.Filter) store.Row {
	t.Helper()
	rows, err := c.Select(context.Background(), collection, filter, store.Options{Limit: 1})
	if err != nil {
		t.Fatalf("failed to load %s row: %v", collection, err)
	}
	if len(rows) == 0 {
		t.Fatalf("expected a %s row matching %v", collection, filter)
	}
	return rows[0]
}

func rowMatches(row store.Row, filter store.Filter) bool {
	for field, expected := range filter {
		if fmt.Sprint(row[field]) != fmt.Sprint(expected) {
			return false
		}
	}
	return true
}

func copyRow(row store.Row) store.Row {
	duplicate := make(store.Row, len(row))
	for key, value := range row {
		duplicate[key] = value
	}
	return duplicate
}

func fixedClock() time.Time {
	return time.Unix(1756700000, 0).UTC()
}

func newTestSyncService(t *testing.T, client store.Client) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Client: client, Clock: fixedClock})
	if err != nil {
		t.Fatalf("failed to construct sync service: %v", err)
	}
	return service
}
