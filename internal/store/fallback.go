package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var errMissingPrimaryClient = errors.New("store: primary client is required")

// FallbackClientConfig describes the chained primary/secondary write paths.
type FallbackClientConfig struct {
	Primary   Client
	Secondary Client
	Logger    *zap.Logger
}

// FallbackClient retries each failed operation on a secondary client before
// giving up. Every downgrade is logged so operators can tell healthy syncs
// from degraded ones.
type FallbackClient struct {
	primary   Client
	secondary Client
	logger    *zap.Logger
}

// NewFallbackClient constructs the chained client.
func NewFallbackClient(cfg FallbackClientConfig) (*FallbackClient, error) {
	if cfg.Primary == nil {
		return nil, errMissingPrimaryClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackClient{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		logger:    logger,
	}, nil
}

// Select loads rows, falling back to the secondary path on primary failure.
func (c *FallbackClient) Select(ctx context.Context, collection string, filter Filter, opts Options) ([]Row, error) {
	rows, err := c.primary.Select(ctx, collection, filter, opts)
	if err == nil || c.secondary == nil {
		return rows, err
	}
	c.logDowngrade("select", collection, err)
	return c.secondary.Select(ctx, collection, filter, opts)
}

// Insert writes rows, falling back to the secondary path on primary failure.
func (c *FallbackClient) Insert(ctx context.Context, collection string, rows []Row) ([]Row, error) {
	inserted, err := c.primary.Insert(ctx, collection, rows)
	if err == nil || c.secondary == nil {
		return inserted, err
	}
	c.logDowngrade("insert", collection, err)
	return c.secondary.Insert(ctx, collection, rows)
}

// Update patches rows, falling back to the secondary path on primary failure.
func (c *FallbackClient) Update(ctx context.Context, collection string, filter Filter, patch Row) ([]Row, error) {
	updated, err := c.primary.Update(ctx, collection, filter, patch)
	if err == nil || c.secondary == nil {
		return updated, err
	}
	c.logDowngrade("update", collection, err)
	return c.secondary.Update(ctx, collection, filter, patch)
}

// Delete removes rows, falling back to the secondary path on primary failure.
func (c *FallbackClient) Delete(ctx context.Context, collection string, filter Filter) error {
	err := c.primary.Delete(ctx, collection, filter)
	if err == nil || c.secondary == nil {
		return err
	}
	c.logDowngrade("delete", collection, err)
	return c.secondary.Delete(ctx, collection, filter)
}

// CallProcedure dispatches a procedure, falling back on primary failure.
func (c *FallbackClient) CallProcedure(ctx context.Context, name string, args Row) (Row, error) {
	result, err := c.primary.CallProcedure(ctx, name, args)
	if err == nil || c.secondary == nil {
		return result, err
	}
	c.logDowngrade("call_procedure", name, err)
	return c.secondary.CallProcedure(ctx, name, args)
}

func (c *FallbackClient) logDowngrade(operation, target string, err error) {
	c.logger.Warn("store primary path failed, retrying on secondary",
		zap.String("operation", operation),
		zap.String("target", target),
		zap.Error(err))
}
