package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("store: database handle is required")
	errMissingIDProvider = errors.New("store: id provider is required")
)

// ProcedureFunc is a server-side procedure exposed through CallProcedure.
type ProcedureFunc func(ctx context.Context, args Row) (Row, error)

// GormClientConfig describes the dependencies of the primary store client.
type GormClientConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Procedures map[string]ProcedureFunc
}

// GormClient is the primary Client implementation, issuing reads and writes
// directly against the relational database.
type GormClient struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	procedures map[string]ProcedureFunc
}

// NewGormClient constructs the primary store client.
func NewGormClient(cfg GormClientConfig) (*GormClient, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	procedures := cfg.Procedures
	if procedures == nil {
		procedures = map[string]ProcedureFunc{}
	}
	return &GormClient{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		procedures: procedures,
	}, nil
}

// Select loads the rows of a collection matching the filter.
func (c *GormClient) Select(ctx context.Context, collection string, filter Filter, opts Options) ([]Row, error) {
	query := c.db.WithContext(ctx).Table(collection)
	if len(filter) > 0 {
		query = query.Where(map[string]any(filter))
	}
	if opts.OrderBy != "" {
		direction := "ASC"
		if opts.Descending {
			direction = "DESC"
		}
		query = query.Order(fmt.Sprintf("%s %s", opts.OrderBy, direction))
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var rows []map[string]any
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]Row, 0, len(rows))
	for _, row := range rows {
		result = append(result, Row(row))
	}
	return result, nil
}

// Insert writes the rows, stamping missing ids and timestamps, and returns
// them with their issued identifiers.
func (c *GormClient) Insert(ctx context.Context, collection string, rows []Row) ([]Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	now := c.clock().UTC()
	prepared := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		stamped := make(map[string]any, len(row)+3)
		for key, value := range row {
			stamped[key] = value
		}
		if identifier, ok := stamped["id"].(string); !ok || identifier == "" {
			issued, err := c.idProvider.NewID()
			if err != nil {
				return nil, err
			}
			stamped["id"] = issued
		}
		if _, ok := stamped["created_at"]; !ok {
			stamped["created_at"] = now
		}
		if _, ok := stamped["updated_at"]; !ok {
			stamped["updated_at"] = now
		}
		prepared = append(prepared, stamped)
	}

	if err := c.db.WithContext(ctx).Table(collection).Create(&prepared).Error; err != nil {
		return nil, err
	}

	result := make([]Row, 0, len(prepared))
	for _, row := range prepared {
		result = append(result, Row(row))
	}
	return result, nil
}

// Update patches every row matching the filter and returns the rows as they
// stand after the write.
func (c *GormClient) Update(ctx context.Context, collection string, filter Filter, patch Row) ([]Row, error) {
	if len(filter) == 0 {
		return nil, fmt.Errorf("store: update on %s requires a filter", collection)
	}
	if len(patch) == 0 {
		return c.Select(ctx, collection, filter, Options{})
	}

	applied := make(map[string]any, len(patch)+1)
	for key, value := range patch {
		applied[key] = value
	}
	if _, ok := applied["updated_at"]; !ok {
		applied["updated_at"] = c.clock().UTC()
	}

	if err := c.db.WithContext(ctx).Table(collection).
		Where(map[string]any(filter)).
		Updates(applied).Error; err != nil {
		return nil, err
	}
	return c.Select(ctx, collection, filter, Options{})
}

// Delete removes every row matching the filter.
func (c *GormClient) Delete(ctx context.Context, collection string, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("store: delete on %s requires a filter", collection)
	}
	return c.db.WithContext(ctx).Table(collection).
		Where(map[string]any(filter)).
		Delete(nil).Error
}

// CallProcedure dispatches to a registered server-side procedure.
func (c *GormClient) CallProcedure(ctx context.Context, name string, args Row) (Row, error) {
	procedure, ok := c.procedures[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcedure, name)
	}
	return procedure(ctx, args)
}
