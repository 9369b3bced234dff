// Package store defines the generic relational-store capability consumed by
// the synchronization engine, together with the resilience wrappers that
// select and chain concrete clients.
package store

import (
	"context"
	"errors"
)

// Row is one record exchanged with the store, keyed by column name.
type Row = map[string]any

// Filter matches rows by equality on the named fields.
type Filter map[string]any

// Options adjusts how Select orders and limits its result set.
type Options struct {
	OrderBy    string
	Descending bool
	Limit      int
}

var (
	// ErrUnknownProcedure indicates CallProcedure was invoked with a name no
	// backend registered.
	ErrUnknownProcedure = errors.New("store: unknown procedure")
	// ErrNotAuthenticated indicates no usable client could be constructed
	// for the supplied credentials.
	ErrNotAuthenticated = errors.New("store: not authenticated")
)

// Client is the capability the synchronization engine writes through. Every
// operation is independently committed; no call spans a transaction.
type Client interface {
	Select(ctx context.Context, collection string, filter Filter, opts Options) ([]Row, error)
	Insert(ctx context.Context, collection string, rows []Row) ([]Row, error)
	Update(ctx context.Context, collection string, filter Filter, patch Row) ([]Row, error)
	Delete(ctx context.Context, collection string, filter Filter) error
	CallProcedure(ctx context.Context, name string, args Row) (Row, error)
}
