package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/ident"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
	"go.uber.org/zap"
)

const (
	collectionProjects     = "projects"
	collectionDocuments    = "documents"
	collectionCells        = "cells"
	collectionDecks        = "decks"
	collectionPages        = "pages"
	collectionElements     = "elements"
	collectionAssociations = "associations"
	collectionSyncEvents   = "sync_events"
)

// ResolverConfig describes the dependencies of the identifier resolver.
type ResolverConfig struct {
	Client store.Client
	Logger *zap.Logger
}

// Resolver translates provider-issued identifiers into store-issued ones,
// creating the backing record on first sight. Resolved pairs are cached for
// the life of the process; the cache is read-mostly and never invalidated
// because external ids are stable across syncs.
type Resolver struct {
	client store.Client
	logger *zap.Logger
	cache  sync.Map
}

// Resolution reports the internal id and whether this call created the
// backing record.
type Resolution struct {
	ID      string
	Created bool
}

// NewResolver constructs the identifier resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Client == nil {
		return nil, newServiceError(opResolve, "missing_client", ErrMissingClient)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: cfg.Client, logger: logger}, nil
}

// ResolveDocument resolves a document reference, creating the document under
// the supplied project on first sight.
func (r *Resolver) ResolveDocument(ctx context.Context, ref ident.Ref, projectID, title string) (Resolution, error) {
	return r.resolve(ctx, collectionDocuments, ref, nil, store.Row{
		"project_id": projectID,
		"title":      title,
	}, projectID)
}

// ResolveDeck resolves a deck reference, creating the deck under the
// supplied project on first sight.
func (r *Resolver) ResolveDeck(ctx context.Context, ref ident.Ref, projectID, title string) (Resolution, error) {
	return r.resolve(ctx, collectionDecks, ref, nil, store.Row{
		"project_id": projectID,
		"title":      title,
	}, projectID)
}

// ResolvePage resolves a page reference scoped by its owning deck, the
// narrow variant used for entities whose external id is only unique within
// their immediate parent.
func (r *Resolver) ResolvePage(ctx context.Context, ref ident.Ref, deckID, title string, orderIndex int) (Resolution, error) {
	return r.resolve(ctx, collectionPages, ref, store.Filter{"deck_id": deckID}, store.Row{
		"deck_id":     deckID,
		"title":       title,
		"order_index": orderIndex,
	}, deckID)
}

// resolve implements the shared lookup-or-create contract: zero mutations on
// a hit, exactly one insert on a miss.
func (r *Resolver) resolve(ctx context.Context, collection string, ref ident.Ref, scope store.Filter, insert store.Row, ownerID string) (Resolution, error) {
	if err := ref.Validate(); err != nil {
		return Resolution{}, newServiceError(opResolve, "empty_identifier", err)
	}
	if ref.IsInternal() {
		return Resolution{ID: ref.Value()}, nil
	}

	cacheKey := r.cacheKey(collection, ref.Value(), scope)
	if cached, ok := r.cache.Load(cacheKey); ok {
		if internalID, ok := cached.(string); ok {
			return Resolution{ID: internalID}, nil
		}
	}

	filter := store.Filter{"external_id": ref.Value()}
	for field, value := range scope {
		filter[field] = value
	}

	rows, err := r.client.Select(ctx, collection, filter, store.Options{})
	if err != nil {
		return Resolution{}, newServiceError(opResolve, "lookup_failed", err)
	}

	switch len(rows) {
	case 0:
		// fall through to creation below
	case 1:
		internalID, ok := rows[0]["id"].(string)
		if !ok || internalID == "" {
			return Resolution{}, newServiceError(opResolve, "malformed_record",
				fmt.Errorf("record for %s has no id", ref))
		}
		r.cache.Store(cacheKey, internalID)
		return Resolution{ID: internalID}, nil
	default:
		r.logger.Error("multiple records share an external id",
			zap.String("collection", collection),
			zap.String("external_id", ref.Value()),
			zap.Int("matches", len(rows)))
		return Resolution{}, newServiceError(opResolve, "ambiguous_match",
			fmt.Errorf("%w: %s %s matched %d records", ErrAmbiguousMatch, collection, ref.Value(), len(rows)))
	}

	if ownerID == "" {
		return Resolution{}, newServiceError(opResolve, "missing_owner",
			fmt.Errorf("%w: creating %s %s", ErrMissingOwner, collection, ref.Value()))
	}

	row := store.Row{"external_id": ref.Value()}
	for field, value := range insert {
		row[field] = value
	}
	created, err := r.client.Insert(ctx, collection, []store.Row{row})
	if err != nil {
		return Resolution{}, newServiceError(opResolve, "insert_failed",
			fmt.Errorf("%w: %v", ErrWriteFailure, err))
	}
	if len(created) == 0 {
		return Resolution{}, newServiceError(opResolve, "insert_failed",
			fmt.Errorf("%w: insert returned no rows", ErrWriteFailure))
	}
	internalID, ok := created[0]["id"].(string)
	if !ok || internalID == "" {
		return Resolution{}, newServiceError(opResolve, "insert_failed",
			fmt.Errorf("%w: insert returned no id", ErrWriteFailure))
	}

	r.logger.Info("external id registered",
		zap.String("collection", collection),
		zap.String("external_id", ref.Value()),
		zap.String("internal_id", internalID))
	r.cache.Store(cacheKey, internalID)
	return Resolution{ID: internalID, Created: true}, nil
}

func (r *Resolver) cacheKey(collection, externalID string, scope store.Filter) string {
	key := collection + "/" + externalID
	for field, value := range scope {
		key += "/" + field + "=" + fmt.Sprint(value)
	}
	return key
}
