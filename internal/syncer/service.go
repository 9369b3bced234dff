package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/ident"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
	"go.uber.org/zap"
)

// ServiceConfig describes the dependencies of the synchronization
// orchestrator.
type ServiceConfig struct {
	Client store.Client
	Logger *zap.Logger
	Clock  func() time.Time
}

// Service drives a full per-project snapshot through identifier resolution,
// differential reconciliation, and binding maintenance, in dependency order.
// Every unit of work is independently committed, so the whole pass is
// re-entrant: re-running the same snapshot after a partial failure converges
// to the same end state.
type Service struct {
	client       store.Client
	logger       *zap.Logger
	clock        func() time.Time
	resolver     *Resolver
	reconciler   *Reconciler
	associations *AssociationManager
}

// NewService constructs the orchestrator and its collaborators.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Client == nil {
		return nil, newServiceError(opServiceNew, "missing_client", ErrMissingClient)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	resolver, err := NewResolver(ResolverConfig{Client: cfg.Client, Logger: logger})
	if err != nil {
		return nil, err
	}
	reconciler, err := NewReconciler(ReconcilerConfig{Client: cfg.Client, Logger: logger})
	if err != nil {
		return nil, err
	}
	associations, err := NewAssociationManager(AssociationManagerConfig{Client: cfg.Client, Logger: logger, Clock: clock})
	if err != nil {
		return nil, err
	}

	return &Service{
		client:       cfg.Client,
		logger:       logger,
		clock:        clock,
		resolver:     resolver,
		reconciler:   reconciler,
		associations: associations,
	}, nil
}

// Associations exposes the binding manager for callers that bind and unbind
// outside a full sync pass.
func (s *Service) Associations() *AssociationManager {
	return s.associations
}

// SyncProject reconciles a full project snapshot. A failing document, page,
// or binding is reported in the result's error list and never discards the
// progress of its siblings; only a failure before any unit starts returns an
// error with an empty result.
func (s *Service) SyncProject(ctx context.Context, projectID string, documents []DocumentSnapshot, decks []DeckSnapshot) (SyncResult, error) {
	if projectID == "" {
		return SyncResult{}, newServiceError(opSyncProject, "missing_project",
			fmt.Errorf("%w: project id is required", ErrMissingOwner))
	}

	result := SyncResult{
		DocumentIDMap: make(map[string]string, len(documents)),
		DeckIDMap:     make(map[string]string, len(decks)),
		Errors:        []SyncError{},
	}

	result = s.syncDocuments(ctx, projectID, documents, result)

	if err := ctx.Err(); err != nil {
		return SyncResult{}, newServiceError(opSyncProject, "canceled", err)
	}

	result = s.syncDecks(ctx, projectID, decks, result)

	s.logger.Info("project sync finished",
		zap.String("project_id", projectID),
		zap.Int("documents", len(result.DocumentIDMap)),
		zap.Int("decks", len(result.DeckIDMap)),
		zap.Int("cells", result.CellCount),
		zap.Int("elements", result.ElementCount),
		zap.Int("associations", result.AssociationCount),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// syncDocuments is phase one: resolve each document and reconcile its cells.
// Snapshot ids are untagged because clients may echo back either the provider
// id or the store id from a previous result, so they are classified here.
func (s *Service) syncDocuments(ctx context.Context, projectID string, documents []DocumentSnapshot, result SyncResult) SyncResult {
	for _, document := range documents {
		resolution, err := s.resolver.ResolveDocument(ctx, ident.Classify(document.ExternalID), projectID, document.Title)
		if err != nil {
			s.logger.Warn("document sync skipped",
				zap.String("project_id", projectID),
				zap.String("external_id", document.ExternalID),
				zap.Error(err))
			result.Errors = append(result.Errors, SyncError{
				Scope: "document", Key: document.ExternalID, Reason: err.Error(),
			})
			continue
		}

		if !resolution.Created {
			s.refreshTitle(ctx, collectionDocuments, resolution.ID, document.Title)
		}

		outcome, err := s.reconciler.ReconcileCells(ctx, resolution.ID, document.Cells, ReconcileOptions{SkipDiff: resolution.Created})
		if err != nil {
			result.Errors = append(result.Errors, SyncError{
				Scope: "document", Key: document.ExternalID, Reason: err.Error(),
			})
			continue
		}

		result.DocumentIDMap[document.ExternalID] = resolution.ID
		result.CellCount += len(outcome.KeyToID)
		result.Errors = append(result.Errors, recordErrors("cell", outcome.Errors)...)

		// A snapshot with no leaf records still has to evidence that the
		// pass happened; syncs that wrote content are their own evidence.
		if len(document.Cells) == 0 {
			if _, err := s.associations.RecordSyncEvidence(ctx, resolution.ID); err != nil {
				s.logger.Warn("sync evidence not recorded",
					zap.String("document_id", resolution.ID),
					zap.Error(err))
			}
		}
	}
	return result
}

// syncDecks is phase two: resolve each deck, upsert its pages, reconcile
// elements, and apply bindings against the document map built in phase one.
func (s *Service) syncDecks(ctx context.Context, projectID string, decks []DeckSnapshot, result SyncResult) SyncResult {
	for _, deck := range decks {
		resolution, err := s.resolver.ResolveDeck(ctx, ident.Classify(deck.ExternalID), projectID, deck.Title)
		if err != nil {
			s.logger.Warn("deck sync skipped",
				zap.String("project_id", projectID),
				zap.String("external_id", deck.ExternalID),
				zap.Error(err))
			result.Errors = append(result.Errors, SyncError{
				Scope: "deck", Key: deck.ExternalID, Reason: err.Error(),
			})
			continue
		}
		if !resolution.Created {
			s.refreshTitle(ctx, collectionDecks, resolution.ID, deck.Title)
		}
		result.DeckIDMap[deck.ExternalID] = resolution.ID

		for _, page := range deck.Pages {
			result = s.syncPage(ctx, resolution, page, result)
		}
	}
	return result
}

func (s *Service) syncPage(ctx context.Context, deck Resolution, page PageSnapshot, result SyncResult) SyncResult {
	pageResolution, err := s.resolver.ResolvePage(ctx, ident.Classify(page.ExternalID), deck.ID, page.Title, page.Order)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{
			Scope: "page", Key: page.ExternalID, Reason: err.Error(),
		})
		return result
	}
	if !pageResolution.Created {
		s.refreshPageAttributes(ctx, pageResolution.ID, page.Title, page.Order)
	}

	outcome, err := s.reconciler.ReconcileElements(ctx, pageResolution.ID, page.Elements, ReconcileOptions{SkipDiff: pageResolution.Created})
	if err != nil {
		result.Errors = append(result.Errors, SyncError{
			Scope: "page", Key: page.ExternalID, Reason: err.Error(),
		})
		return result
	}
	result.ElementCount += len(outcome.KeyToID)
	result.Errors = append(result.Errors, recordErrors("element", outcome.Errors)...)

	for _, element := range page.Elements {
		if element.Binding == nil {
			continue
		}
		elementID, synced := outcome.KeyToID[element.ExternalID]
		if !synced {
			continue
		}

		documentID, inBatch := result.DocumentIDMap[element.Binding.DocumentExternalID]
		if !inBatch {
			s.logger.Warn("binding dropped, referenced document not in sync batch",
				zap.String("element", element.ExternalID),
				zap.String("document_external_id", element.Binding.DocumentExternalID))
			result.Errors = append(result.Errors, SyncError{
				Scope: "binding",
				Key:   element.ExternalID,
				Reason: fmt.Sprintf("%v: %s", ErrReferenceMissing,
					element.Binding.DocumentExternalID),
			})
			continue
		}

		if _, err := s.associations.Bind(ctx, elementID, documentID, element.Binding.Column, element.Binding.BindingType); err != nil {
			result.Errors = append(result.Errors, SyncError{
				Scope: "binding", Key: element.ExternalID, Reason: err.Error(),
			})
			continue
		}
		result.AssociationCount++
	}
	return result
}

// refreshTitle updates a record's title only when the snapshot disagrees
// with the stored value, keeping repeat syncs write-free.
func (s *Service) refreshTitle(ctx context.Context, collection, id, title string) {
	if title == "" {
		return
	}
	rows, err := s.client.Select(ctx, collection, store.Filter{"id": id}, store.Options{Limit: 1})
	if err != nil {
		s.logger.Warn("title refresh skipped, lookup failed",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}
	if stored, _ := rows[0]["title"].(string); stored == title {
		return
	}
	if _, err := s.client.Update(ctx, collection, store.Filter{"id": id}, store.Row{"title": title}); err != nil {
		s.logger.Warn("title refresh failed",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
	}
}

func (s *Service) refreshPageAttributes(ctx context.Context, pageID, title string, order int) {
	rows, err := s.client.Select(ctx, collectionPages, store.Filter{"id": pageID}, store.Options{Limit: 1})
	if err != nil {
		s.logger.Warn("page attribute refresh skipped, lookup failed",
			zap.String("page_id", pageID),
			zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}
	stored := rows[0]
	storedTitle, _ := stored["title"].(string)
	storedOrder := intField(stored["order_index"])
	if storedTitle == title && storedOrder == order {
		return
	}
	if _, err := s.client.Update(ctx, collectionPages, store.Filter{"id": pageID}, store.Row{
		"title":       title,
		"order_index": order,
	}); err != nil {
		s.logger.Warn("page attribute refresh failed",
			zap.String("page_id", pageID),
			zap.Error(err))
	}
}

func recordErrors(scope string, errors []RecordError) []SyncError {
	converted := make([]SyncError, 0, len(errors))
	for _, recordError := range errors {
		converted = append(converted, SyncError{Scope: scope, Key: recordError.Key, Reason: recordError.Reason})
	}
	return converted
}

func intField(value any) int {
	switch typed := value.(type) {
	case int:
		return typed
	case int32:
		return int(typed)
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	default:
		return 0
	}
}
