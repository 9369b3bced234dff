package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/models"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
	"go.uber.org/zap"
)

// EvidenceRung names the fallback strategy that recorded a sync pass.
type EvidenceRung string

const (
	// EvidenceDocumentTimestamp touched the document's own sync timestamp.
	EvidenceDocumentTimestamp EvidenceRung = "document-timestamp"
	// EvidenceSyncEvent inserted a sentinel sync_events row.
	EvidenceSyncEvent EvidenceRung = "sync-event"
	// EvidenceMarkerAssociation attached a throwaway association to an
	// arbitrary writable element, tagged with the reserved binding type.
	EvidenceMarkerAssociation EvidenceRung = "marker-association"
	// EvidenceLocalMarker recorded the attempt only in process memory. The
	// caller's contract is "tell me sync was attempted", so this rung still
	// reports success.
	EvidenceLocalMarker EvidenceRung = "local-marker"
)

// LocalMarker is the non-persistent record of a sync attempt kept when the
// store is unreachable.
type LocalMarker struct {
	DocumentID string
	RecordedAt time.Time
}

// AssociationManagerConfig describes the dependencies of the binding
// manager.
type AssociationManagerConfig struct {
	Client store.Client
	Logger *zap.Logger
	Clock  func() time.Time
}

// AssociationManager maintains the single live binding from a page element
// to a spreadsheet column, and the evidence ladder used when a sync pass
// produced nothing bindable.
type AssociationManager struct {
	client store.Client
	logger *zap.Logger
	clock  func() time.Time

	markerMu     sync.Mutex
	localMarkers []LocalMarker
}

// NewAssociationManager constructs the binding manager.
func NewAssociationManager(cfg AssociationManagerConfig) (*AssociationManager, error) {
	if cfg.Client == nil {
		return nil, newServiceError(opBind, "missing_client", ErrMissingClient)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AssociationManager{client: cfg.Client, logger: logger, clock: clock}, nil
}

// Bind records that an element mirrors a spreadsheet column. Binding is a
// replace operation: an element holds at most one live binding, so a rebind
// updates the existing association in place instead of creating a second
// one. Rebinding with identical fields is a no-op.
func (m *AssociationManager) Bind(ctx context.Context, elementID, documentID, column string, bindingType models.BindingType) (string, error) {
	if elementID == "" || documentID == "" {
		return "", newServiceError(opBind, "missing_reference",
			fmt.Errorf("element and document ids are required"))
	}

	rows, err := m.client.Select(ctx, collectionAssociations, store.Filter{"element_id": elementID}, store.Options{})
	if err != nil {
		return "", newServiceError(opBind, "lookup_failed", err)
	}
	if len(rows) > 1 {
		return "", newServiceError(opBind, "ambiguous_match",
			fmt.Errorf("%w: element %s holds %d associations", ErrAmbiguousMatch, elementID, len(rows)))
	}

	if len(rows) == 1 {
		existing := rows[0]
		associationID, _ := existing["id"].(string)
		unchanged := fmt.Sprint(existing["document_id"]) == documentID &&
			fmt.Sprint(existing["sheet_column"]) == column &&
			fmt.Sprint(existing["binding_type"]) == string(bindingType)
		if unchanged {
			return associationID, nil
		}
		if _, err := m.client.Update(ctx, collectionAssociations, store.Filter{"id": associationID}, store.Row{
			"document_id":  documentID,
			"sheet_column": column,
			"binding_type": string(bindingType),
		}); err != nil {
			return "", newServiceError(opBind, "update_failed",
				fmt.Errorf("%w: %v", ErrWriteFailure, err))
		}
		m.refreshElementMirror(ctx, elementID, column, bindingType)
		return associationID, nil
	}

	created, err := m.client.Insert(ctx, collectionAssociations, []store.Row{{
		"element_id":   elementID,
		"document_id":  documentID,
		"sheet_column": column,
		"binding_type": string(bindingType),
	}})
	if err != nil || len(created) == 0 {
		if err == nil {
			err = fmt.Errorf("insert returned no rows")
		}
		return "", newServiceError(opBind, "insert_failed",
			fmt.Errorf("%w: %v", ErrWriteFailure, err))
	}
	associationID, _ := created[0]["id"].(string)
	m.refreshElementMirror(ctx, elementID, column, bindingType)
	return associationID, nil
}

// Unbind hard-deletes an association. A blank or already-deleted id is a
// no-op success because callers may race with a deletion already applied.
func (m *AssociationManager) Unbind(ctx context.Context, associationID string) error {
	if associationID == "" {
		return nil
	}
	rows, err := m.client.Select(ctx, collectionAssociations, store.Filter{"id": associationID}, store.Options{Limit: 1})
	if err != nil {
		return newServiceError(opUnbind, "lookup_failed", err)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := m.client.Delete(ctx, collectionAssociations, store.Filter{"id": associationID}); err != nil {
		return newServiceError(opUnbind, "delete_failed",
			fmt.Errorf("%w: %v", ErrWriteFailure, err))
	}
	if elementID, _ := rows[0]["element_id"].(string); elementID != "" {
		m.refreshElementMirror(ctx, elementID, "", "")
	}
	return nil
}

// ListBindings returns the associations referencing an element. Under the
// at-most-one invariant the result holds zero or one entries; more signals
// corruption and is returned as-is for the caller to report.
func (m *AssociationManager) ListBindings(ctx context.Context, elementID string) ([]models.Association, error) {
	rows, err := m.client.Select(ctx, collectionAssociations, store.Filter{"element_id": elementID}, store.Options{})
	if err != nil {
		return nil, newServiceError(opListBindings, "lookup_failed", err)
	}
	associations := make([]models.Association, 0, len(rows))
	for _, row := range rows {
		associations = append(associations, associationFromRow(row))
	}
	return associations, nil
}

// RecordSyncEvidence records that a sync pass touched the document, walking
// a ladder of strategies ordered from most to least durable. The contract is
// availability over durability: the final rung cannot fail.
func (m *AssociationManager) RecordSyncEvidence(ctx context.Context, documentID string) (EvidenceRung, error) {
	if documentID == "" {
		return "", newServiceError(opEvidence, "missing_document",
			fmt.Errorf("document id is required"))
	}

	strategies := []struct {
		rung    EvidenceRung
		execute func(context.Context, string) error
	}{
		{EvidenceDocumentTimestamp, m.touchDocument},
		{EvidenceSyncEvent, m.insertSyncEvent},
		{EvidenceMarkerAssociation, m.attachMarkerAssociation},
		{EvidenceLocalMarker, m.recordLocalMarker},
	}

	var lastErr error
	for index, strategy := range strategies {
		err := strategy.execute(ctx, documentID)
		if err == nil {
			if index == 0 {
				m.logger.Debug("sync evidence recorded",
					zap.String("document_id", documentID),
					zap.String("rung", string(strategy.rung)))
			} else {
				m.logger.Warn("sync evidence recorded on fallback rung",
					zap.String("document_id", documentID),
					zap.String("rung", string(strategy.rung)),
					zap.NamedError("previous_error", lastErr))
			}
			return strategy.rung, nil
		}
		lastErr = err
	}

	// recordLocalMarker never errors, so this is unreachable in practice.
	return "", newServiceError(opEvidence, "exhausted", lastErr)
}

func (m *AssociationManager) touchDocument(ctx context.Context, documentID string) error {
	rows, err := m.client.Update(ctx, collectionDocuments, store.Filter{"id": documentID}, store.Row{
		"last_synced_at": m.clock().UTC(),
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("document %s not found", documentID)
	}
	return nil
}

func (m *AssociationManager) insertSyncEvent(ctx context.Context, documentID string) error {
	_, err := m.client.Insert(ctx, collectionSyncEvents, []store.Row{{
		"document_id": documentID,
		"kind":        "forced-sync",
		"recorded_at": m.clock().UTC(),
	}})
	return err
}

// attachMarkerAssociation writes a throwaway association to whichever
// element is writable, preferring one without a live binding so a real
// binding is only superseded as a last resort.
func (m *AssociationManager) attachMarkerAssociation(ctx context.Context, documentID string) error {
	candidates, err := m.client.Select(ctx, collectionElements, nil, store.Options{Limit: 5})
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no element available to carry a marker association")
	}

	target, _ := candidates[0]["id"].(string)
	for _, candidate := range candidates {
		elementID, _ := candidate["id"].(string)
		if elementID == "" {
			continue
		}
		bindings, err := m.client.Select(ctx, collectionAssociations, store.Filter{"element_id": elementID}, store.Options{Limit: 1})
		if err == nil && len(bindings) == 0 {
			target = elementID
			break
		}
	}
	if target == "" {
		return fmt.Errorf("no element available to carry a marker association")
	}

	_, err = m.Bind(ctx, target, documentID, "", models.BindingTypeSyncMarker)
	return err
}

func (m *AssociationManager) recordLocalMarker(_ context.Context, documentID string) error {
	marker := LocalMarker{DocumentID: documentID, RecordedAt: m.clock().UTC()}
	m.markerMu.Lock()
	m.localMarkers = append(m.localMarkers, marker)
	m.markerMu.Unlock()
	m.logger.Warn("store unreachable, sync attempt recorded in process memory only",
		zap.String("document_id", documentID))
	return nil
}

// LocalMarkers returns a copy of the in-process sync markers.
func (m *AssociationManager) LocalMarkers() []LocalMarker {
	m.markerMu.Lock()
	defer m.markerMu.Unlock()
	markers := make([]LocalMarker, len(m.localMarkers))
	copy(markers, m.localMarkers)
	return markers
}

// refreshElementMirror keeps the element's denormalized binding fields
// consistent with the authoritative association row. Mirror staleness is
// logged but never fails the binding itself.
func (m *AssociationManager) refreshElementMirror(ctx context.Context, elementID, column string, bindingType models.BindingType) {
	if _, err := m.client.Update(ctx, collectionElements, store.Filter{"id": elementID}, store.Row{
		"bound_column": column,
		"binding_type": string(bindingType),
	}); err != nil {
		m.logger.Warn("element binding mirror update failed",
			zap.String("element_id", elementID),
			zap.Error(err))
	}
}

func associationFromRow(row store.Row) models.Association {
	association := models.Association{}
	if value, ok := row["id"].(string); ok {
		association.ID = value
	}
	if value, ok := row["element_id"].(string); ok {
		association.ElementID = value
	}
	if value, ok := row["document_id"].(string); ok {
		association.DocumentID = value
	}
	if value, ok := row["sheet_column"].(string); ok {
		association.SheetColumn = value
	}
	if value, ok := row["binding_type"].(string); ok {
		association.BindingType = models.BindingType(value)
	}
	if value, ok := row["created_at"].(time.Time); ok {
		association.CreatedAt = value
	}
	if value, ok := row["updated_at"].(time.Time); ok {
		association.UpdatedAt = value
	}
	return association
}
