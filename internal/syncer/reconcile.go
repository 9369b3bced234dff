package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/models"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
	"go.uber.org/zap"
)

// ReconcileOptions adjusts a reconciliation batch.
type ReconcileOptions struct {
	// SkipDiff inserts every incoming record unconditionally. Used for the
	// first-ever sync of an owner, where the existence check is provably
	// wasted work.
	SkipDiff bool
}

// RecordError reports one record that could not be upserted. Sibling records
// in the same batch are unaffected.
type RecordError struct {
	Key    string
	Reason string
}

// BatchOutcome reports a reconciliation batch. KeyToID covers every input
// record that was represented, whether inserted, updated, or unchanged.
type BatchOutcome struct {
	KeyToID   map[string]string
	Inserted  int
	Updated   int
	Unchanged int
	Errors    []RecordError
}

// ReconcilerConfig describes the dependencies of the differential engine.
type ReconcilerConfig struct {
	Client store.Client
	Logger *zap.Logger
}

// Reconciler decides, per incoming record, whether to create, update, or
// skip, based on the record's natural key and a structural comparison of its
// tracked fields. Snapshots are frequently near-identical to the previous
// sync, so write volume stays proportional to actual edits.
type Reconciler struct {
	client store.Client
	logger *zap.Logger
}

// NewReconciler constructs the differential upsert engine.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Client == nil {
		return nil, newServiceError(opReconcile, "missing_client", ErrMissingClient)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{client: cfg.Client, logger: logger}, nil
}

// batchSpec describes how one record class maps onto its collection.
type batchSpec struct {
	collection      string
	ownerCollection string
	ownerField      string
	ownerID         string
	keyField        string
	// jsonFields are compared structurally after normalization rather than
	// by string identity.
	jsonFields []string
	// scalarFields are compared by value.
	scalarFields []string
}

// incomingRecord is one snapshot record prepared for reconciliation.
type incomingRecord struct {
	key string
	row store.Row
}

// ReconcileCells reconciles a document's cell snapshot against the store.
func (r *Reconciler) ReconcileCells(ctx context.Context, documentID string, cells []CellSnapshot, opts ReconcileOptions) (BatchOutcome, error) {
	spec := batchSpec{
		collection:      collectionCells,
		ownerCollection: collectionDocuments,
		ownerField:      "document_id",
		ownerID:         documentID,
		keyField:        "reference",
		jsonFields:      []string{"format", "metadata"},
		scalarFields:    []string{"content", "content_type"},
	}

	incoming := make([]incomingRecord, 0, len(cells))
	outcome := newBatchOutcome(len(cells))
	for _, cell := range cells {
		if cell.Reference == "" {
			outcome.Errors = append(outcome.Errors, RecordError{Key: "", Reason: "cell reference is required"})
			continue
		}
		if cell.ContentType == "" {
			cell.ContentType = models.ContentTypeText
		}
		row := store.Row{
			"document_id":  documentID,
			"reference":    cell.Reference,
			"content":      cell.Content,
			"content_type": string(cell.ContentType),
		}
		if err := putJSONField(row, "format", cell.Format); err != nil {
			outcome.Errors = append(outcome.Errors, RecordError{Key: cell.Reference, Reason: err.Error()})
			continue
		}
		if err := putJSONField(row, "metadata", cell.Metadata); err != nil {
			outcome.Errors = append(outcome.Errors, RecordError{Key: cell.Reference, Reason: err.Error()})
			continue
		}
		incoming = append(incoming, incomingRecord{key: cell.Reference, row: row})
	}

	return r.reconcileBatch(ctx, spec, incoming, opts, outcome)
}

// ReconcileElements reconciles a page's element snapshot against the store.
func (r *Reconciler) ReconcileElements(ctx context.Context, pageID string, elements []ElementSnapshot, opts ReconcileOptions) (BatchOutcome, error) {
	spec := batchSpec{
		collection:      collectionElements,
		ownerCollection: collectionPages,
		ownerField:      "page_id",
		ownerID:         pageID,
		keyField:        "external_id",
		jsonFields:      []string{"position", "style"},
		scalarFields:    []string{"element_type", "content"},
	}

	incoming := make([]incomingRecord, 0, len(elements))
	outcome := newBatchOutcome(len(elements))
	for _, element := range elements {
		if element.ExternalID == "" {
			outcome.Errors = append(outcome.Errors, RecordError{Key: "", Reason: "element external id is required"})
			continue
		}
		row := store.Row{
			"page_id":      pageID,
			"external_id":  element.ExternalID,
			"element_type": element.Type,
			"content":      element.Content,
		}
		if err := putJSONField(row, "position", element.Position); err != nil {
			outcome.Errors = append(outcome.Errors, RecordError{Key: element.ExternalID, Reason: err.Error()})
			continue
		}
		if err := putJSONField(row, "style", element.Style); err != nil {
			outcome.Errors = append(outcome.Errors, RecordError{Key: element.ExternalID, Reason: err.Error()})
			continue
		}
		incoming = append(incoming, incomingRecord{key: element.ExternalID, row: row})
	}

	return r.reconcileBatch(ctx, spec, incoming, opts, outcome)
}

func newBatchOutcome(capacity int) BatchOutcome {
	return BatchOutcome{KeyToID: make(map[string]string, capacity)}
}

func (r *Reconciler) reconcileBatch(ctx context.Context, spec batchSpec, incoming []incomingRecord, opts ReconcileOptions, outcome BatchOutcome) (BatchOutcome, error) {
	if spec.ownerID == "" {
		return BatchOutcome{}, newServiceError(opReconcile, "missing_owner",
			fmt.Errorf("%w: reconciling %s", ErrMissingOwner, spec.collection))
	}

	if opts.SkipDiff {
		r.insertRecords(ctx, spec, incoming, &outcome)
		return outcome, nil
	}

	owners, err := r.client.Select(ctx, spec.ownerCollection, store.Filter{"id": spec.ownerID}, store.Options{Limit: 1})
	if err != nil {
		return BatchOutcome{}, newServiceError(opReconcile, "owner_lookup_failed", err)
	}
	if len(owners) == 0 {
		return BatchOutcome{}, newServiceError(opReconcile, "owner_not_found",
			fmt.Errorf("%w: %s %s", ErrMissingOwner, spec.ownerCollection, spec.ownerID))
	}

	existingRows, err := r.client.Select(ctx, spec.collection, store.Filter{spec.ownerField: spec.ownerID}, store.Options{})
	if err != nil {
		return BatchOutcome{}, newServiceError(opReconcile, "load_existing_failed", err)
	}

	existing := make(map[string]store.Row, len(existingRows))
	for _, row := range existingRows {
		key, _ := row[spec.keyField].(string)
		if key == "" {
			continue
		}
		if _, duplicated := existing[key]; duplicated {
			return BatchOutcome{}, newServiceError(opReconcile, "ambiguous_match",
				fmt.Errorf("%w: %s %q appears more than once under %s %s",
					ErrAmbiguousMatch, spec.keyField, key, spec.ownerField, spec.ownerID))
		}
		existing[key] = row
	}

	var toInsert []incomingRecord
	for _, record := range incoming {
		stored, found := existing[record.key]
		if !found {
			toInsert = append(toInsert, record)
			continue
		}

		storedID, _ := stored["id"].(string)
		if recordsEqual(spec, stored, record.row) {
			outcome.KeyToID[record.key] = storedID
			outcome.Unchanged++
			continue
		}

		patch := patchFor(spec, record.row)
		if _, err := r.client.Update(ctx, spec.collection, store.Filter{"id": storedID}, patch); err != nil {
			r.logger.Warn("record update failed",
				zap.String("collection", spec.collection),
				zap.String("owner_id", spec.ownerID),
				zap.String("key", record.key),
				zap.Error(err))
			outcome.Errors = append(outcome.Errors, RecordError{Key: record.key, Reason: err.Error()})
			continue
		}
		outcome.KeyToID[record.key] = storedID
		outcome.Updated++
	}

	r.insertRecords(ctx, spec, toInsert, &outcome)
	return outcome, nil
}

// insertRecords issues one insert per record so a single rejected record
// cannot abort its siblings.
func (r *Reconciler) insertRecords(ctx context.Context, spec batchSpec, records []incomingRecord, outcome *BatchOutcome) {
	for _, record := range records {
		created, err := r.client.Insert(ctx, spec.collection, []store.Row{record.row})
		if err != nil || len(created) == 0 {
			if err == nil {
				err = fmt.Errorf("%w: insert returned no rows", ErrWriteFailure)
			}
			r.logger.Warn("record insert failed",
				zap.String("collection", spec.collection),
				zap.String("owner_id", spec.ownerID),
				zap.String("key", record.key),
				zap.Error(err))
			outcome.Errors = append(outcome.Errors, RecordError{Key: record.key, Reason: err.Error()})
			continue
		}
		insertedID, _ := created[0]["id"].(string)
		outcome.KeyToID[record.key] = insertedID
		outcome.Inserted++
	}
}

// recordsEqual compares the tracked fields of a stored row against an
// incoming row. JSON attributes are compared structurally, so formatting
// differences in the serialized form never count as changes.
func recordsEqual(spec batchSpec, stored, incoming store.Row) bool {
	for _, field := range spec.scalarFields {
		if fmt.Sprint(stored[field]) != fmt.Sprint(incoming[field]) {
			return false
		}
	}
	for _, field := range spec.jsonFields {
		if !jsonValuesEqual(stored[field], incoming[field]) {
			return false
		}
	}
	return true
}

func patchFor(spec batchSpec, incoming store.Row) store.Row {
	patch := store.Row{}
	for _, field := range spec.scalarFields {
		patch[field] = incoming[field]
	}
	for _, field := range spec.jsonFields {
		patch[field] = incoming[field]
	}
	return patch
}

// putJSONField serializes a structured attribute for storage. Absent
// attributes are stored as NULL rather than empty objects.
func putJSONField(row store.Row, field string, value map[string]any) error {
	if value == nil {
		row[field] = nil
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s is not serializable: %w", field, err)
	}
	row[field] = json.RawMessage(encoded)
	return nil
}

// jsonValuesEqual normalizes both sides through a decode round-trip before
// comparing, so []byte vs string storage and key ordering never matter.
func jsonValuesEqual(stored, incoming any) bool {
	return reflect.DeepEqual(normalizeJSON(stored), normalizeJSON(incoming))
}

func normalizeJSON(value any) any {
	var raw []byte
	switch typed := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = typed
	case json.RawMessage:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return typed
		}
		raw = encoded
	}
	if len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	return decoded
}
