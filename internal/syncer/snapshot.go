package syncer

import (
	"github.com/EmmanuelGava/sincrogoo/backend/internal/models"
)

// CellSnapshot is one incoming spreadsheet cell, natural-keyed by its
// A1-style reference string.
type CellSnapshot struct {
	Reference   string             `json:"naturalKey"`
	Content     string             `json:"content"`
	ContentType models.ContentType `json:"type"`
	Format      map[string]any     `json:"format,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// DocumentSnapshot is the spreadsheet-shaped payload supplied by the
// external content reader for one document.
type DocumentSnapshot struct {
	ExternalID string         `json:"externalId"`
	Title      string         `json:"title"`
	Cells      []CellSnapshot `json:"leafRecords"`
}

// BindingSpec declares the spreadsheet column an element mirrors. The
// document is referenced by its provider id and resolved against the
// documents synced in the same pass.
type BindingSpec struct {
	DocumentExternalID string             `json:"documentExternalId"`
	Column             string             `json:"column"`
	BindingType        models.BindingType `json:"bindingType"`
}

// ElementSnapshot is one incoming page element, natural-keyed by its
// provider element id.
type ElementSnapshot struct {
	ExternalID string         `json:"externalId"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Position   map[string]any `json:"position,omitempty"`
	Style      map[string]any `json:"style,omitempty"`
	Binding    *BindingSpec   `json:"binding,omitempty"`
}

// PageSnapshot is one incoming deck page. Order is caller-supplied display
// sequencing.
type PageSnapshot struct {
	ExternalID string            `json:"externalId"`
	Title      string            `json:"title"`
	Order      int               `json:"order"`
	Elements   []ElementSnapshot `json:"elements"`
}

// DeckSnapshot is the slide-deck-shaped payload supplied by the external
// content reader for one deck.
type DeckSnapshot struct {
	ExternalID string         `json:"externalId"`
	Title      string         `json:"title"`
	Pages      []PageSnapshot `json:"pages"`
}

// SyncError reports one skipped unit of work inside an otherwise successful
// sync pass.
type SyncError struct {
	Scope  string `json:"scope"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// SyncResult aggregates the outcome of one project sync. Counts cover the
// records represented in the snapshot that were successfully reconciled,
// whether or not they needed a write.
type SyncResult struct {
	DocumentIDMap    map[string]string `json:"documentIdMap"`
	DeckIDMap        map[string]string `json:"deckIdMap"`
	CellCount        int               `json:"cellCount"`
	ElementCount     int               `json:"elementCount"`
	AssociationCount int               `json:"associationCount"`
	Errors           []SyncError       `json:"errors"`
}
