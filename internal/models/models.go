package models

import (
	"time"

	"gorm.io/datatypes"
)

// ContentType enumerates the supported cell content tags.
type ContentType string

const (
	ContentTypeText    ContentType = "text"
	ContentTypeNumber  ContentType = "number"
	ContentTypeFormula ContentType = "formula"
	ContentTypeDate    ContentType = "date"
	ContentTypeImage   ContentType = "image"
)

// BindingType enumerates how an element mirrors a spreadsheet column.
type BindingType string

const (
	// BindingTypeContent replaces the element content with the cell value.
	BindingTypeContent BindingType = "content"
	// BindingTypeTemplate interpolates the cell value into element templates.
	BindingTypeTemplate BindingType = "template"
	// BindingTypeSyncMarker is reserved for throwaway associations recorded
	// only as evidence that a sync pass ran. Never treated as a live binding.
	BindingTypeSyncMarker BindingType = "sync-marker"
)

// Project owns the documents and decks synchronized for one workspace.
type Project struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	Name      string    `gorm:"column:name;size:320;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Project) TableName() string {
	return "projects"
}

// Document is a spreadsheet-like content unit owned by a project. The
// provider-issued external id is unique across all documents.
type Document struct {
	ID           string     `gorm:"column:id;primaryKey;size:36;not null"`
	ProjectID    string     `gorm:"column:project_id;size:36;not null;index"`
	ExternalID   string     `gorm:"column:external_id;size:190;not null;uniqueIndex"`
	Title        string     `gorm:"column:title;size:320;not null"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Document) TableName() string {
	return "documents"
}

// Cell is one addressable unit of a document, natural-keyed by its A1-style
// reference string, unique within the owning document.
type Cell struct {
	ID          string         `gorm:"column:id;primaryKey;size:36;not null"`
	DocumentID  string         `gorm:"column:document_id;size:36;not null;uniqueIndex:idx_cells_document_reference,priority:1"`
	Reference   string         `gorm:"column:reference;size:32;not null;uniqueIndex:idx_cells_document_reference,priority:2"`
	Content     string         `gorm:"column:content;type:text;not null"`
	ContentType ContentType    `gorm:"column:content_type;size:32;not null;default:'text'"`
	Format      datatypes.JSON `gorm:"column:format"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Cell) TableName() string {
	return "cells"
}

// Deck is a slide-like content unit owned by a project, with the same
// external/internal id duality as Document.
type Deck struct {
	ID           string     `gorm:"column:id;primaryKey;size:36;not null"`
	ProjectID    string     `gorm:"column:project_id;size:36;not null;index"`
	ExternalID   string     `gorm:"column:external_id;size:190;not null;uniqueIndex"`
	Title        string     `gorm:"column:title;size:320;not null"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Deck) TableName() string {
	return "decks"
}

// Page belongs to a deck, natural-keyed by the provider page id. OrderIndex
// is caller-supplied display sequencing, never derived.
type Page struct {
	ID         string    `gorm:"column:id;primaryKey;size:36;not null"`
	DeckID     string    `gorm:"column:deck_id;size:36;not null;uniqueIndex:idx_pages_deck_external,priority:1"`
	ExternalID string    `gorm:"column:external_id;size:190;not null;uniqueIndex:idx_pages_deck_external,priority:2"`
	Title      string    `gorm:"column:title;size:320"`
	OrderIndex int       `gorm:"column:order_index;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Page) TableName() string {
	return "pages"
}

// Element belongs to a page, natural-keyed by the provider element id.
// BoundColumn and BindingType mirror the element's current association for
// cheap reads; the association row stays authoritative.
type Element struct {
	ID          string         `gorm:"column:id;primaryKey;size:36;not null"`
	PageID      string         `gorm:"column:page_id;size:36;not null;uniqueIndex:idx_elements_page_external,priority:1"`
	ExternalID  string         `gorm:"column:external_id;size:190;not null;uniqueIndex:idx_elements_page_external,priority:2"`
	Type        string         `gorm:"column:element_type;size:64;not null"`
	Content     string         `gorm:"column:content;type:text"`
	Position    datatypes.JSON `gorm:"column:position"`
	Style       datatypes.JSON `gorm:"column:style"`
	BoundColumn string         `gorm:"column:bound_column;size:32"`
	BindingType BindingType    `gorm:"column:binding_type;size:32"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Element) TableName() string {
	return "elements"
}

// Association is the single live link from a page element to a spreadsheet
// column. The unique index on element_id backs the at-most-one-binding
// invariant; rebinds update the existing row in place.
type Association struct {
	ID          string      `gorm:"column:id;primaryKey;size:36;not null"`
	ElementID   string      `gorm:"column:element_id;size:36;not null;uniqueIndex"`
	DocumentID  string      `gorm:"column:document_id;size:36;not null;index"`
	SheetColumn string      `gorm:"column:sheet_column;size:32;not null"`
	BindingType BindingType `gorm:"column:binding_type;size:32;not null"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (Association) TableName() string {
	return "associations"
}

// SyncEvent is the sentinel record written when a sync pass must be
// evidenced but no concrete binding exists.
type SyncEvent struct {
	ID         string    `gorm:"column:id;primaryKey;size:36;not null"`
	DocumentID string    `gorm:"column:document_id;size:36;not null;index"`
	Kind       string    `gorm:"column:kind;size:64;not null"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null"`
}

func (SyncEvent) TableName() string {
	return "sync_events"
}
