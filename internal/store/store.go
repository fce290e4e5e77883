// Package store persists personal data records and field definitions. The
// Store interface mirrors the stored-procedure surface the tools forward to;
// the SQLite implementation is the only one in-tree.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist (or was
// soft-deleted).
var ErrNotFound = errors.New("record not found")

// Classification levels, least to most restricted.
const (
	ClassificationPublic       = "public"
	ClassificationPersonal     = "personal"
	ClassificationSensitive    = "sensitive"
	ClassificationConfidential = "confidential"
)

// ValidClassification reports whether c is a known classification level.
func ValidClassification(c string) bool {
	switch c {
	case ClassificationPublic, ClassificationPersonal, ClassificationSensitive, ClassificationConfidential:
		return true
	default:
		return false
	}
}

// Record is one stored personal data item.
type Record struct {
	ID             string         `json:"id"`
	Category       string         `json:"category"`
	Title          string         `json:"title"`
	Content        map[string]any `json:"content"`
	Tags           []string       `json:"tags"`
	Classification string         `json:"classification"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewRecord is the input to CreateRecord.
type NewRecord struct {
	Category       string
	Title          string
	Content        map[string]any
	Tags           []string
	Classification string
}

// RecordUpdate carries partial updates; nil fields are left unchanged.
type RecordUpdate struct {
	Title          *string
	Content        map[string]any
	Tags           []string
	Classification *string
}

// Category summarizes one data category.
type Category struct {
	Name        string `json:"name"`
	RecordCount int    `json:"record_count"`
}

// FieldDefinition registers an expected content field for validation and
// documentation purposes.
type FieldDefinition struct {
	FieldName       string         `json:"field_name"`
	DataType        string         `json:"data_type"`
	ValidationRules map[string]any `json:"validation_rules,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SearchResult is a record with its search relevance score.
type SearchResult struct {
	Record
	Score float64 `json:"score"`
}

// Store is the persistence contract consumed by the tool surfaces. Methods
// correspond one-to-one to the stored procedures of the original data
// platform. Implementations must be safe for concurrent use.
type Store interface {
	CreateRecord(ctx context.Context, rec NewRecord) (*Record, error)
	GetRecord(ctx context.Context, id string) (*Record, error)
	// ExtractRecords pages through records by category with optional
	// equality filters over top-level content fields.
	ExtractRecords(ctx context.Context, categories []string, filters map[string]string, limit, offset int) ([]Record, error)
	UpdateRecord(ctx context.Context, id string, upd RecordUpdate) (*Record, error)
	// DeleteRecords removes the given ids and reports how many were
	// affected. hard=false soft-deletes (records stop resolving but remain
	// recoverable in the database).
	DeleteRecords(ctx context.Context, ids []string, hard bool) (int, error)
	// SearchRecords ranks records against a free-text query: vector
	// similarity when an embedding provider is configured, keyword matching
	// otherwise.
	SearchRecords(ctx context.Context, query string, categories []string, limit int) ([]SearchResult, error)
	ListCategories(ctx context.Context) ([]Category, error)
	AddFieldDefinition(ctx context.Context, def FieldDefinition) error
	ListFieldDefinitions(ctx context.Context) ([]FieldDefinition, error)
	Close() error
}
