// Package docstore is a collection/document store: schemaless JSON documents
// addressed by collection name and string key, with merge writes, atomic
// increments, ordered queries and an in-process change feed.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("document not found")

var storeLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	storeLogger = l
}

// Pseudo fields that order or filter on document metadata instead of data.
const (
	FieldID        = "__id"
	FieldCreatedAt = "__created"
	FieldUpdatedAt = "__updated"
)

type Document struct {
	ID         string
	Collection string
	Data       map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DataTo decodes the document data into v, usually a pointer to a struct with json tags.
func (d *Document) DataTo(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", d.Collection, d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Int returns a numeric field, or 0 when it is missing or not a number.
func (d *Document) Int(field string) int64 {
	switch v := d.Data[field].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// String returns a string field, or "" when it is missing.
func (d *Document) String(field string) string {
	if s, ok := d.Data[field].(string); ok {
		return s
	}
	return ""
}

type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	// OpContains matches array fields holding the value.
	OpContains Op = "contains"
	// OpMatch is a case-insensitive substring match on string fields.
	OpMatch Op = "match"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
	// ChangeResync follows dropped changes. Its Document carries only the
	// Collection; subscribers should reload the whole collection.
	ChangeResync
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	case ChangeResync:
		return "resync"
	}
	return "unknown"
}

// Change is delivered to subscribers after a write commits. Document carries
// only ID and Collection for deletions.
type Change struct {
	Kind     ChangeKind
	Document *Document
}

type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Create stores data under a new server-assigned key.
	Create(ctx context.Context, collection string, data map[string]any) (*Document, error)
	// Set overwrites the whole document, creating it if missing.
	Set(ctx context.Context, collection, id string, data map[string]any) (*Document, error)
	// Merge applies data as a JSON merge patch, creating the document if missing.
	Merge(ctx context.Context, collection, id string, data map[string]any) (*Document, error)
	// Update is Merge that fails with ErrNotFound when the document does not exist.
	Update(ctx context.Context, collection, id string, data map[string]any) (*Document, error)
	// Increment atomically adds delta to a numeric field. A missing field counts
	// as zero; a missing document yields ErrNotFound.
	Increment(ctx context.Context, collection, id, field string, delta int64) (*Document, error)
	// Mutate runs fn inside a transaction with the current data. fn must not call the store.
	Mutate(ctx context.Context, collection, id string, fn func(data map[string]any) (map[string]any, error)) (*Document, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]*Document, error)
	// Subscribe streams changes of one collection until ctx is done.
	Subscribe(ctx context.Context, collection string) <-chan Change
	Close() error
}
