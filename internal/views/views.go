// Package views counts document views. Counts are best-effort: concurrent first
// views of a document may undercount by one.
package views

import (
	"context"
	"errors"
	"fmt"

	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/metrics"
	"github.com/rs/zerolog"
)

// Field is the counter field on counted documents.
const Field = "views"

var viewsLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	viewsLogger = l
}

type Counter interface {
	IncrementView(ctx context.Context, documentID string) error
	Views(ctx context.Context, documentID string) (int64, error)
}

// DocCounter increments the views field directly on the document.
type DocCounter struct {
	store      docstore.Store
	collection string
}

func NewDocCounter(store docstore.Store, collection string) *DocCounter {
	return &DocCounter{store: store, collection: collection}
}

// IncrementView adds one view. A missing document is created with views = 1
// through a merge write; any other failure is returned without retrying.
func (c *DocCounter) IncrementView(ctx context.Context, documentID string) error {
	_, err := c.store.Increment(ctx, c.collection, documentID, Field, 1)
	if err == nil {
		c.observe("incremented")
		return nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		c.observe("error")
		return fmt.Errorf("increment views %s/%s: %w", c.collection, documentID, err)
	}

	// Two first views can both land here; both write 1.
	if _, err := c.store.Merge(ctx, c.collection, documentID, map[string]any{Field: 1}); err != nil {
		c.observe("error")
		return fmt.Errorf("create views %s/%s: %w", c.collection, documentID, err)
	}

	viewsLogger.Debug().Str("collection", c.collection).Str("id", documentID).Msg("Created view counter")
	c.observe("created")
	return nil
}

func (c *DocCounter) Views(ctx context.Context, documentID string) (int64, error) {
	doc, err := c.store.Get(ctx, c.collection, documentID)
	if errors.Is(err, docstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Int(Field), nil
}

func (c *DocCounter) observe(result string) {
	metrics.ViewsIncremented.WithLabelValues(c.collection, result).Inc()
}
