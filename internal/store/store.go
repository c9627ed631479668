// Package store persists whole collections of records as single documents.
//
// A collection is read and replaced as a unit; there is no partial update
// and no validation. Callers serialize writes themselves.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sentimentjester/jester/internal/model"
)

// Collection names used by jester.
const (
	Reports  = "reports"
	Subjects = "subjects"
)

// Backend stores named documents. Load returns model.ErrNotFound when the
// document was never saved.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, body []byte) error
	Close() error
}

// Open returns the backend selected by cfg.Type rooted at path.
func Open(ctx context.Context, cfg model.Store, path string) (Backend, error) {
	switch cfg.Type {
	case "", model.StoreJSON:
		return NewFiles(path)
	case model.StoreSQLite:
		return NewSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("%w: unsupported store type %q", model.ErrInvalidRequest, cfg.Type)
	}
}

// Collection is a typed view over one named document holding a JSON array.
type Collection[T any] struct {
	backend Backend
	name    string
}

func NewCollection[T any](backend Backend, name string) Collection[T] {
	return Collection[T]{backend: backend, name: name}
}

// GetAll returns every stored item. A missing document is an empty
// collection.
func (c Collection[T]) GetAll(ctx context.Context) ([]T, error) {
	body, err := c.backend.Load(ctx, c.name)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return []T{}, nil
	case err != nil:
		return nil, unavailable(err)
	}
	var items []T
	if len(body) > 0 {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, unavailable(fmt.Errorf("decoding collection %s: %w", c.name, err))
		}
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// PutAll replaces the whole collection with items.
func (c Collection[T]) PutAll(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding collection %s: %w", c.name, err)
	}
	if err := c.backend.Save(ctx, c.name, body); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, model.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
}
