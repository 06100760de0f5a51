// Package store persists entity collections as one JSON document per
// collection. Every mutation is a read-modify-write of the whole collection,
// serialized per collection by the backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt is returned when a stored document exists but cannot be decoded.
// It is never treated as an empty collection.
var ErrCorrupt = errors.New("record store document is corrupt")

// Backend persists raw collection documents.
type Backend interface {
	// Load returns the stored document for name. ok is false when nothing has
	// been stored under that name yet.
	Load(ctx context.Context, name string) (data []byte, ok bool, err error)

	// Update passes the current document to fn and atomically replaces it with
	// the returned bytes. Concurrent updates of the same name are serialized.
	// If fn returns an error nothing is written.
	Update(ctx context.Context, name string, fn func(data []byte, ok bool) ([]byte, error)) error

	Close() error
}

// Collection is a typed view over one named document holding a list of records.
type Collection[T any] struct {
	name    string
	backend Backend
}

// NewCollection returns a typed collection stored under name.
func NewCollection[T any](backend Backend, name string) *Collection[T] {
	return &Collection[T]{name: name, backend: backend}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Load returns all records. An absent document yields an empty slice.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	data, ok, err := c.backend.Load(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", c.name, err)
	}
	return c.decode(data, ok)
}

// Update applies fn to the full record list and writes the result back.
func (c *Collection[T]) Update(ctx context.Context, fn func(records []T) ([]T, error)) error {
	err := c.backend.Update(ctx, c.name, func(data []byte, ok bool) ([]byte, error) {
		records, err := c.decode(data, ok)
		if err != nil {
			return nil, err
		}

		records, err = fn(records)
		if err != nil {
			return nil, err
		}

		return c.encode(records)
	})
	if err != nil {
		return fmt.Errorf("updating %s: %w", c.name, err)
	}
	return nil
}

func (c *Collection[T]) decode(data []byte, ok bool) ([]T, error) {
	if !ok {
		return []T{}, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, c.name, err)
	}

	raw, found := doc[c.name]
	if !found {
		return nil, fmt.Errorf("%w: %s: missing %q key", ErrCorrupt, c.name, c.name)
	}

	var records []T
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, c.name, err)
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

func (c *Collection[T]) encode(records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	data, err := json.MarshalIndent(map[string][]T{c.name: records}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", c.name, err)
	}
	return data, nil
}
