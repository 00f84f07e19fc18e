// Package store provides durable, schemaless document storage with
// per-collection live subscriptions. Writes are single-document upserts with
// last-write-wins semantics; there is no cross-document transaction support.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("document not found")

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one push event on a collection subscription.
type Change struct {
	Kind       ChangeKind
	Collection string
	ID         string
	Doc        map[string]interface{}
}

// Filter matches documents whose fields equal every entry.
type Filter map[string]interface{}

type Document struct {
	ID   string
	Data map[string]interface{}
}

// Subscription is a cancellable stream of changes for one collection.
// Close must be called when the consuming session ends, otherwise the
// store keeps pushing into a dead channel buffer.
type Subscription struct {
	C     <-chan Change
	close func()
}

func (s *Subscription) Close() {
	if s.close != nil {
		s.close()
	}
}

func NewSubscription(c <-chan Change, close func()) *Subscription {
	return &Subscription{C: c, close: close}
}

type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (map[string]interface{}, error)
	// Put upserts the full document under the given ID. Concurrent writers
	// race at last-write-wins; there is no merge.
	Put(ctx context.Context, collection, id string, doc map[string]interface{}) error
	Delete(ctx context.Context, collection, id string) error
	// Query returns all documents matching the filter (nil matches all).
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)
	// Subscribe opens a live feed of changes to the collection.
	Subscribe(ctx context.Context, collection string) (*Subscription, error)
}

func matches(doc map[string]interface{}, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
