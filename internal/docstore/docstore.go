// Package docstore is a thin accessor over a document database: named
// collections of schemaless documents addressed by exact-match filters.
//
// Backends live in sub-packages (mongo, sqlite, memory). They share the
// matching and projection rules in this package so that all of them answer
// the same queries the same way.
package docstore

import (
	"context"
	"errors"
)

// IDField is the identity field every stored document carries.
const IDField = "_id"

var (
	// ErrNoDocuments is returned by FindOne when nothing matches.
	ErrNoDocuments = errors.New("docstore: no documents in result")
	// ErrDuplicateKey is returned when a write would violate a unique index.
	ErrDuplicateKey = errors.New("docstore: duplicate key")
	// ErrClosed is returned by a store that has been closed.
	ErrClosed = errors.New("docstore: store closed")
)

// Document is a single stored record.
type Document map[string]any

// Filter selects documents whose fields equal every given value.
type Filter map[string]any

// UpdateOptions controls Update.
type UpdateOptions struct {
	// Upsert inserts a document built from the filter, the set fields and
	// SetOnInsert when nothing matches.
	Upsert bool
	// Multi updates every match instead of the first one.
	Multi bool
	// SetOnInsert fields are written only when the update inserts.
	SetOnInsert Document
}

// UpdateResult reports what Update changed.
type UpdateResult struct {
	Matched    int64
	Modified   int64
	UpsertedID any
}

// Collection is one named set of documents.
type Collection interface {
	// Find returns every match in store order. With fields set, each document
	// holds only _id and the named fields.
	Find(ctx context.Context, filter Filter, fields ...string) ([]Document, error)
	// FindOne returns the first match or ErrNoDocuments.
	FindOne(ctx context.Context, filter Filter, fields ...string) (Document, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	// Insert stores doc and returns its identity, assigning one if doc has none.
	Insert(ctx context.Context, doc Document) (any, error)
	// Update sets the given fields on matching documents.
	Update(ctx context.Context, filter Filter, set Document, opts UpdateOptions) (UpdateResult, error)
	// Remove deletes every match and returns how many were deleted.
	Remove(ctx context.Context, filter Filter) (int64, error)
	// EnsureUniqueIndex makes the combination of keys unique in the collection.
	EnsureUniqueIndex(ctx context.Context, keys ...string) error
}

// Store is a connected document database.
type Store interface {
	Collection(name string) Collection
	// Ping reports whether the connection is usable.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Transactor is implemented by stores that can run several writes atomically.
// Collection calls made with the ctx handed to fn take part in the transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SupportsTransactions reports whether s runs WithTransaction atomically.
// A Transactor may opt out at runtime with a TransactionsEnabled method.
func SupportsTransactions(s Store) bool {
	if _, ok := s.(Transactor); !ok {
		return false
	}
	if te, ok := s.(interface{ TransactionsEnabled() bool }); ok {
		return te.TransactionsEnabled()
	}
	return true
}
