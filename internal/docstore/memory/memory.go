// Package memory is an in-process docstore backend. Data is lost on close.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/starford/nbstore/internal/docstore"
)

// Store keeps every collection in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	closed      bool
	collections map[string]*collection
	txMu        sync.Mutex
}

type collection struct {
	docs    []docstore.Document
	indexes []docstore.UniqueIndex
}

var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Collection returns the named collection, creating it on first write.
func (s *Store) Collection(name string) docstore.Collection {
	return &Collection{store: s, name: name}
}

// Ping fails only after Close.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

// Close drops all data.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = make(map[string]*collection)
	return nil
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// WithTransaction snapshots every collection and restores the snapshot when
// fn fails. Writes made outside the transaction wait until it ends, so a
// rollback never drops them.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.collections = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) snapshot() map[string]*collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*collection, len(s.collections))
	for name, c := range s.collections {
		cp := &collection{
			docs:    make([]docstore.Document, len(c.docs)),
			indexes: slices.Clone(c.indexes),
		}
		for i, d := range c.docs {
			cp.docs[i] = docstore.Clone(d)
		}
		out[name] = cp
	}
	return out
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{}
		s.collections[name] = c
	}
	return c
}

// Collection is a handle on one named collection.
type Collection struct {
	store *Store
	name  string
}

func (c *Collection) read(fn func(col *collection) error) error {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if c.store.closed {
		return docstore.ErrClosed
	}
	col, ok := c.store.collections[c.name]
	if !ok {
		col = &collection{}
	}
	return fn(col)
}

func (c *Collection) write(ctx context.Context, fn func(col *collection) error) error {
	if !inTx(ctx) {
		c.store.txMu.Lock()
		defer c.store.txMu.Unlock()
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.closed {
		return docstore.ErrClosed
	}
	return fn(c.store.coll(c.name))
}

func (c *Collection) Find(ctx context.Context, filter docstore.Filter, fields ...string) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []docstore.Document
	err := c.read(func(col *collection) error {
		for _, d := range col.docs {
			if docstore.Matches(d, filter) {
				out = append(out, docstore.Project(d, fields))
			}
		}
		return nil
	})
	return out, err
}

func (c *Collection) FindOne(ctx context.Context, filter docstore.Filter, fields ...string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out docstore.Document
	err := c.read(func(col *collection) error {
		for _, d := range col.docs {
			if docstore.Matches(d, filter) {
				out = docstore.Project(d, fields)
				return nil
			}
		}
		return docstore.ErrNoDocuments
	})
	return out, err
}

func (c *Collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := c.read(func(col *collection) error {
		for _, d := range col.docs {
			if docstore.Matches(d, filter) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (c *Collection) Insert(ctx context.Context, doc docstore.Document) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := docstore.Clone(doc)
	if _, ok := d[docstore.IDField]; !ok {
		d[docstore.IDField] = docstore.NewID()
	}
	err := c.write(ctx, func(col *collection) error {
		if col.violates(d) {
			return docstore.ErrDuplicateKey
		}
		col.docs = append(col.docs, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d[docstore.IDField], nil
}

func (c *Collection) Update(ctx context.Context, filter docstore.Filter, set docstore.Document, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	var res docstore.UpdateResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	err := c.write(ctx, func(col *collection) error {
		var updated []docstore.Document
		var positions []int
		for i, d := range col.docs {
			if !docstore.Matches(d, filter) {
				continue
			}
			res.Matched++
			next := docstore.Clone(d)
			if docstore.ApplySet(next, set) {
				if col.violates(next) {
					return docstore.ErrDuplicateKey
				}
				updated = append(updated, next)
				positions = append(positions, i)
			}
			if !opts.Multi {
				break
			}
		}
		if res.Matched == 0 && opts.Upsert {
			d := docstore.UpsertDocument(filter, set, opts.SetOnInsert)
			if col.violates(d) {
				return docstore.ErrDuplicateKey
			}
			col.docs = append(col.docs, d)
			res.UpsertedID = d[docstore.IDField]
			return nil
		}
		for i, pos := range positions {
			col.docs[pos] = updated[i]
		}
		res.Modified = int64(len(updated))
		return nil
	})
	return res, err
}

func (c *Collection) Remove(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	err := c.write(ctx, func(col *collection) error {
		kept := col.docs[:0]
		for _, d := range col.docs {
			if docstore.Matches(d, filter) {
				n++
				continue
			}
			kept = append(kept, d)
		}
		clear(col.docs[len(kept):])
		col.docs = kept
		return nil
	})
	return n, err
}

func (c *Collection) EnsureUniqueIndex(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(ctx, func(col *collection) error {
		for _, ix := range col.indexes {
			if slices.Equal(ix, keys) {
				return nil
			}
		}
		ix := docstore.UniqueIndex(slices.Clone(keys))
		for _, d := range col.docs {
			if ix.Violated(col.docs, d, d[docstore.IDField]) {
				return docstore.ErrDuplicateKey
			}
		}
		col.indexes = append(col.indexes, ix)
		return nil
	})
}

func (col *collection) violates(d docstore.Document) bool {
	for _, ix := range col.indexes {
		if ix.Violated(col.docs, d, d[docstore.IDField]) {
			return true
		}
	}
	return false
}
