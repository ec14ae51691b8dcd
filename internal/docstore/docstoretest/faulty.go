package docstoretest

import (
	"context"
	"sync"

	"github.com/starford/nbstore/internal/docstore"
)

// Op names a collection operation for fault injection.
type Op string

const (
	OpFind   Op = "find"
	OpCount  Op = "count"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Faulty wraps a store and fails chosen operations. It never exposes the
// inner store's transactions, so callers see a non-transactional store.
type Faulty struct {
	Inner docstore.Store

	mu      sync.Mutex
	faults  []fault
	pingErr error
}

type fault struct {
	coll string
	op   Op
	skip int
	err  error
}

var _ docstore.Store = (*Faulty)(nil)

// NewFaulty wraps inner.
func NewFaulty(inner docstore.Store) *Faulty {
	return &Faulty{Inner: inner}
}

// FailAfter makes the (skip+1)-th call of op on coll return err, once.
func (f *Faulty) FailAfter(coll string, op Op, skip int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, fault{coll: coll, op: op, skip: skip, err: err})
}

// FailPing makes Ping return err until it is reset with nil.
func (f *Faulty) FailPing(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *Faulty) check(coll string, op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.faults {
		ft := &f.faults[i]
		if ft.coll != coll || ft.op != op || ft.err == nil {
			continue
		}
		if ft.skip > 0 {
			ft.skip--
			continue
		}
		err := ft.err
		ft.err = nil
		return err
	}
	return nil
}

func (f *Faulty) Collection(name string) docstore.Collection {
	return &faultyCollection{f: f, name: name, inner: f.Inner.Collection(name)}
}

func (f *Faulty) Ping(ctx context.Context) error {
	f.mu.Lock()
	err := f.pingErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Inner.Ping(ctx)
}

func (f *Faulty) Close(ctx context.Context) error { return f.Inner.Close(ctx) }

type faultyCollection struct {
	f     *Faulty
	name  string
	inner docstore.Collection
}

func (c *faultyCollection) Find(ctx context.Context, filter docstore.Filter, fields ...string) ([]docstore.Document, error) {
	if err := c.f.check(c.name, OpFind); err != nil {
		return nil, err
	}
	return c.inner.Find(ctx, filter, fields...)
}

func (c *faultyCollection) FindOne(ctx context.Context, filter docstore.Filter, fields ...string) (docstore.Document, error) {
	if err := c.f.check(c.name, OpFind); err != nil {
		return nil, err
	}
	return c.inner.FindOne(ctx, filter, fields...)
}

func (c *faultyCollection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := c.f.check(c.name, OpCount); err != nil {
		return 0, err
	}
	return c.inner.Count(ctx, filter)
}

func (c *faultyCollection) Insert(ctx context.Context, doc docstore.Document) (any, error) {
	if err := c.f.check(c.name, OpInsert); err != nil {
		return nil, err
	}
	return c.inner.Insert(ctx, doc)
}

func (c *faultyCollection) Update(ctx context.Context, filter docstore.Filter, set docstore.Document, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	if err := c.f.check(c.name, OpUpdate); err != nil {
		return docstore.UpdateResult{}, err
	}
	return c.inner.Update(ctx, filter, set, opts)
}

func (c *faultyCollection) Remove(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := c.f.check(c.name, OpRemove); err != nil {
		return 0, err
	}
	return c.inner.Remove(ctx, filter)
}

func (c *faultyCollection) EnsureUniqueIndex(ctx context.Context, keys ...string) error {
	return c.inner.EnsureUniqueIndex(ctx, keys...)
}

// FaultyTx is a Faulty that keeps the inner store's transactions, so faults
// injected inside one roll it back.
type FaultyTx struct {
	*Faulty
}

var _ docstore.Transactor = FaultyTx{}

// NewFaultyTx wraps a transactional inner store.
func NewFaultyTx(inner docstore.Store) FaultyTx {
	return FaultyTx{Faulty: NewFaulty(inner)}
}

func (f FaultyTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, ok := f.Inner.(docstore.Transactor)
	if !ok {
		return fn(ctx)
	}
	return tx.WithTransaction(ctx, fn)
}
