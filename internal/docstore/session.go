package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dialer opens a new connection to the document database.
type Dialer func(ctx context.Context) (Store, error)

// Session owns the live Store handle. Before handing out a collection it
// checks the connection and redials once if the check fails.
type Session struct {
	dial     Dialer
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	store     Store
	lastAlive time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLivenessInterval skips the liveness check when the last successful one
// is younger than d. Zero checks before every access.
func WithLivenessInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.interval = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// Connect dials the store and returns a session over it.
func Connect(ctx context.Context, dial Dialer, opts ...SessionOption) (*Session, error) {
	st, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}
	return NewSession(st, dial, opts...), nil
}

// NewSession wraps an already connected store. dial may be nil, in which case
// a failed liveness check is returned as is.
func NewSession(st Store, dial Dialer, opts ...SessionOption) *Session {
	s := &Session{
		dial:   dial,
		store:  st,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the current store after making sure it is alive. The
// liveness check runs without holding the session lock, so a caller inside a
// store transaction never waits on a check queued behind that transaction.
func (s *Session) Store(ctx context.Context) (Store, error) {
	s.mu.Lock()
	st := s.store
	fresh := s.interval > 0 && time.Since(s.lastAlive) < s.interval
	s.mu.Unlock()

	if st == nil {
		return nil, ErrClosed
	}
	if fresh {
		return st, nil
	}
	pingErr := st.Ping(ctx)
	if pingErr == nil {
		s.mu.Lock()
		if s.store == st {
			s.lastAlive = time.Now()
		}
		s.mu.Unlock()
		return st, nil
	}
	if s.dial == nil {
		return nil, fmt.Errorf("docstore: ping: %w", pingErr)
	}
	return s.redial(ctx, st, pingErr)
}

// redial replaces stale with a freshly dialled store. Concurrent callers that
// saw the same stale store share one redial.
func (s *Session) redial(ctx context.Context, stale Store, pingErr error) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil, ErrClosed
	}
	if s.store != stale {
		return s.store, nil
	}

	s.logger.Warn("document store unreachable, reconnecting", slog.String("error", pingErr.Error()))
	st, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("docstore: reconnect: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("docstore: reconnect: %w", err)
	}
	_ = s.store.Close(ctx)
	s.store = st
	s.lastAlive = time.Now()
	s.logger.Info("document store reconnected")
	return st, nil
}

// Collection returns the named collection of a live store.
func (s *Session) Collection(ctx context.Context, name string) (Collection, error) {
	st, err := s.Store(ctx)
	if err != nil {
		return nil, err
	}
	return st.Collection(name), nil
}

// Transactional reports whether the current store can run transactions.
func (s *Session) Transactional() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store != nil && SupportsTransactions(s.store)
}

// WithTransaction runs fn inside a store transaction when the store supports
// one, and plainly otherwise.
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	st, err := s.Store(ctx)
	if err != nil {
		return err
	}
	if tx, ok := st.(Transactor); ok && SupportsTransactions(st) {
		return tx.WithTransaction(ctx, fn)
	}
	return fn(ctx)
}

// Ping checks the store without reconnecting.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	if st == nil {
		return ErrClosed
	}
	return st.Ping(ctx)
}

// Close closes the underlying store.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close(ctx)
	s.store = nil
	return err
}
