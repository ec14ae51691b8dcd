// Package sqlite is a single-node docstore backend on SQLite. Documents are
// stored as BSON so datetimes and identities come back with their types.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/starford/nbstore/internal/docstore"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	path       TEXT,
	body       BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(collection, path);

CREATE TABLE IF NOT EXISTS unique_indexes (
	collection TEXT NOT NULL,
	keys       TEXT NOT NULL,
	UNIQUE(collection, keys)
);
`

// pathField is denormalised into its own column to narrow scans.
const pathField = "path"

// Store is a docstore backed by one SQLite database file.
type Store struct {
	conn *sql.DB
}

var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// Open opens (or creates) the database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	// One connection serialises writers; every write runs in its own transaction.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Collection returns a handle on the named collection.
func (s *Store) Collection(name string) docstore.Collection {
	return &Collection{store: s, name: name}
}

// Ping checks the database. Inside a transaction the transaction's
// connection is known to be alive.
func (s *Store) Ping(ctx context.Context) error {
	if _, ok := txFrom(ctx); ok {
		return nil
	}
	return s.conn.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.conn.Close()
}

type txKey struct{}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// WithTransaction runs fn in one SQL transaction. fn must use the ctx it is
// given for every collection call.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) read(ctx context.Context) queryer {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return s.conn
}

// write runs fn in the caller's transaction or a fresh one.
func (s *Store) write(ctx context.Context, fn func(q queryer) error) error {
	if tx, ok := txFrom(ctx); ok {
		return fn(tx)
	}
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		tx, _ := txFrom(ctx)
		return fn(tx)
	})
}

func encode(doc docstore.Document) ([]byte, error) {
	body, err := bson.Marshal(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode document: %w", err)
	}
	return body, nil
}

func decode(body []byte) (docstore.Document, error) {
	doc, err := docstore.DecodeRaw(body)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return doc, nil
}

func pathValue(doc docstore.Document) any {
	if p, ok := doc[pathField].(string); ok {
		return p
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
