// Package testutil provides shared test helpers for building contents managers
// and notebook directories.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/docstore/memory"
	"github.com/starford/nbstore/internal/nbformat"
	"github.com/starford/nbstore/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Manager returns a contents manager over a fresh in-memory store with
// checkpoint history enabled and indexes created.
func Manager(t *testing.T) *contents.Manager {
	t.Helper()
	logger := Logger()
	session := docstore.NewSession(memory.New(), nil, docstore.WithLogger(logger))
	notary, err := nbformat.NewNotary(nil, contents.NewSignatures(session, "signatures"), logger)
	if err != nil {
		t.Fatal(err)
	}
	mgr := contents.New(session, contents.NewHost(notary, contents.DefaultHideGlobs),
		contents.Config{CheckpointsHistory: true}, contents.WithLogger(logger))
	if err := mgr.EnsureIndexes(context.Background()); err != nil {
		t.Fatal(err)
	}
	return mgr
}

// Dir creates a temporary notebook directory with a storage.Provider.
func Dir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}
