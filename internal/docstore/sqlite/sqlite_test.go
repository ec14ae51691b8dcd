package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/docstore/docstoretest"
	"github.com/starford/nbstore/internal/docstore/sqlite"
)

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "nbstore-test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSQLiteStore(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		return testStore(t)
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	c := s.Collection("notebooks")
	require.NoError(t, c.EnsureUniqueIndex(ctx, "path", "name", "type"))
	id, err := c.Insert(ctx, docstore.Document{"path": "a", "name": "n.ipynb", "type": "notebook"})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s, err = sqlite.Open(path)
	require.NoError(t, err)
	defer s.Close(ctx)
	c = s.Collection("notebooks")

	doc, err := c.FindOne(ctx, docstore.Filter{"path": "a", "name": "n.ipynb"})
	require.NoError(t, err)
	assert.Equal(t, id, doc[docstore.IDField])

	_, err = c.Insert(ctx, docstore.Document{"path": "a", "name": "n.ipynb", "type": "notebook"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey, "unique index should survive reopen")
}

func TestSQLiteStoreDuplicateID(t *testing.T) {
	ctx := context.Background()
	c := testStore(t).Collection("notebooks")
	id := docstore.NewID()
	_, err := c.Insert(ctx, docstore.Document{docstore.IDField: id, "name": "a"})
	require.NoError(t, err)
	_, err = c.Insert(ctx, docstore.Document{docstore.IDField: id, "name": "b"})
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
}

func TestSQLiteStoreNestedValues(t *testing.T) {
	ctx := context.Background()
	c := testStore(t).Collection("signatures")
	_, err := c.Insert(ctx, docstore.Document{
		"name": "nested",
		"meta": map[string]any{"algorithm": "sha256", "tags": []any{"a", "b"}},
	})
	require.NoError(t, err)

	doc, err := c.FindOne(ctx, docstore.Filter{"name": "nested"})
	require.NoError(t, err)
	meta, ok := doc["meta"].(map[string]any)
	require.True(t, ok, "nested document decoded as %T", doc["meta"])
	assert.Equal(t, "sha256", meta["algorithm"])
	assert.Equal(t, []any{"a", "b"}, meta["tags"])
}

func TestSQLiteSessionConcurrentTransaction(t *testing.T) {
	ctx := context.Background()
	session := docstore.NewSession(testStore(t), nil)

	inTx := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- session.WithTransaction(ctx, func(ctx context.Context) error {
			close(inTx)
			time.Sleep(200 * time.Millisecond)
			c, err := session.Collection(ctx, "notebooks")
			if err != nil {
				return err
			}
			_, err = c.Insert(ctx, docstore.Document{"path": "", "name": "tx.ipynb"})
			return err
		})
	}()

	<-inTx
	readDone := make(chan error, 1)
	go func() {
		c, err := session.Collection(ctx, "notebooks")
		if err != nil {
			readDone <- err
			return
		}
		_, err = c.Count(ctx, nil)
		readDone <- err
	}()

	for _, ch := range []chan error{txDone, readDone} {
		select {
		case err := <-ch:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("session access blocked behind a running transaction")
		}
	}

	c, err := session.Collection(ctx, "notebooks")
	require.NoError(t, err)
	n, err := c.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
