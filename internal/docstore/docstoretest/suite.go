// Package docstoretest holds the behaviour every docstore backend must share,
// plus a fault-injecting wrapper for testing callers.
package docstoretest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/nbstore/internal/docstore"
)

// Run exercises a backend. newStore must return an empty store; it is called
// once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("find on empty collection", func(t *testing.T) {
		c := newStore(t).Collection("notebooks")
		docs, err := c.Find(ctx, docstore.Filter{"path": ""})
		require.NoError(t, err)
		assert.Empty(t, docs)

		_, err = c.FindOne(ctx, docstore.Filter{"path": ""})
		assert.ErrorIs(t, err, docstore.ErrNoDocuments)

		n, err := c.Count(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("insert assigns id and finds by equality", func(t *testing.T) {
		c := newStore(t).Collection("notebooks")
		id, err := c.Insert(ctx, docstore.Document{"path": "a", "name": "x.ipynb", "type": "notebook"})
		require.NoError(t, err)
		require.NotNil(t, id)
		_, err = c.Insert(ctx, docstore.Document{"path": "a", "name": "y.ipynb", "type": "notebook"})
		require.NoError(t, err)
		_, err = c.Insert(ctx, docstore.Document{"path": "b", "name": "x.ipynb", "type": "notebook"})
		require.NoError(t, err)

		doc, err := c.FindOne(ctx, docstore.Filter{"path": "a", "name": "x.ipynb"})
		require.NoError(t, err)
		assert.Equal(t, docstore.IDKey(id), docstore.IDKey(doc[docstore.IDField]))
		assert.Equal(t, "notebook", doc["type"])

		n, err := c.Count(ctx, docstore.Filter{"path": "a"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = c.Count(ctx, docstore.Filter{"name": "x.ipynb"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("projection keeps id and named fields", func(t *testing.T) {
		c := newStore(t).Collection("notebooks")
		_, err := c.Insert(ctx, docstore.Document{"path": "", "name": "n.ipynb", "content": "{}"})
		require.NoError(t, err)

		docs, err := c.Find(ctx, docstore.Filter{"path": ""}, "name")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Contains(t, docs[0], docstore.IDField)
		assert.Equal(t, "n.ipynb", docs[0]["name"])
		assert.NotContains(t, docs[0], "content")
		assert.NotContains(t, docs[0], "path")
	})

	t.Run("datetimes round trip at millisecond precision", func(t *testing.T) {
		c := newStore(t).Collection("notebooks")
		ts := time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC)
		_, err := c.Insert(ctx, docstore.Document{"path": "", "name": "t", "lastModified": ts})
		require.NoError(t, err)

		doc, err := c.FindOne(ctx, docstore.Filter{"name": "t"})
		require.NoError(t, err)
		assert.True(t, docstore.Equal(doc["lastModified"], ts), "got %v", doc["lastModified"])
	})

	t.Run("update sets fields on first match only", func(t *testing.T) {
		c := newStore(t).Collection("checkpoints")
		for _, cp := range []string{"0", "1"} {
			_, err := c.Insert(ctx, docstore.Document{"path": "", "name": "n", "cp": cp, "content": "old"})
			require.NoError(t, err)
		}
		res, err := c.Update(ctx, docstore.Filter{"name": "n"}, docstore.Document{"content": "new"}, docstore.UpdateOptions{})
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.Matched)
		assert.EqualValues(t, 1, res.Modified)

		n, err := c.Count(ctx, docstore.Filter{"content": "new"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("multi update touches every match and keeps other fields", func(t *testing.T) {
		c := newStore(t).Collection("checkpoints")
		for _, cp := range []string{"0", "1", "2"} {
			_, err := c.Insert(ctx, docstore.Document{"path": "a", "name": "n", "cp": cp})
			require.NoError(t, err)
		}
		res, err := c.Update(ctx, docstore.Filter{"path": "a", "name": "n"},
			docstore.Document{"path": "b", "name": "m"}, docstore.UpdateOptions{Multi: true})
		require.NoError(t, err)
		assert.EqualValues(t, 3, res.Matched)

		docs, err := c.Find(ctx, docstore.Filter{"path": "b", "name": "m"})
		require.NoError(t, err)
		require.Len(t, docs, 3)
		var cps []string
		for _, d := range docs {
			cps = append(cps, d["cp"].(string))
		}
		assert.ElementsMatch(t, []string{"0", "1", "2"}, cps)
	})

	t.Run("upsert inserts filter, set and set-on-insert fields", func(t *testing.T) {
		c := newStore(t).Collection("notebooks")
		created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		opts := docstore.UpdateOptions{Upsert: true, SetOnInsert: docstore.Document{"created": created}}

		res, err := c.Update(ctx, docstore.Filter{"path": "", "name": "u"}, docstore.Document{"content": "v1"}, opts)
		require.NoError(t, err)
		assert.Zero(t, res.Matched)
		assert.NotNil(t, res.UpsertedID)

		later := created.Add(time.Hour)
		opts.SetOnInsert = docstore.Document{"created": later}
		res, err = c.Update(ctx, docstore.Filter{"path": "", "name": "u"}, docstore.Document{"content": "v2"}, opts)
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.Matched)
		assert.Nil(t, res.UpsertedID)

		doc, err := c.FindOne(ctx, docstore.Filter{"name": "u"})
		require.NoError(t, err)
		assert.Equal(t, "v2", doc["content"])
		assert.Equal(t, "", doc["path"])
		assert.True(t, docstore.Equal(doc["created"], created), "created overwritten: %v", doc["created"])
	})

	t.Run("remove deletes every match", func(t *testing.T) {
		c := newStore(t).Collection("checkpoints")
		for _, cp := range []string{"0", "1"} {
			_, err := c.Insert(ctx, docstore.Document{"path": "", "name": "gone", "cp": cp})
			require.NoError(t, err)
		}
		_, err := c.Insert(ctx, docstore.Document{"path": "", "name": "kept", "cp": "0"})
		require.NoError(t, err)

		n, err := c.Remove(ctx, docstore.Filter{"path": "", "name": "gone"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		left, err := c.Count(ctx, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 1, left)
	})

	t.Run("unique index rejects duplicates", func(t *testing.T) {
		c := newStore(t).Collection("notebooks")
		require.NoError(t, c.EnsureUniqueIndex(ctx, "path", "name", "type"))
		require.NoError(t, c.EnsureUniqueIndex(ctx, "path", "name", "type"))

		_, err := c.Insert(ctx, docstore.Document{"path": "", "name": "a", "type": "notebook"})
		require.NoError(t, err)
		_, err = c.Insert(ctx, docstore.Document{"path": "", "name": "a", "type": "directory"})
		require.NoError(t, err)
		_, err = c.Insert(ctx, docstore.Document{"path": "", "name": "a", "type": "notebook"})
		assert.ErrorIs(t, err, docstore.ErrDuplicateKey)

		_, err = c.Insert(ctx, docstore.Document{"path": "", "name": "b", "type": "notebook"})
		require.NoError(t, err)
		_, err = c.Update(ctx, docstore.Filter{"name": "b"}, docstore.Document{"name": "a"}, docstore.UpdateOptions{})
		assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
	})

	t.Run("collections are independent", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Collection("one").Insert(ctx, docstore.Document{"name": "x"})
		require.NoError(t, err)
		n, err := s.Collection("two").Count(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := newStore(t)
		tx, ok := s.(docstore.Transactor)
		if !ok || !docstore.SupportsTransactions(s) {
			t.Skip("backend has no transactions")
		}
		c := s.Collection("notebooks")
		_, err := c.Insert(ctx, docstore.Document{"path": "", "name": "keep"})
		require.NoError(t, err)

		boom := errors.New("boom")
		err = tx.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := c.Update(ctx, docstore.Filter{"name": "keep"}, docstore.Document{"name": "moved"}, docstore.UpdateOptions{}); err != nil {
				return err
			}
			if _, err := s.Collection("checkpoints").Insert(ctx, docstore.Document{"name": "moved"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		n, err := c.Count(ctx, docstore.Filter{"name": "keep"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		n, err = s.Collection("checkpoints").Count(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("transaction commits", func(t *testing.T) {
		s := newStore(t)
		tx, ok := s.(docstore.Transactor)
		if !ok || !docstore.SupportsTransactions(s) {
			t.Skip("backend has no transactions")
		}
		err := tx.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := s.Collection("notebooks").Insert(ctx, docstore.Document{"name": "a"})
			return err
		})
		require.NoError(t, err)
		n, err := s.Collection("notebooks").Count(ctx, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}
