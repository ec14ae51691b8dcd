package importer_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/importer"
	"github.com/starford/nbstore/internal/models"
	"github.com/starford/nbstore/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(kind, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+path)
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestImportTree(t *testing.T) {
	ctx := context.Background()
	mgr := testutil.Manager(t)
	root, src := testutil.Dir(t)
	writeFile(t, root, "top.ipynb", `{"cells":["a"]}`)
	writeFile(t, root, "reports/q1.ipynb", `{"cells":["b"]}`)
	writeFile(t, root, "reports/notes.txt", "skip me")
	writeFile(t, root, "broken.ipynb", `[1,2]`)
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	rec := &recorder{}
	rep, err := importer.New(mgr, src, "", testutil.Logger(), rec.record).Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Directories)
	assert.Equal(t, 2, rep.Notebooks)
	assert.Equal(t, []string{"broken.ipynb"}, rep.Failed)

	m, err := mgr.GetNotebook(ctx, "q1.ipynb", "reports", true)
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, m.Notebook["cells"])

	dirs, err := mgr.ListDirectories(ctx, "")
	require.NoError(t, err)
	var names []string
	for _, d := range dirs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"empty", "reports"}, names)
	assert.True(t, rec.has("created:top.ipynb"))
	assert.True(t, rec.has("created:reports"))

	// A second run updates in place and keeps the directories.
	writeFile(t, root, "top.ipynb", `{"cells":["a2"]}`)
	rep, err = importer.New(mgr, src, "", testutil.Logger(), rec.record).Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Notebooks)
	assert.True(t, rec.has("saved:top.ipynb"))
	m, err = mgr.GetNotebook(ctx, "top.ipynb", "", true)
	require.NoError(t, err)
	assert.Equal(t, []any{"a2"}, m.Notebook["cells"])
}

func TestImportEmpty(t *testing.T) {
	mgr := testutil.Manager(t)
	_, src := testutil.Dir(t)
	rep, err := importer.New(mgr, src, "", testutil.Logger(), nil).Import(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Notebooks)
	assert.Empty(t, rep.Failed)
}

func TestImportSkipsDirectoryOverNotebook(t *testing.T) {
	ctx := context.Background()
	mgr := testutil.Manager(t)
	_, err := mgr.SaveNotebook(ctx, models.Model{Type: models.TypeNotebook, Notebook: map[string]any{"cells": []any{}}, Content: true}, "taken", "")
	require.NoError(t, err)

	root, src := testutil.Dir(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "taken"), 0o755))
	rep, err := importer.New(mgr, src, "", testutil.Logger(), nil).Import(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Failed)

	ok, err := mgr.Mapper().EntryExists(ctx, "taken", "", models.TypeDirectory)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	mgr := testutil.Manager(t)
	_, err := mgr.CreateDirectory(ctx, "empty", "")
	require.NoError(t, err)
	_, err = mgr.SaveNotebook(ctx, models.Model{Type: models.TypeNotebook, Notebook: map[string]any{"cells": []any{"x"}}, Content: true}, "n.ipynb", "deep/er")
	require.NoError(t, err)

	root, dst := testutil.Dir(t)
	rep, err := importer.Export(ctx, mgr, dst, testutil.Logger())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Directories)
	assert.Equal(t, 1, rep.Notebooks)

	info, err := os.Stat(filepath.Join(root, "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	data, err := os.ReadFile(filepath.Join(root, "deep", "er", "n.ipynb"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"cells":["x"]}`, string(data))

	// Exported trees import back unchanged.
	other := testutil.Manager(t)
	rep, err = importer.New(other, dst, "", testutil.Logger(), nil).Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Notebooks)
	ok, err := other.Exists(ctx, "n.ipynb", contents.NormalizePath("deep/er"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWatch(t *testing.T) {
	mgr := testutil.Manager(t)
	root, src := testutil.Dir(t)
	rec := &recorder{}
	im := importer.New(mgr, src, "", testutil.Logger(), rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- im.Watch(ctx, true) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)

	writeFile(t, root, "new.ipynb", `{"cells":["w"]}`)
	require.Eventually(t, func() bool {
		ok, err := mgr.Exists(context.Background(), "new.ipynb", "")
		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond, "new file not imported by watcher")

	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.Eventually(t, func() bool {
		ok, err := mgr.Mapper().EntryExists(context.Background(), "sub", "", models.TypeDirectory)
		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond, "new directory not registered")

	require.NoError(t, os.Rename(filepath.Join(root, "new.ipynb"), filepath.Join(root, "sub", "moved.ipynb")))
	require.Eventually(t, func() bool {
		gone, err := mgr.Exists(context.Background(), "new.ipynb", "")
		if err != nil || gone {
			return false
		}
		moved, err := mgr.Exists(context.Background(), "moved.ipynb", "sub")
		return err == nil && moved
	}, 5*time.Second, 50*time.Millisecond, "rename not reconciled")
	assert.True(t, rec.has("deleted:new.ipynb"))
}
