package importer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/nbstore/internal/apperr"
	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/models"
	"github.com/starford/nbstore/internal/storage"
)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the source root and imports created
// or changed notebooks until ctx is cancelled. New directories are added to
// the watch list and registered as directory placeholders. When
// mirrorDeletes is set, removed files delete the stored notebook.
//
// fsnotify reports renames on the old path only, so each rename schedules a
// reconciliation pass over the whole tree.
func (im *Importer) Watch(ctx context.Context, mirrorDeletes bool) error {
	root := im.src.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	im.logger.Info("watcher: started", slog.String("root", root), slog.String("pattern", im.pattern))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			im.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			im.reconcile(ctx, mirrorDeletes)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			im.handle(ctx, w, ev, mirrorDeletes, scheduleReconcile)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			im.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (im *Importer) handle(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event, mirrorDeletes bool, scheduleReconcile func()) {
	if storage.Hidden(filepath.Base(ev.Name)) {
		return
	}
	rel, err := relPath(im.src, ev.Name)
	if err != nil || rel == "" {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
				im.logger.Warn("watcher: add new dir failed",
					slog.String("path", rel),
					slog.String("error", addErr.Error()))
			}
			if _, err := im.importDir(ctx, rel); err != nil {
				im.logger.Warn("watcher: import new dir failed",
					slog.String("path", rel),
					slog.String("error", err.Error()))
			}
			return
		}
	}

	if !storage.Match(im.pattern, rel) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if err := im.ImportFile(ctx, rel); err != nil {
			im.logger.Warn("watcher: import failed", slog.String("path", rel), slog.String("error", err.Error()))
		}

	case ev.Op&fsnotify.Remove != 0:
		if mirrorDeletes {
			im.deleteNotebook(ctx, rel)
		}

	case ev.Op&fsnotify.Rename != 0:
		if mirrorDeletes {
			im.deleteNotebook(ctx, rel)
		}
		scheduleReconcile()
	}
}

func (im *Importer) deleteNotebook(ctx context.Context, rel string) {
	path, name := contents.SplitPath(rel)
	err := im.mgr.DeleteNotebook(ctx, name, path)
	switch {
	case err == nil:
		im.logger.Debug("watcher: deleted", slog.String("path", rel))
		im.notify("deleted", rel)
	case errors.Is(err, apperr.ErrNotFound):
	default:
		im.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

// reconcile imports files whose stored copy is missing and, when
// mirrorDeletes is set, removes stored notebooks that no longer have a file.
func (im *Importer) reconcile(ctx context.Context, mirrorDeletes bool) {
	items, err := im.src.List("", im.pattern)
	if err != nil {
		im.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}
	disk := make(map[string]bool, len(items))
	for _, it := range items {
		if !it.Dir {
			disk[it.Path] = true
		}
	}

	stored := make(map[string]bool)
	err = im.mgr.Walk(ctx, func(e models.Entry) error {
		stored[contents.JoinPath(e.Path, e.Name)] = true
		return nil
	})
	if err != nil {
		im.logger.Warn("reconcile: walk failed", slog.String("error", err.Error()))
		return
	}

	if mirrorDeletes {
		for p := range stored {
			if !disk[p] && storage.Match(im.pattern, p) {
				im.deleteNotebook(ctx, p)
			}
		}
	}
	for p := range disk {
		if stored[p] {
			continue
		}
		if err := im.ImportFile(ctx, p); err != nil {
			im.logger.Warn("reconcile: import failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

func relPath(src storage.Provider, abs string) (string, error) {
	rel, err := filepath.Rel(src.Root(), abs)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// addDirsRecursive adds root and all its visible subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && storage.Hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
