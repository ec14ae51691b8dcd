// Package importer copies notebooks between a local directory tree and the
// contents store.
package importer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/nbstore/internal/apperr"
	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/models"
	"github.com/starford/nbstore/internal/nbformat"
	"github.com/starford/nbstore/internal/storage"
)

// DefaultPattern selects the files imported when no pattern is configured.
const DefaultPattern = "*" + contents.NotebookExt

// EventCallback is called after each change the importer makes to the store.
// kind is one of "created", "saved", "deleted".
type EventCallback func(kind string, path string)

// Report summarises an import or export run.
type Report struct {
	Directories int      `json:"directories"`
	Notebooks   int      `json:"notebooks"`
	Failed      []string `json:"failed,omitempty"`
}

// Importer moves notebooks from a storage.Provider into a contents.Manager.
type Importer struct {
	mgr     *contents.Manager
	src     storage.Provider
	pattern string
	logger  *slog.Logger
	notify  EventCallback
}

// New returns an importer reading files matching pattern from src.
// notify may be nil.
func New(mgr *contents.Manager, src storage.Provider, pattern string, logger *slog.Logger, notify EventCallback) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(string, string) {}
	}
	return &Importer{
		mgr:     mgr,
		src:     src,
		pattern: cmp.Or(pattern, DefaultPattern),
		logger:  logger,
		notify:  notify,
	}
}

// Import walks the whole source tree. Every directory becomes a directory
// placeholder unless its identity is taken; every matching file is saved as
// a notebook. Per-item failures are logged and reported, not returned.
func (im *Importer) Import(ctx context.Context) (Report, error) {
	return im.importDir(ctx, "")
}

func (im *Importer) importDir(ctx context.Context, dir string) (Report, error) {
	var rep Report
	if dir != "" {
		if err := im.ensureDirectory(ctx, dir); err != nil {
			im.logger.Warn("import: directory failed", slog.String("path", dir), slog.String("error", err.Error()))
			rep.Failed = append(rep.Failed, dir)
		} else {
			rep.Directories++
		}
	}
	items, err := im.src.List(dir, im.pattern)
	if err != nil {
		return rep, fmt.Errorf("import: %w", err)
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if it.Dir {
			if err := im.ensureDirectory(ctx, it.Path); err != nil {
				im.logger.Warn("import: directory failed", slog.String("path", it.Path), slog.String("error", err.Error()))
				rep.Failed = append(rep.Failed, it.Path)
				continue
			}
			rep.Directories++
			continue
		}
		if err := im.ImportFile(ctx, it.Path); err != nil {
			im.logger.Warn("import: notebook failed", slog.String("path", it.Path), slog.String("error", err.Error()))
			rep.Failed = append(rep.Failed, it.Path)
			continue
		}
		rep.Notebooks++
	}
	if rep.Notebooks == 0 && len(rep.Failed) == 0 {
		im.logger.Info("import: no notebooks found", slog.String("dir", dir), slog.String("pattern", im.pattern))
	}
	return rep, nil
}

// ensureDirectory stores a directory placeholder for rel unless something
// already occupies that identity.
func (im *Importer) ensureDirectory(ctx context.Context, rel string) error {
	path, name := contents.SplitPath(rel)
	_, err := im.mgr.CreateDirectory(ctx, name, path)
	switch {
	case err == nil:
		im.logger.Info("import: directory registered", slog.String("path", rel))
		im.notify("created", rel)
		return nil
	case errors.Is(err, apperr.ErrConflict):
		im.logger.Debug("import: directory exists", slog.String("path", rel))
		return nil
	default:
		return err
	}
}

// ImportFile saves the file at rel as a notebook, creating or updating it.
func (im *Importer) ImportFile(ctx context.Context, rel string) error {
	data, err := im.src.Read(rel)
	if err != nil {
		return err
	}
	nb, err := nbformat.Read(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", rel, err)
	}
	path, name := contents.SplitPath(rel)
	existed, err := im.mgr.Exists(ctx, name, path)
	if err != nil {
		return err
	}
	model := models.Model{
		Name:     name,
		Path:     path,
		Type:     models.TypeNotebook,
		Notebook: nb,
		Content:  true,
	}
	if _, err := im.mgr.SaveNotebook(ctx, model, name, path); err != nil {
		return err
	}
	kind := "created"
	if existed {
		kind = "saved"
	}
	im.logger.Info("import: notebook "+kind, slog.String("path", rel))
	im.notify(kind, rel)
	return nil
}

// Export writes every stored directory and notebook under dst.
func Export(ctx context.Context, mgr *contents.Manager, dst storage.Provider, logger *slog.Logger) (Report, error) {
	var rep Report
	err := mgr.WalkDirectories(ctx, func(e models.Entry) error {
		full := contents.JoinPath(e.Path, e.Name)
		if err := dst.Mkdir(full); err != nil {
			return err
		}
		rep.Directories++
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("export: %w", err)
	}
	err = mgr.Walk(ctx, func(e models.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := contents.JoinPath(e.Path, e.Name)
		nb, err := nbformat.Read([]byte(e.Content))
		if err != nil {
			logger.Warn("export: unreadable notebook", slog.String("path", full), slog.String("error", err.Error()))
			rep.Failed = append(rep.Failed, full)
			return nil
		}
		data, err := nbformat.Write(nb)
		if err != nil {
			return err
		}
		if err := dst.Write(full, data); err != nil {
			return err
		}
		logger.Debug("export: notebook written", slog.String("path", full))
		rep.Notebooks++
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("export: %w", err)
	}
	logger.Info("export: done",
		slog.Int("directories", rep.Directories),
		slog.Int("notebooks", rep.Notebooks),
		slog.String("root", dst.Root()))
	return rep, nil
}
