package contents

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/starford/nbstore/internal/apperr"
	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/models"
	"github.com/starford/nbstore/internal/nbformat"
)

// NotebookExt is the extension given to generated notebook names.
const NotebookExt = ".ipynb"

// Config names the collections and the checkpoint policy.
type Config struct {
	NotebookCollection   string
	CheckpointCollection string
	// CheckpointsHistory keeps every checkpoint instead of only the latest.
	CheckpointsHistory bool
	// UntitledName is the base of generated notebook names.
	UntitledName string
	// Backend is reported by Info.
	Backend string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager implements the contents operations on top of the mapper and the
// checkpoint engine.
type Manager struct {
	mapper      *Mapper
	checkpoints *Checkpoints
	host        Host
	untitled    string
	backend     string
	logger      *slog.Logger
	now         func() time.Time
}

// New builds a manager over session.
func New(session *docstore.Session, host Host, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		host:     host,
		untitled: cmp.Or(cfg.UntitledName, "Untitled"),
		backend:  cmp.Or(cfg.Backend, "mongodb"),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.mapper = NewMapper(session,
		cmp.Or(cfg.NotebookCollection, "notebooks"),
		cmp.Or(cfg.CheckpointCollection, "checkpoints"),
		m.logger)
	m.checkpoints = NewCheckpoints(m.mapper, cfg.CheckpointsHistory, m.logger)
	return m
}

// Mapper exposes the path mapper.
func (m *Manager) Mapper() *Mapper { return m.mapper }

// Checkpoints exposes the checkpoint engine.
func (m *Manager) Checkpoints() *Checkpoints { return m.checkpoints }

// EnsureIndexes prepares the collections.
func (m *Manager) EnsureIndexes(ctx context.Context) error {
	return m.mapper.EnsureIndexes(ctx)
}

// Info describes where notebooks are served from.
func (m *Manager) Info() string {
	return "Serving notebooks from " + m.backend
}

// IsHidden reports whether a path is hidden. Nothing stored is.
func (m *Manager) IsHidden(string) bool { return false }

// PathExists reports whether path is a directory.
func (m *Manager) PathExists(ctx context.Context, path string) (bool, error) {
	return m.mapper.PathExists(ctx, path)
}

// isDirectory reports whether (path, name) names a directory: the root, a
// directory placeholder, or a path some entry lives under.
func (m *Manager) isDirectory(ctx context.Context, name, path string) (bool, error) {
	full := JoinPath(path, name)
	if full == "" {
		return true, nil
	}
	if name != "" {
		ok, err := m.mapper.EntryExists(ctx, name, path, models.TypeDirectory)
		if err != nil || ok {
			return ok, err
		}
	}
	return m.mapper.PathExists(ctx, full)
}

// Exists reports whether (path, name) is a directory or a notebook.
func (m *Manager) Exists(ctx context.Context, name, path string) (bool, error) {
	path = NormalizePath(path)
	if ok, err := m.isDirectory(ctx, name, path); err != nil || ok {
		return ok, err
	}
	return m.mapper.EntryExists(ctx, name, path, models.TypeNotebook)
}

// GetModel returns the directory or notebook at (path, name).
func (m *Manager) GetModel(ctx context.Context, name, path string, content bool) (models.Model, error) {
	path = NormalizePath(path)
	dir, err := m.isDirectory(ctx, name, path)
	if err != nil {
		return models.Model{}, err
	}
	if dir {
		return m.GetDirectory(ctx, name, path, content)
	}
	ok, err := m.mapper.EntryExists(ctx, name, path, models.TypeNotebook)
	if err != nil {
		return models.Model{}, err
	}
	if !ok {
		return models.Model{}, fmt.Errorf("no such file or directory: %s: %w", JoinPath(path, name), apperr.ErrNotFound)
	}
	return m.GetNotebook(ctx, name, path, content)
}

// GetDirectory returns a directory model, listing its children when content
// is requested.
func (m *Manager) GetDirectory(ctx context.Context, name, path string, content bool) (models.Model, error) {
	path = NormalizePath(path)
	full := JoinPath(path, name)
	dir, err := m.isDirectory(ctx, name, path)
	if err != nil {
		return models.Model{}, err
	}
	if !dir {
		return models.Model{}, fmt.Errorf("directory does not exist: %s: %w", full, apperr.ErrNotFound)
	}

	model := models.Model{Name: name, Path: path, Type: models.TypeDirectory}
	if name != "" {
		e, err := m.mapper.FindEntry(ctx, name, path, models.TypeDirectory, false)
		switch {
		case err == nil:
			model.Created, model.LastModified = e.Created, e.LastModified
		case !errors.Is(err, apperr.ErrNotFound):
			return models.Model{}, err
		}
	}
	if !content {
		return model, nil
	}

	dirs, err := m.ListDirectories(ctx, full)
	if err != nil {
		return models.Model{}, err
	}
	notebooks, err := m.ListNotebooks(ctx, full)
	if err != nil {
		return models.Model{}, err
	}
	model.Content = true
	model.Children = append(dirs, notebooks...)
	return model, nil
}

// ListNotebooks returns the listable notebooks directly under path, without
// content, sorted case-insensitively by name.
func (m *Manager) ListNotebooks(ctx context.Context, path string) ([]models.Model, error) {
	return m.list(ctx, path, models.TypeNotebook)
}

// ListDirectories returns the directory placeholders directly under path.
func (m *Manager) ListDirectories(ctx context.Context, path string) ([]models.Model, error) {
	return m.list(ctx, path, models.TypeDirectory)
}

func (m *Manager) list(ctx context.Context, path string, t models.EntryType) ([]models.Model, error) {
	path = NormalizePath(path)
	entries, err := m.mapper.ListEntries(ctx, path, t)
	if err != nil {
		return nil, err
	}
	out := make([]models.Model, 0, len(entries))
	for _, e := range entries {
		if !m.host.ShouldList(e.Name) {
			continue
		}
		out = append(out, modelOf(e))
	}
	slices.SortStableFunc(out, func(a, b models.Model) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out, nil
}

func modelOf(e models.Entry) models.Model {
	return models.Model{
		Name:         e.Name,
		Path:         e.Path,
		Type:         e.Type,
		Created:      e.Created,
		LastModified: e.LastModified,
	}
}

// GetNotebook returns a notebook, decoded with cell trust marked when
// content is requested.
func (m *Manager) GetNotebook(ctx context.Context, name, path string, content bool) (models.Model, error) {
	path = NormalizePath(path)
	full := JoinPath(path, name)
	ok, err := m.mapper.EntryExists(ctx, name, path, models.TypeNotebook)
	if err != nil {
		return models.Model{}, err
	}
	if !ok {
		return models.Model{}, fmt.Errorf("notebook does not exist: %s: %w", full, apperr.ErrNotFound)
	}
	e, err := m.mapper.FindEntry(ctx, name, path, models.TypeNotebook, content)
	if err != nil {
		return models.Model{}, err
	}
	model := modelOf(e)
	if !content {
		return model, nil
	}
	nb, err := nbformat.Read([]byte(e.Content))
	if err != nil {
		return models.Model{}, fmt.Errorf("unreadable notebook %s: %w: %w", full, apperr.ErrStoreFailure, err)
	}
	m.host.MarkTrustedCells(ctx, nb, full)
	model.Notebook = nb
	model.Content = true
	return model, nil
}

// IncrementName returns the first "<base><n><ext>" not taken under path,
// counting from 0.
func (m *Manager) IncrementName(ctx context.Context, base, path string) (string, error) {
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s%d%s", base, i, NotebookExt)
		taken, err := m.mapper.AnyExists(ctx, name, path)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
	}
}

// CreateNotebook creates a notebook under path. Without content it gets the
// host's default notebook; without a name it gets the next free Untitled name.
func (m *Manager) CreateNotebook(ctx context.Context, model models.Model, path string) (models.Model, error) {
	path = NormalizePath(path)
	if !model.Content || model.Notebook == nil {
		model.Notebook = m.host.NewNotebook()
		model.Content = true
	}
	name := model.Name
	if name == "" {
		var err error
		if name, err = m.IncrementName(ctx, m.untitled, path); err != nil {
			return models.Model{}, err
		}
	} else {
		if err := validName(name); err != nil {
			return models.Model{}, err
		}
		taken, err := m.mapper.AnyExists(ctx, name, path)
		if err != nil {
			return models.Model{}, err
		}
		if taken {
			return models.Model{}, fmt.Errorf("already exists: %s: %w", JoinPath(path, name), apperr.ErrConflict)
		}
	}
	model.Name, model.Path = name, path
	return m.SaveNotebook(ctx, model, name, path)
}

// validName rejects names that cannot address a single path component.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("invalid name %q: %w", name, apperr.ErrInvalidInput)
	}
	return nil
}

// target is where a model asks to be stored: its own name and path when it
// names itself, else (path, name).
func target(model models.Model, name, path string) (string, string) {
	if model.Name == "" {
		return name, path
	}
	return model.Name, NormalizePath(model.Path)
}

// SaveNotebook stores model's notebook at (path, name), moving it first when
// the model names a different identity. An existing notebook without any
// checkpoint is snapshotted before it is overwritten.
func (m *Manager) SaveNotebook(ctx context.Context, model models.Model, name, path string) (models.Model, error) {
	path = NormalizePath(path)
	full := JoinPath(path, name)
	if !model.Content || model.Notebook == nil {
		return models.Model{}, fmt.Errorf("no notebook JSON data provided: %s: %w", full, apperr.ErrInvalidInput)
	}
	newName, newPath := target(model, name, path)
	if err := validName(newName); err != nil {
		return models.Model{}, err
	}

	if err := m.save(ctx, model, name, path); err != nil {
		if errors.Is(err, apperr.ErrStoreFailure) {
			return models.Model{}, apperr.ClientFault(fmt.Errorf("unexpected error while autosaving notebook: %s: %w", full, err))
		}
		return models.Model{}, err
	}
	return m.GetNotebook(ctx, newName, newPath, false)
}

func (m *Manager) save(ctx context.Context, model models.Model, name, path string) error {
	exists, err := m.mapper.EntryExists(ctx, name, path, models.TypeNotebook)
	if err != nil {
		return err
	}
	if exists {
		n, err := m.checkpoints.Count(ctx, name, path)
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := m.CreateCheckpoint(ctx, name, path); err != nil {
				return err
			}
		}
	}

	newName, newPath := target(model, name, path)
	if exists && (newName != name || newPath != path) {
		if err := m.mapper.Rename(ctx, name, path, newName, newPath); err != nil {
			return err
		}
	}
	if !exists {
		taken, err := m.mapper.AnyExists(ctx, newName, newPath)
		if err != nil {
			return err
		}
		if taken {
			ok, err := m.mapper.EntryExists(ctx, newName, newPath, models.TypeNotebook)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("a directory already exists: %s: %w", JoinPath(newPath, newName), apperr.ErrConflict)
			}
		}
	}

	full := JoinPath(newPath, newName)
	nb := model.Notebook.Clone()
	m.host.CheckAndSign(ctx, nb, full)
	nbformat.ClearName(nb)
	data, err := nbformat.Write(nb)
	if err != nil {
		return fmt.Errorf("encode %s: %w: %w", full, apperr.ErrInvalidInput, err)
	}

	now := m.now().UTC()
	set := docstore.Document{
		fieldType:         string(models.TypeNotebook),
		fieldContent:      string(data),
		fieldLastModified: now,
	}
	onInsert := docstore.Document{fieldCreated: now}
	if !model.Created.IsZero() {
		set[fieldCreated] = model.Created.UTC()
		onInsert = nil
	}
	if err := m.mapper.Upsert(ctx, newName, newPath, models.TypeNotebook, set, onInsert); err != nil {
		return err
	}
	m.logger.Debug("notebook saved", slog.String("path", full))
	return nil
}

// UpdateNotebook applies a rename-only update and returns the moved model.
func (m *Manager) UpdateNotebook(ctx context.Context, model models.Model, name, path string) (models.Model, error) {
	path = NormalizePath(path)
	newName, newPath := target(model, name, path)
	if newName != name || newPath != path {
		if err := m.RenameNotebook(ctx, name, path, newName, newPath); err != nil {
			return models.Model{}, err
		}
	}
	return m.GetNotebook(ctx, newName, newPath, false)
}

// RenameNotebook moves a notebook and its checkpoints.
func (m *Manager) RenameNotebook(ctx context.Context, oldName, oldPath, newName, newPath string) error {
	oldPath = NormalizePath(oldPath)
	if err := validName(newName); err != nil {
		return err
	}
	ok, err := m.mapper.EntryExists(ctx, oldName, oldPath, models.TypeNotebook)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("notebook does not exist: %s: %w", JoinPath(oldPath, oldName), apperr.ErrNotFound)
	}
	if err := m.mapper.Rename(ctx, oldName, oldPath, newName, newPath); err != nil {
		return err
	}
	m.logger.Info("notebook renamed",
		slog.String("from", JoinPath(oldPath, oldName)),
		slog.String("to", JoinPath(newPath, newName)))
	return nil
}

// DeleteNotebook removes a notebook and its checkpoints.
func (m *Manager) DeleteNotebook(ctx context.Context, name, path string) error {
	path = NormalizePath(path)
	ok, err := m.mapper.EntryExists(ctx, name, path, models.TypeNotebook)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("notebook does not exist: %s: %w", JoinPath(path, name), apperr.ErrNotFound)
	}
	if err := m.mapper.Delete(ctx, name, path); err != nil {
		return err
	}
	m.logger.Info("notebook deleted", slog.String("path", JoinPath(path, name)))
	return nil
}

// CreateDirectory stores a directory placeholder.
func (m *Manager) CreateDirectory(ctx context.Context, name, path string) (models.Model, error) {
	path = NormalizePath(path)
	full := JoinPath(path, name)
	if err := validName(name); err != nil {
		return models.Model{}, err
	}
	taken, err := m.mapper.AnyExists(ctx, name, path)
	if err != nil {
		return models.Model{}, err
	}
	if taken {
		return models.Model{}, fmt.Errorf("already exists: %s: %w", full, apperr.ErrConflict)
	}
	now := m.now().UTC()
	if err := m.mapper.Insert(ctx, models.Entry{
		Path:         path,
		Name:         name,
		Type:         models.TypeDirectory,
		Created:      now,
		LastModified: now,
	}); err != nil {
		return models.Model{}, err
	}
	m.logger.Info("directory created", slog.String("path", full))
	return m.GetDirectory(ctx, name, path, false)
}

// DeleteDirectory removes an empty directory placeholder.
func (m *Manager) DeleteDirectory(ctx context.Context, name, path string) error {
	path = NormalizePath(path)
	full := JoinPath(path, name)
	ok, err := m.mapper.EntryExists(ctx, name, path, models.TypeDirectory)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("directory does not exist: %s: %w", full, apperr.ErrNotFound)
	}
	n, err := m.mapper.CountUnder(ctx, full)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("directory not empty: %s: %w", full, apperr.ErrConflict)
	}
	if err := m.mapper.Delete(ctx, name, path); err != nil {
		return err
	}
	m.logger.Info("directory deleted", slog.String("path", full))
	return nil
}

// Delete removes whatever lives at (path, name).
func (m *Manager) Delete(ctx context.Context, name, path string) error {
	ok, err := m.mapper.EntryExists(ctx, name, NormalizePath(path), models.TypeDirectory)
	if err != nil {
		return err
	}
	if ok {
		return m.DeleteDirectory(ctx, name, path)
	}
	return m.DeleteNotebook(ctx, name, path)
}

// CreateCheckpoint snapshots a notebook.
func (m *Manager) CreateCheckpoint(ctx context.Context, name, path string) (models.CheckpointInfo, error) {
	m.logger.Debug("creating checkpoint", slog.String("path", JoinPath(path, name)))
	return m.checkpoints.Create(ctx, name, path)
}

// ListCheckpoints returns a notebook's checkpoints ordered by id.
func (m *Manager) ListCheckpoints(ctx context.Context, name, path string) ([]models.CheckpointInfo, error) {
	return m.checkpoints.List(ctx, name, path)
}

// RestoreCheckpoint writes a checkpoint back onto its notebook.
func (m *Manager) RestoreCheckpoint(ctx context.Context, id, name, path string) error {
	m.logger.Info("restoring notebook checkpoint",
		slog.String("path", JoinPath(path, name)), slog.String("checkpoint_id", id))
	return m.checkpoints.Restore(ctx, id, name, path)
}

// DeleteCheckpoint removes one checkpoint.
func (m *Manager) DeleteCheckpoint(ctx context.Context, id, name, path string) error {
	m.logger.Debug("deleting checkpoint",
		slog.String("path", JoinPath(path, name)), slog.String("checkpoint_id", id))
	return m.checkpoints.Delete(ctx, id, name, path)
}
