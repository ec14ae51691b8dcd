// Package contents maps the notebook contents model onto document
// collections: the path mapper, the checkpoint engine and the operation layer
// the outer surfaces call.
package contents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/nbstore/internal/apperr"
	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/models"
)

// Stored field names.
const (
	fieldID           = docstore.IDField
	fieldPath         = "path"
	fieldName         = "name"
	fieldType         = "type"
	fieldContent      = "content"
	fieldCreated      = "created"
	fieldLastModified = "lastModified"
	fieldCheckpoint   = "cp"
	fieldEntryID      = "id"
)

// listFields is the projection used when content is not needed.
var listFields = []string{fieldPath, fieldName, fieldType, fieldCreated, fieldLastModified}

func storeErr(msg string, err error) error {
	if errors.Is(err, apperr.ErrStoreFailure) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, apperr.ErrStoreFailure, err)
}

func identity(f docstore.Filter, name, path string) docstore.Filter {
	f[fieldPath] = path
	f[fieldName] = name
	return f
}

// Mapper resolves (path, name) identities against the primary collection
// and keeps checkpoints in step when entries move or go away.
type Mapper struct {
	session     *docstore.Session
	notebooks   string
	checkpoints string
	logger      *slog.Logger
}

// NewMapper returns a mapper over the two named collections.
func NewMapper(session *docstore.Session, notebooks, checkpoints string, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{session: session, notebooks: notebooks, checkpoints: checkpoints, logger: logger}
}

func (m *Mapper) entries(ctx context.Context) (docstore.Collection, error) {
	c, err := m.session.Collection(ctx, m.notebooks)
	if err != nil {
		return nil, storeErr("document store unavailable", err)
	}
	return c, nil
}

func (m *Mapper) checkpointColl(ctx context.Context) (docstore.Collection, error) {
	c, err := m.session.Collection(ctx, m.checkpoints)
	if err != nil {
		return nil, storeErr("document store unavailable", err)
	}
	return c, nil
}

// EnsureIndexes creates the unique indexes backing identity uniqueness.
func (m *Mapper) EnsureIndexes(ctx context.Context) error {
	entries, err := m.entries(ctx)
	if err != nil {
		return err
	}
	if err := entries.EnsureUniqueIndex(ctx, fieldPath, fieldName, fieldType); err != nil {
		return storeErr("create entry index", err)
	}
	cps, err := m.checkpointColl(ctx)
	if err != nil {
		return err
	}
	if err := cps.EnsureUniqueIndex(ctx, fieldPath, fieldName, fieldCheckpoint); err != nil {
		return storeErr("create checkpoint index", err)
	}
	return nil
}

// PathExists reports whether any entry lives directly under path. The root
// always exists.
func (m *Mapper) PathExists(ctx context.Context, path string) (bool, error) {
	path = NormalizePath(path)
	if path == "" {
		return true, nil
	}
	entries, err := m.entries(ctx)
	if err != nil {
		return false, err
	}
	n, err := entries.Count(ctx, docstore.Filter{fieldPath: path})
	if err != nil {
		return false, storeErr("check path", err)
	}
	return n > 0, nil
}

// EntryExists reports whether exactly one entry of type t has the identity.
// More than one is reported as apperr.ErrAmbiguous.
func (m *Mapper) EntryExists(ctx context.Context, name, path string, t models.EntryType) (bool, error) {
	path = NormalizePath(path)
	entries, err := m.entries(ctx)
	if err != nil {
		return false, err
	}
	n, err := entries.Count(ctx, identity(docstore.Filter{fieldType: string(t)}, name, path))
	if err != nil {
		return false, storeErr("check entry", err)
	}
	switch {
	case n == 0:
		return false, nil
	case n == 1:
		return true, nil
	default:
		return false, fmt.Errorf("%d %s entries named %s: %w", n, t, JoinPath(path, name), apperr.ErrAmbiguous)
	}
}

// AnyExists reports whether any entry, of any type, has the identity.
func (m *Mapper) AnyExists(ctx context.Context, name, path string) (bool, error) {
	entries, err := m.entries(ctx)
	if err != nil {
		return false, err
	}
	n, err := entries.Count(ctx, identity(docstore.Filter{}, name, NormalizePath(path)))
	if err != nil {
		return false, storeErr("check entry", err)
	}
	return n > 0, nil
}

// FindEntry loads one entry. withContent false leaves Content empty.
func (m *Mapper) FindEntry(ctx context.Context, name, path string, t models.EntryType, withContent bool) (models.Entry, error) {
	path = NormalizePath(path)
	entries, err := m.entries(ctx)
	if err != nil {
		return models.Entry{}, err
	}
	var fields []string
	if !withContent {
		fields = listFields
	}
	doc, err := entries.FindOne(ctx, identity(docstore.Filter{fieldType: string(t)}, name, path), fields...)
	if errors.Is(err, docstore.ErrNoDocuments) {
		return models.Entry{}, fmt.Errorf("%s does not exist: %s: %w", t, JoinPath(path, name), apperr.ErrNotFound)
	}
	if err != nil {
		return models.Entry{}, storeErr("load entry", err)
	}
	var e models.Entry
	if err := docstore.Decode(doc, &e); err != nil {
		return models.Entry{}, storeErr("decode entry", err)
	}
	return e, nil
}

// ListNames returns the names of entries of type t under path, in store order.
func (m *Mapper) ListNames(ctx context.Context, path string, t models.EntryType) ([]string, error) {
	docs, err := m.find(ctx, path, t, fieldName)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		if n, ok := d[fieldName].(string); ok {
			names = append(names, n)
		}
	}
	return names, nil
}

// ListEntries returns the entries of type t under path without content.
func (m *Mapper) ListEntries(ctx context.Context, path string, t models.EntryType) ([]models.Entry, error) {
	docs, err := m.find(ctx, path, t, listFields...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Entry, 0, len(docs))
	for _, d := range docs {
		var e models.Entry
		if err := docstore.Decode(d, &e); err != nil {
			return nil, storeErr("decode entry", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Mapper) find(ctx context.Context, path string, t models.EntryType, fields ...string) ([]docstore.Document, error) {
	entries, err := m.entries(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := entries.Find(ctx, docstore.Filter{fieldPath: NormalizePath(path), fieldType: string(t)}, fields...)
	if err != nil {
		return nil, storeErr("list entries", err)
	}
	return docs, nil
}

// Upsert writes set onto the entry of type t with the identity, creating it
// with onInsert as well when missing.
func (m *Mapper) Upsert(ctx context.Context, name, path string, t models.EntryType, set, onInsert docstore.Document) error {
	entries, err := m.entries(ctx)
	if err != nil {
		return err
	}
	filter := identity(docstore.Filter{fieldType: string(t)}, name, NormalizePath(path))
	_, err = entries.Update(ctx, filter, set, docstore.UpdateOptions{Upsert: true, SetOnInsert: onInsert})
	if errors.Is(err, docstore.ErrDuplicateKey) {
		return fmt.Errorf("%s already exists: %s: %w", t, JoinPath(path, name), apperr.ErrConflict)
	}
	if err != nil {
		return storeErr("write entry", err)
	}
	return nil
}

// Insert stores a new entry.
func (m *Mapper) Insert(ctx context.Context, e models.Entry) error {
	entries, err := m.entries(ctx)
	if err != nil {
		return err
	}
	doc, err := docstore.Encode(e)
	if err != nil {
		return storeErr("encode entry", err)
	}
	if _, err := entries.Insert(ctx, doc); err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return fmt.Errorf("%s already exists: %s: %w", e.Type, JoinPath(e.Path, e.Name), apperr.ErrConflict)
		}
		return storeErr("insert entry", err)
	}
	return nil
}

// Rename moves an entry and all of its checkpoints to a new identity. It is a
// no-op when the identity is unchanged and fails with apperr.ErrConflict when
// something already lives at the destination. On stores without transactions
// a failure after the entry moved leaves its checkpoints behind; Repair
// collects them.
func (m *Mapper) Rename(ctx context.Context, oldName, oldPath, newName, newPath string) error {
	oldPath, newPath = NormalizePath(oldPath), NormalizePath(newPath)
	if oldName == newName && oldPath == newPath {
		return nil
	}
	from, to := JoinPath(oldPath, oldName), JoinPath(newPath, newName)

	return m.session.WithTransaction(ctx, func(ctx context.Context) error {
		taken, err := m.AnyExists(ctx, newName, newPath)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("notebook with name already exists: %s: %w", to, apperr.ErrConflict)
		}

		entries, err := m.entries(ctx)
		if err != nil {
			return err
		}
		moved := docstore.Document{fieldPath: newPath, fieldName: newName}
		_, err = entries.Update(ctx, identity(docstore.Filter{}, oldName, oldPath), moved, docstore.UpdateOptions{})
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return fmt.Errorf("notebook with name already exists: %s: %w", to, apperr.ErrConflict)
		}
		if err != nil {
			return storeErr("unknown error renaming notebook "+from, err)
		}

		cps, err := m.checkpointColl(ctx)
		if err != nil {
			return err
		}
		if _, err := cps.Update(ctx, identity(docstore.Filter{}, oldName, oldPath), moved, docstore.UpdateOptions{Multi: true}); err != nil {
			return storeErr("unknown error moving checkpoints of "+from, err)
		}
		m.logger.Debug("entry renamed", slog.String("from", from), slog.String("to", to))
		return nil
	})
}

// Delete removes an entry and every checkpoint of it, checkpoints first.
func (m *Mapper) Delete(ctx context.Context, name, path string) error {
	path = NormalizePath(path)
	full := JoinPath(path, name)

	return m.session.WithTransaction(ctx, func(ctx context.Context) error {
		ok, err := m.AnyExists(ctx, name, path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("entry does not exist: %s: %w", full, apperr.ErrNotFound)
		}

		cps, err := m.checkpointColl(ctx)
		if err != nil {
			return err
		}
		if _, err := cps.Remove(ctx, identity(docstore.Filter{}, name, path)); err != nil {
			return storeErr("delete checkpoints of "+full, err)
		}
		entries, err := m.entries(ctx)
		if err != nil {
			return err
		}
		if _, err := entries.Remove(ctx, identity(docstore.Filter{}, name, path)); err != nil {
			return storeErr("delete "+full, err)
		}
		m.logger.Debug("entry deleted", slog.String("path", full))
		return nil
	})
}

// CountUnder reports how many entries live directly under path.
func (m *Mapper) CountUnder(ctx context.Context, path string) (int64, error) {
	entries, err := m.entries(ctx)
	if err != nil {
		return 0, err
	}
	n, err := entries.Count(ctx, docstore.Filter{fieldPath: NormalizePath(path)})
	if err != nil {
		return 0, storeErr("count entries", err)
	}
	return n, nil
}
