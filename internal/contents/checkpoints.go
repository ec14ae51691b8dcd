package contents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/starford/nbstore/internal/apperr"
	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/models"
)

// Checkpoints snapshots entries into the checkpoint collection.
//
// In history mode every snapshot is kept under its own ordinal id. Otherwise
// each entry has a single snapshot that is overwritten in place.
type Checkpoints struct {
	mapper  *Mapper
	history bool
	logger  *slog.Logger
}

// NewCheckpoints returns the checkpoint engine for the mapper's collections.
func NewCheckpoints(mapper *Mapper, history bool, logger *slog.Logger) *Checkpoints {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkpoints{mapper: mapper, history: history, logger: logger}
}

// History reports whether every checkpoint is kept.
func (c *Checkpoints) History() bool { return c.history }

// Count returns the number of checkpoints of an entry.
func (c *Checkpoints) Count(ctx context.Context, name, path string) (int64, error) {
	cps, err := c.mapper.checkpointColl(ctx)
	if err != nil {
		return 0, err
	}
	n, err := cps.Count(ctx, identity(docstore.Filter{}, name, NormalizePath(path)))
	if err != nil {
		return 0, storeErr("count checkpoints", err)
	}
	return n, nil
}

// Create snapshots the current state of a notebook.
func (c *Checkpoints) Create(ctx context.Context, name, path string) (models.CheckpointInfo, error) {
	path = NormalizePath(path)
	full := JoinPath(path, name)

	entries, err := c.mapper.entries(ctx)
	if err != nil {
		return models.CheckpointInfo{}, err
	}
	doc, err := entries.FindOne(ctx, identity(docstore.Filter{fieldType: string(models.TypeNotebook)}, name, path))
	if errors.Is(err, docstore.ErrNoDocuments) {
		return models.CheckpointInfo{}, fmt.Errorf("notebook does not exist: %s: %w", full, apperr.ErrNotFound)
	}
	if err != nil {
		return models.CheckpointInfo{}, storeErr("load "+full, err)
	}
	var entry models.Entry
	if err := docstore.Decode(doc, &entry); err != nil {
		return models.CheckpointInfo{}, storeErr("decode "+full, err)
	}

	cps, err := c.mapper.checkpointColl(ctx)
	if err != nil {
		return models.CheckpointInfo{}, err
	}
	id, err := c.nextID(ctx, cps, name, path)
	if err != nil {
		return models.CheckpointInfo{}, err
	}

	snapshot := docstore.Clone(doc)
	delete(snapshot, fieldID)
	snapshot[fieldCheckpoint] = id

	filter := identity(docstore.Filter{}, name, path)
	if c.history {
		filter[fieldCheckpoint] = id
	} else {
		filter[fieldEntryID] = doc[fieldID]
		snapshot[fieldEntryID] = doc[fieldID]
	}
	if _, err := cps.Update(ctx, filter, snapshot, docstore.UpdateOptions{Upsert: true}); err != nil {
		return models.CheckpointInfo{}, storeErr("write checkpoint of "+full, err)
	}

	c.logger.Debug("checkpoint created", slog.String("path", full), slog.String("checkpoint_id", id))
	return models.CheckpointInfo{ID: id, LastModified: entry.LastModified}, nil
}

// nextID is the number of existing checkpoints, moved past any ordinal
// already taken so a deleted checkpoint never causes an overwrite.
func (c *Checkpoints) nextID(ctx context.Context, cps docstore.Collection, name, path string) (string, error) {
	docs, err := cps.Find(ctx, identity(docstore.Filter{}, name, path), fieldCheckpoint)
	if err != nil {
		return "", storeErr("list checkpoints", err)
	}
	next := len(docs)
	if c.history {
		for _, d := range docs {
			s, _ := d[fieldCheckpoint].(string)
			if n, err := strconv.Atoi(s); err == nil && n >= next {
				next = n + 1
			}
		}
	}
	return strconv.Itoa(next), nil
}

// List returns the checkpoints of an entry ordered by id.
func (c *Checkpoints) List(ctx context.Context, name, path string) ([]models.CheckpointInfo, error) {
	path = NormalizePath(path)
	cps, err := c.mapper.checkpointColl(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := cps.Find(ctx, identity(docstore.Filter{}, name, path), fieldCheckpoint, fieldLastModified)
	if err != nil {
		return nil, storeErr("list checkpoints", err)
	}
	out := make([]models.CheckpointInfo, 0, len(docs))
	for _, d := range docs {
		var cp models.Checkpoint
		if err := docstore.Decode(d, &cp); err != nil {
			return nil, storeErr("decode checkpoint", err)
		}
		out = append(out, cp.Info())
	}
	slices.SortStableFunc(out, func(a, b models.CheckpointInfo) int {
		return compareIDs(a.ID, b.ID)
	})
	return out, nil
}

// compareIDs orders numeric ids by value and anything else after them.
func compareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na - nb
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (c *Checkpoints) find(ctx context.Context, id, name, path string) (docstore.Document, error) {
	cps, err := c.mapper.checkpointColl(ctx)
	if err != nil {
		return nil, err
	}
	filter := identity(docstore.Filter{fieldCheckpoint: id}, name, path)
	doc, err := cps.FindOne(ctx, filter)
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, fmt.Errorf("notebook checkpoint does not exist: %s-%s: %w", JoinPath(path, name), id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("load checkpoint", err)
	}
	return doc, nil
}

// Restore writes a checkpoint back onto its entry.
func (c *Checkpoints) Restore(ctx context.Context, id, name, path string) error {
	path = NormalizePath(path)
	doc, err := c.find(ctx, id, name, path)
	if err != nil {
		return err
	}
	payload := docstore.Clone(doc)
	delete(payload, fieldID)
	delete(payload, fieldCheckpoint)
	delete(payload, fieldEntryID)

	entries, err := c.mapper.entries(ctx)
	if err != nil {
		return err
	}
	if _, err := entries.Update(ctx, identity(docstore.Filter{}, name, path), payload, docstore.UpdateOptions{Upsert: true}); err != nil {
		return storeErr("restore checkpoint "+id+" of "+JoinPath(path, name), err)
	}
	c.logger.Debug("checkpoint restored", slog.String("path", JoinPath(path, name)), slog.String("checkpoint_id", id))
	return nil
}

// Delete removes one checkpoint.
func (c *Checkpoints) Delete(ctx context.Context, id, name, path string) error {
	path = NormalizePath(path)
	if _, err := c.find(ctx, id, name, path); err != nil {
		return err
	}
	cps, err := c.mapper.checkpointColl(ctx)
	if err != nil {
		return err
	}
	if _, err := cps.Remove(ctx, identity(docstore.Filter{fieldCheckpoint: id}, name, path)); err != nil {
		return storeErr("delete checkpoint "+id+" of "+JoinPath(path, name), err)
	}
	c.logger.Debug("checkpoint deleted", slog.String("path", JoinPath(path, name)), slog.String("checkpoint_id", id))
	return nil
}
