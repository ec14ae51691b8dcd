package contents

import (
	"context"
	"log/slog"
	"slices"

	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/models"
)

// RepairReport lists what Repair found.
type RepairReport struct {
	// Orphans are the notebooks with checkpoints but no entry.
	Orphans []string `json:"orphans"`
	// Removed is the number of checkpoint documents deleted.
	Removed int64 `json:"removed"`
	// Ambiguous are the identities held by more than one entry.
	Ambiguous []string `json:"ambiguous"`
	DryRun    bool     `json:"dry_run"`
}

// Repair removes checkpoints left behind by a rename or delete that failed
// halfway on a store without transactions, and reports duplicated
// identities. With dryRun nothing is removed.
func (m *Manager) Repair(ctx context.Context, dryRun bool) (RepairReport, error) {
	report := RepairReport{Orphans: []string{}, Ambiguous: []string{}, DryRun: dryRun}

	cps, err := m.mapper.checkpointColl(ctx)
	if err != nil {
		return report, err
	}
	docs, err := cps.Find(ctx, docstore.Filter{}, fieldPath, fieldName)
	if err != nil {
		return report, storeErr("list checkpoints", err)
	}

	type ident struct{ path, name string }
	seen := make(map[ident]bool)
	for _, d := range docs {
		path, _ := d[fieldPath].(string)
		name, _ := d[fieldName].(string)
		id := ident{path, name}
		if _, done := seen[id]; done {
			continue
		}
		ok, err := m.mapper.AnyExists(ctx, name, path)
		if err != nil {
			return report, err
		}
		seen[id] = ok
		if ok {
			continue
		}
		full := JoinPath(path, name)
		report.Orphans = append(report.Orphans, full)
		if dryRun {
			continue
		}
		n, err := cps.Remove(ctx, identity(docstore.Filter{}, name, path))
		if err != nil {
			return report, storeErr("remove orphaned checkpoints of "+full, err)
		}
		report.Removed += n
		m.logger.Info("orphaned checkpoints removed", slog.String("path", full), slog.Int64("count", n))
	}

	entries, err := m.mapper.entries(ctx)
	if err != nil {
		return report, err
	}
	all, err := entries.Find(ctx, docstore.Filter{}, fieldPath, fieldName, fieldType)
	if err != nil {
		return report, storeErr("list entries", err)
	}
	type key struct {
		ident
		t string
	}
	counts := make(map[key]int)
	for _, d := range all {
		path, _ := d[fieldPath].(string)
		name, _ := d[fieldName].(string)
		t, _ := d[fieldType].(string)
		k := key{ident{path, name}, t}
		counts[k]++
		if counts[k] == 2 {
			report.Ambiguous = append(report.Ambiguous, JoinPath(path, name)+" ("+t+")")
		}
	}

	slices.Sort(report.Orphans)
	slices.Sort(report.Ambiguous)
	if len(report.Ambiguous) > 0 {
		m.logger.Warn("duplicated identities found", slog.Int("count", len(report.Ambiguous)))
	}
	return report, nil
}

// Walk calls fn with every notebook entry, content included.
func (m *Manager) Walk(ctx context.Context, fn func(e models.Entry) error) error {
	entries, err := m.mapper.entries(ctx)
	if err != nil {
		return err
	}
	docs, err := entries.Find(ctx, docstore.Filter{fieldType: string(models.TypeNotebook)})
	if err != nil {
		return storeErr("list entries", err)
	}
	for _, d := range docs {
		var e models.Entry
		if err := docstore.Decode(d, &e); err != nil {
			return storeErr("decode entry", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// WalkDirectories calls fn with every directory placeholder.
func (m *Manager) WalkDirectories(ctx context.Context, fn func(e models.Entry) error) error {
	entries, err := m.mapper.entries(ctx)
	if err != nil {
		return err
	}
	docs, err := entries.Find(ctx, docstore.Filter{fieldType: string(models.TypeDirectory)}, listFields...)
	if err != nil {
		return storeErr("list entries", err)
	}
	for _, d := range docs {
		var e models.Entry
		if err := docstore.Decode(d, &e); err != nil {
			return storeErr("decode entry", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
