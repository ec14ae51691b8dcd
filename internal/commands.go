package internal

import (
	"context"
	"fmt"
	"os"

	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/importer"
	"github.com/starford/nbstore/internal/mcpserver"
	"github.com/starford/nbstore/internal/storage"
)

// Import copies the notebooks under dir into the store. An empty dir falls
// back to the configured import directory.
func Import(ctx context.Context, dir string, opts ...Option) (importer.Report, error) {
	rt, err := setup(ctx, opts)
	if err != nil {
		return importer.Report{}, err
	}
	defer rt.Close()

	if dir != "" {
		rt.cfg.Import.Dir = dir
	}
	im, err := newImporter(rt, nil)
	if err != nil {
		return importer.Report{}, err
	}
	return im.Import(ctx)
}

// Export writes every stored notebook under dir, creating it if needed.
func Export(ctx context.Context, dir string, opts ...Option) (importer.Report, error) {
	rt, err := setup(ctx, opts)
	if err != nil {
		return importer.Report{}, err
	}
	defer rt.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return importer.Report{}, fmt.Errorf("create export dir: %w", err)
	}
	dst, err := storage.NewFS(dir)
	if err != nil {
		return importer.Report{}, fmt.Errorf("init export dir: %w", err)
	}
	return importer.Export(ctx, rt.mgr, dst, rt.logger)
}

// Repair reconciles the collections after interrupted multi-document
// updates. With dryRun set nothing is removed. It runs even when duplicated
// identities keep the unique indexes from being created, and creates them
// once the collections are clean.
func Repair(ctx context.Context, dryRun bool, opts ...Option) (contents.RepairReport, error) {
	rt, err := setup(ctx, append(opts, withLenientIndexes()))
	if err != nil {
		return contents.RepairReport{}, err
	}
	defer rt.Close()

	report, err := rt.mgr.Repair(ctx, dryRun)
	if err != nil {
		return report, err
	}
	if !dryRun && len(report.Ambiguous) == 0 {
		if err := rt.mgr.EnsureIndexes(ctx); err != nil {
			return report, fmt.Errorf("init indexes: %w", err)
		}
	}
	return report, nil
}

// ServeMCP serves the contents tools over stdin/stdout until the client
// disconnects. Logs must not go to stdout here; pass WithLogOutput.
func ServeMCP(ctx context.Context, version string, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.mgr, version).ServeStdio()
}
