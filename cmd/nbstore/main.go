package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/nbstore/internal"
	pkgconfig "github.com/starford/nbstore/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func importCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if p := cmd.String("pattern"); p != "" {
		cfg.Import.Pattern = p
	}
	rep, err := internal.Import(ctx, cmd.Args().First(), internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	return printJSON(rep)
}

func exportCmd(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.Args().First()
	if dir == "" {
		return fmt.Errorf("export: target directory is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rep, err := internal.Export(ctx, dir, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return printJSON(rep)
}

func repairCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rep, err := internal.Repair(ctx, cmd.Bool("dry-run"), internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return fmt.Errorf("repair: %w", err)
	}
	return printJSON(rep)
}

func mcpCmd(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, version, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func main() {
	cmd := &cli.Command{
		Name:    "nbstore",
		Usage:   "Notebook contents service backed by a document database",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the contents REST API",
				Action: serve,
			},
			{
				Name:      "import",
				Usage:     "Import notebooks from a local directory",
				ArgsUsage: "[dir]",
				Action:    importCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "pattern",
						Usage: "Glob selecting the files to import",
					},
				},
			},
			{
				Name:      "export",
				Usage:     "Write every stored notebook to a local directory",
				ArgsUsage: "<dir>",
				Action:    exportCmd,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the contents tools over MCP on stdio",
				Action: mcpCmd,
			},
			{
				Name:   "repair",
				Usage:  "Remove checkpoints left behind by interrupted renames and deletes",
				Action: repairCmd,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report without removing anything",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
