package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/docstore/memory"
	"github.com/starford/nbstore/internal/docstore/mongo"
	"github.com/starford/nbstore/internal/docstore/sqlite"
	"github.com/starford/nbstore/internal/nbformat"
)

// openSession connects to the configured document store.
func openSession(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (*docstore.Session, error) {
	opts := []docstore.SessionOption{
		docstore.WithLogger(logger),
		docstore.WithLivenessInterval(cfg.LivenessInterval),
	}
	switch cfg.Backend {
	case BackendMongo:
		return docstore.Connect(ctx, mongo.Dialer(mongo.Config{
			URI:            cfg.Mongo.URI,
			ReplicaSet:     cfg.Mongo.ReplicaSet,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		}), opts...)
	case BackendSQLite:
		path := cfg.SQLite.Path
		return docstore.Connect(ctx, func(context.Context) (docstore.Store, error) {
			return sqlite.Open(path)
		}, opts...)
	case BackendMemory:
		return docstore.NewSession(memory.New(), nil, opts...), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newManager builds the contents manager over session and prepares its
// collections.
func newManager(ctx context.Context, cfg *Config, session *docstore.Session, logger *slog.Logger, lenientIndexes bool) (*contents.Manager, error) {
	sigs := contents.NewSignatures(session, cfg.Contents.SignatureCollection)
	if err := sigs.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("init signatures: %w", err)
	}
	notary, err := nbformat.NewNotary([]byte(cfg.Contents.TrustSecret), sigs, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Contents.TrustSecret == "" {
		logger.Warn("no trust secret configured, notebook signatures last for this process only")
	}
	host := contents.NewHost(notary, cfg.Contents.HideGlobs)
	mgr := contents.New(session, host, cfg.Contents.Manager(cfg.Store.Backend), contents.WithLogger(logger))
	if err := mgr.EnsureIndexes(ctx); err != nil {
		if !lenientIndexes {
			return nil, fmt.Errorf("init indexes: %w", err)
		}
		logger.Warn("unique indexes not created", slog.String("error", err.Error()))
	}
	return mgr, nil
}

// runtime is what every command needs: the config, a logger and an open
// contents manager.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	session *docstore.Session
	mgr     *contents.Manager
}

// setup applies the options, builds the logger and opens the store.
func setup(ctx context.Context, opts []Option) (*runtime, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := NewLogger(app.logOutput, cfg.App)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.Bool("checkpoints_history", cfg.Contents.CheckpointsHistory),
		slog.String("log_level", cfg.App.LogLevel.String()))

	session, err := openSession(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, session: session}
	rt.mgr, err = newManager(ctx, cfg, session, logger, app.lenientIndexes)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close releases the store connection.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.session.Close(ctx); err != nil {
		rt.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}
