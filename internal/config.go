package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/importer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Store backends.
const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Store    StoreConfig       `yaml:"store"`
	Contents ContentsConfig    `yaml:"contents"`
	Import   ImportConfig      `yaml:"import"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Contents.Validate(); err != nil {
		return fmt.Errorf("contents: %w", err)
	}
	if err := c.Import.Validate(); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// LivenessInterval skips the connection check when the last one is
	// younger than this. Zero checks before every collection access.
	LivenessInterval time.Duration `yaml:"liveness_interval"`
	Mongo            MongoConfig   `yaml:"mongo"`
	SQLite           SQLiteConfig  `yaml:"sqlite"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendMongo, BackendSQLite, BackendMemory)),
		validation.Field(&c.LivenessInterval, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	switch c.Backend {
	case BackendMongo:
		return c.Mongo.Validate()
	case BackendSQLite:
		return c.SQLite.Validate()
	}
	return nil
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	ReplicaSet     string        `yaml:"replica_set"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Validate validates the MongoDB configuration.
func (c *MongoConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URI, validation.Required),
		validation.Field(&c.Database, validation.Required),
		validation.Field(&c.ConnectTimeout, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ContentsConfig holds the collection names and notebook behaviour.
type ContentsConfig struct {
	NotebookCollection   string   `yaml:"notebook_collection"`
	CheckpointCollection string   `yaml:"checkpoint_collection"`
	SignatureCollection  string   `yaml:"signature_collection"`
	CheckpointsHistory   bool     `yaml:"checkpoints_history"`
	UntitledName         string   `yaml:"untitled_name"`
	HideGlobs            []string `yaml:"hide_globs"`
	// TrustSecret keys notebook signatures. Empty means a per-process key.
	TrustSecret string `yaml:"trust_secret"`
}

// Validate validates the contents configuration.
func (c *ContentsConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.NotebookCollection, validation.Required),
		validation.Field(&c.CheckpointCollection, validation.Required),
		validation.Field(&c.SignatureCollection, validation.Required),
		validation.Field(&c.UntitledName, validation.Required),
	); err != nil {
		return err
	}
	if c.NotebookCollection == c.CheckpointCollection || c.NotebookCollection == c.SignatureCollection ||
		c.CheckpointCollection == c.SignatureCollection {
		return fmt.Errorf("collection names must be distinct")
	}
	return nil
}

// Manager returns the contents.Config for these settings.
func (c *ContentsConfig) Manager(backend string) contents.Config {
	return contents.Config{
		NotebookCollection:   c.NotebookCollection,
		CheckpointCollection: c.CheckpointCollection,
		CheckpointsHistory:   c.CheckpointsHistory,
		UntitledName:         c.UntitledName,
		Backend:              backend,
	}
}

// ImportConfig configures the local notebook directory used by import,
// export and the serve-time watcher.
type ImportConfig struct {
	Dir           string `yaml:"dir"`
	Pattern       string `yaml:"pattern"`
	Watch         bool   `yaml:"watch"`
	MirrorDeletes bool   `yaml:"mirror_deletes"`
}

// Validate validates the import configuration.
func (c *ImportConfig) Validate() error {
	if c.Pattern == "" {
		c.Pattern = importer.DefaultPattern
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.When(c.Watch, validation.Required.Error("is required when watch is enabled"))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Backend: BackendMongo,
			Mongo: MongoConfig{
				URI:            "mongodb://localhost:27017/",
				Database:       "ipython",
				ConnectTimeout: 10 * time.Second,
			},
			SQLite: SQLiteConfig{
				Path: "./nbstore.db",
			},
		},
		Contents: ContentsConfig{
			NotebookCollection:   "notebooks",
			CheckpointCollection: "checkpoints",
			SignatureCollection:  "signatures",
			CheckpointsHistory:   true,
			UntitledName:         "Untitled",
			HideGlobs:            append([]string(nil), contents.DefaultHideGlobs...),
		},
		Import: ImportConfig{
			Pattern: importer.DefaultPattern,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
