package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	// lenientIndexes downgrades an index creation failure to a warning.
	lenientIndexes bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput sets where log records are written. Defaults to stdout.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// withLenientIndexes lets a command start on collections whose existing
// documents break the unique indexes, so it can report them.
func withLenientIndexes() Option {
	return func(a *application) {
		a.lenientIndexes = true
	}
}
