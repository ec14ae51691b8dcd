// Package storage defines the local notebook-directory abstraction used by the
// importer and exporter.
package storage

import "time"

// Item describes one file or directory under the root.
type Item struct {
	Path     string // slash-separated, relative to the root
	Dir      bool
	Checksum string // empty for directories
	ModTime  time.Time
}

// Provider is the interface for notebook-directory operations.
type Provider interface {
	// List walks dir (relative to root) and returns every sub-directory and
	// every file whose name matches pattern. Hidden entries are skipped.
	List(dir, pattern string) ([]Item, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Mkdir creates the directory at path (relative to root) and its parents.
	Mkdir(path string) error
	// Root returns the absolute root directory.
	Root() string
}
