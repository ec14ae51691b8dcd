package contents

import (
	"context"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/nbstore/internal/nbformat"
)

// Host supplies the notebook-format services the contents layer relies on.
type Host interface {
	// NewNotebook returns the content of a freshly created notebook.
	NewNotebook() nbformat.Notebook
	// ShouldList reports whether an entry name appears in listings.
	ShouldList(name string) bool
	// MarkTrustedCells flags the code cells of a notebook being read.
	MarkTrustedCells(ctx context.Context, nb nbformat.Notebook, path string)
	// CheckAndSign signs a notebook being saved if the user trusts it.
	CheckAndSign(ctx context.Context, nb nbformat.Notebook, path string)
}

// DefaultHideGlobs are the names kept out of listings by default.
var DefaultHideGlobs = []string{"__pycache__", "*.pyc", "*~", ".*"}

// DefaultHost is the Host backed by a Notary and a set of hide globs.
type DefaultHost struct {
	notary *nbformat.Notary
	hide   []string
}

var _ Host = (*DefaultHost)(nil)

// NewHost returns a host. Invalid globs never match.
func NewHost(notary *nbformat.Notary, hideGlobs []string) *DefaultHost {
	return &DefaultHost{notary: notary, hide: hideGlobs}
}

func (h *DefaultHost) NewNotebook() nbformat.Notebook {
	return nbformat.New()
}

func (h *DefaultHost) ShouldList(name string) bool {
	for _, g := range h.hide {
		if ok, err := doublestar.Match(g, name); err == nil && ok {
			return false
		}
	}
	return true
}

func (h *DefaultHost) MarkTrustedCells(ctx context.Context, nb nbformat.Notebook, path string) {
	h.notary.MarkTrustedCells(ctx, nb, path)
}

func (h *DefaultHost) CheckAndSign(ctx context.Context, nb nbformat.Notebook, path string) {
	h.notary.CheckAndSign(ctx, nb, path)
}
