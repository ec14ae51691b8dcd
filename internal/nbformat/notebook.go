// Package nbformat handles notebook documents as generic JSON objects: the
// default document, decoding and encoding, and the trust signatures kept for
// them.
package nbformat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Current format version written into new notebooks.
const (
	Major = 4
	Minor = 0
)

// ErrNotObject is returned when notebook JSON is not an object.
var ErrNotObject = errors.New("nbformat: notebook must be a JSON object")

// Notebook is a decoded notebook document. Unknown fields are kept as is.
type Notebook map[string]any

// New returns an empty notebook in the current format.
func New() Notebook {
	return Notebook{
		"cells":          []any{},
		"metadata":       map[string]any{},
		"nbformat":       float64(Major),
		"nbformat_minor": float64(Minor),
	}
}

// Read decodes notebook JSON.
func Read(data []byte) (Notebook, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrNotObject
	}
	var nb Notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("nbformat: decode: %w", err)
	}
	return nb, nil
}

// Write encodes nb without the transient per-cell trust flags.
func Write(nb Notebook) ([]byte, error) {
	out := nb.Clone()
	StripTransient(out)
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("nbformat: encode: %w", err)
	}
	return data, nil
}

// Clone returns a deep copy of nb.
func (nb Notebook) Clone() Notebook {
	if nb == nil {
		return nil
	}
	out := make(Notebook, len(nb))
	for k, v := range nb {
		out[k] = cloneJSON(v)
	}
	return out
}

func cloneJSON(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = cloneJSON(e)
		}
		return m
	case Notebook:
		return map[string]any(x.Clone())
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneJSON(x[i])
		}
		return out
	default:
		return v
	}
}

// Metadata returns the notebook-level metadata object, or nil.
func (nb Notebook) Metadata() map[string]any {
	m, _ := nb["metadata"].(map[string]any)
	return m
}

// ClearName blanks metadata.name when the notebook carries one. The stored
// name is authoritative, not the embedded one.
func ClearName(nb Notebook) {
	if m := nb.Metadata(); m != nil {
		if _, ok := m["name"]; ok {
			m["name"] = ""
		}
	}
}

// codeCellMetadata calls fn with the metadata object of every code cell,
// creating one when missing. Cells that are not objects are skipped.
func codeCellMetadata(nb Notebook, create bool, fn func(meta map[string]any)) {
	cells, _ := nb["cells"].([]any)
	for _, c := range cells {
		cell, ok := c.(map[string]any)
		if !ok || cell["cell_type"] != "code" {
			continue
		}
		meta, ok := cell["metadata"].(map[string]any)
		if !ok {
			if !create {
				continue
			}
			meta = map[string]any{}
			cell["metadata"] = meta
		}
		fn(meta)
	}
}

// StripTransient removes the per-cell trust flags.
func StripTransient(nb Notebook) {
	codeCellMetadata(nb, false, func(meta map[string]any) {
		delete(meta, "trusted")
	})
}

// MarkCells sets the trust flag on every code cell.
func MarkCells(nb Notebook, trusted bool) {
	codeCellMetadata(nb, true, func(meta map[string]any) {
		meta["trusted"] = trusted
	})
}

// CheckCells reports whether every code cell is marked trusted. A notebook
// without code cells is trusted.
func CheckCells(nb Notebook) bool {
	cells, _ := nb["cells"].([]any)
	for _, c := range cells {
		cell, ok := c.(map[string]any)
		if !ok || cell["cell_type"] != "code" {
			continue
		}
		meta, _ := cell["metadata"].(map[string]any)
		if t, _ := meta["trusted"].(bool); !t {
			return false
		}
	}
	return true
}
