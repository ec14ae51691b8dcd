// Package models defines the contents types for nbstore.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/starford/nbstore/internal/nbformat"
)

// EntryType discriminates notebooks from directory placeholders.
type EntryType string

const (
	TypeNotebook  EntryType = "notebook"
	TypeDirectory EntryType = "directory"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	return t == TypeNotebook || t == TypeDirectory
}

// Entry is a stored notebook or directory placeholder.
type Entry struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Path         string        `bson:"path"`
	Name         string        `bson:"name"`
	Type         EntryType     `bson:"type"`
	Content      string        `bson:"content,omitempty"`
	Created      time.Time     `bson:"created"`
	LastModified time.Time     `bson:"lastModified"`
}

// Checkpoint is a stored snapshot of an Entry.
type Checkpoint struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Path         string        `bson:"path"`
	Name         string        `bson:"name"`
	Type         EntryType     `bson:"type"`
	Content      string        `bson:"content,omitempty"`
	Created      time.Time     `bson:"created"`
	LastModified time.Time     `bson:"lastModified"`
	CheckpointID string        `bson:"cp"`
	// EntryID is set in latest-only mode, where it keys the single snapshot.
	EntryID bson.ObjectID `bson:"id,omitempty"`
}

// Info returns the public view of the checkpoint.
func (c Checkpoint) Info() CheckpointInfo {
	return CheckpointInfo{ID: c.CheckpointID, LastModified: c.LastModified}
}

// CheckpointInfo identifies one checkpoint of an entry.
type CheckpointInfo struct {
	ID           string    `json:"id"`
	LastModified time.Time `json:"last_modified"`
}

// Model is what the contents operations hand to callers. Type selects the
// variant: notebooks carry Notebook, directories carry Children. Both are nil
// when content was not requested.
type Model struct {
	Name         string
	Path         string
	Type         EntryType
	Created      time.Time
	LastModified time.Time
	Notebook     nbformat.Notebook
	Children     []Model
	// Content is false for models listed without their content.
	Content bool
}

// Format returns the content format, empty when the model has no content.
func (m Model) Format() string {
	if !m.Content {
		return ""
	}
	return "json"
}

type modelJSON struct {
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	Type         EntryType       `json:"type"`
	Created      *time.Time      `json:"created,omitempty"`
	LastModified *time.Time      `json:"last_modified,omitempty"`
	Content      json.RawMessage `json:"content"`
	Format       *string         `json:"format"`
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// MarshalJSON writes the model in the contents API shape, with content null
// when it was not requested.
func (m Model) MarshalJSON() ([]byte, error) {
	out := modelJSON{
		Name:         m.Name,
		Path:         m.Path,
		Type:         m.Type,
		Created:      optTime(m.Created),
		LastModified: optTime(m.LastModified),
		Content:      json.RawMessage("null"),
	}
	if m.Content {
		var (
			raw []byte
			err error
		)
		switch m.Type {
		case TypeDirectory:
			children := m.Children
			if children == nil {
				children = []Model{}
			}
			raw, err = json.Marshal(children)
		default:
			raw, err = json.Marshal(m.Notebook)
		}
		if err != nil {
			return nil, fmt.Errorf("models: encode content: %w", err)
		}
		out.Content = raw
		f := m.Format()
		out.Format = &f
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a model sent by a client. A missing type means notebook.
func (m *Model) UnmarshalJSON(data []byte) error {
	var in modelJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Model{Name: in.Name, Path: in.Path, Type: in.Type}
	if m.Type == "" {
		m.Type = TypeNotebook
	}
	if !m.Type.Valid() {
		return fmt.Errorf("models: unknown type %q", in.Type)
	}
	if in.Created != nil {
		m.Created = *in.Created
	}
	if in.LastModified != nil {
		m.LastModified = *in.LastModified
	}
	if len(in.Content) == 0 || string(in.Content) == "null" {
		return nil
	}
	m.Content = true
	if m.Type == TypeDirectory {
		return json.Unmarshal(in.Content, &m.Children)
	}
	nb, err := nbformat.Read(in.Content)
	if err != nil {
		return err
	}
	m.Notebook = nb
	return nil
}
