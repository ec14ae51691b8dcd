package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/starford/nbstore/internal/nbformat"
)

func TestModelJSONWithoutContent(t *testing.T) {
	m := Model{Name: "a.ipynb", Path: "dir", Type: TypeNotebook, LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"content":null`, `"format":null`, `"type":"notebook"`, `"last_modified":"2024-01-01T00:00:00Z"`} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %s in %s", want, s)
		}
	}
	if strings.Contains(s, `"created"`) {
		t.Errorf("zero created should be omitted: %s", s)
	}
}

func TestModelJSONDirectoryContent(t *testing.T) {
	m := Model{Name: "dir", Type: TypeDirectory, Content: true}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"content":[]`) {
		t.Errorf("empty directory should list []: %s", data)
	}
}

func TestModelUnmarshalNotebook(t *testing.T) {
	var m Model
	if err := json.Unmarshal([]byte(`{"name":"x.ipynb","content":{"cells":["x"]}}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Type != TypeNotebook || !m.Content {
		t.Fatalf("model = %+v", m)
	}
	cells, _ := m.Notebook["cells"].([]any)
	if len(cells) != 1 || cells[0] != "x" {
		t.Errorf("cells = %v", m.Notebook["cells"])
	}
}

func TestModelUnmarshalNoContent(t *testing.T) {
	var m Model
	if err := json.Unmarshal([]byte(`{"name":"x.ipynb","path":"a","content":null}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content || m.Notebook != nil {
		t.Errorf("expected no content, got %+v", m)
	}
}

func TestModelUnmarshalRejects(t *testing.T) {
	for _, in := range []string{`{"type":"file"}`, `{"content":[1,2]}`} {
		var m Model
		if err := json.Unmarshal([]byte(in), &m); err == nil {
			t.Errorf("Unmarshal(%s) should fail", in)
		}
	}
}

func TestModelRoundTrip(t *testing.T) {
	in := Model{Name: "n.ipynb", Type: TypeNotebook, Content: true, Notebook: nbformat.Notebook{"cells": []any{}}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Model
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != in.Name || !out.Content || out.Notebook == nil {
		t.Errorf("out = %+v", out)
	}
}
