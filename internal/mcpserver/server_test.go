package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/nbstore/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return New(testutil.Manager(t), "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_contents":
		result, err = srv.listContents(ctx, req)
	case "read_notebook":
		result, err = srv.readNotebook(ctx, req)
	case "save_notebook":
		result, err = srv.saveNotebook(ctx, req)
	case "create_notebook":
		result, err = srv.createNotebook(ctx, req)
	case "list_checkpoints":
		result, err = srv.listCheckpoints(ctx, req)
	case "create_checkpoint":
		result, err = srv.createCheckpoint(ctx, req)
	case "restore_checkpoint":
		result, err = srv.restoreCheckpoint(ctx, req)
	case "get_notebook_contract":
		result, err = srv.getNotebookContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSaveAndReadNotebook(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "save_notebook", map[string]any{
		"path":    "docs/test.ipynb",
		"content": `{"cells":["hello"]}`,
	})
	if text := resultText(r); text != "saved: docs/test.ipynb" {
		t.Errorf("save result = %q", text)
	}

	r = callTool(t, srv, "read_notebook", map[string]any{"path": "docs/test.ipynb"})
	var nb map[string]any
	if err := json.Unmarshal([]byte(resultText(r)), &nb); err != nil {
		t.Fatalf("read result %q: %v", resultText(r), err)
	}
	if cells, _ := nb["cells"].([]any); len(cells) != 1 || cells[0] != "hello" {
		t.Errorf("cells = %v", nb["cells"])
	}
}

func TestSaveRejectsNonObject(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "save_notebook", map[string]any{"path": "a.ipynb", "content": "[1]"})
	if !r.IsError {
		t.Error("expected error for non-object notebook")
	}
}

func TestCreateAndListContents(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "create_notebook", map[string]any{})
	if text := resultText(r); text != "created: Untitled0.ipynb" {
		t.Errorf("create result = %q", text)
	}
	callTool(t, srv, "save_notebook", map[string]any{"path": "sub/x.ipynb", "content": `{"cells":[]}`})
	callTool(t, srv, "create_notebook", map[string]any{"name": "named.ipynb"})
	if r := callTool(t, srv, "create_notebook", map[string]any{"name": "named.ipynb"}); !r.IsError {
		t.Error("expected error creating over an existing notebook")
	}

	text := resultText(callTool(t, srv, "list_contents", map[string]any{}))
	if text != "Untitled0.ipynb\nnamed.ipynb" {
		t.Errorf("root listing = %q", text)
	}
	text = resultText(callTool(t, srv, "list_contents", map[string]any{"path": "sub"}))
	if text != "sub/x.ipynb" {
		t.Errorf("sub listing = %q", text)
	}
}

func TestReadNotebookMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_notebook", map[string]any{"path": "nope.ipynb"})
	if !r.IsError {
		t.Error("expected error for missing notebook")
	}
}

func TestCheckpointTools(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "save_notebook", map[string]any{"path": "n.ipynb", "content": `{"cells":["v1"]}`})

	r := callTool(t, srv, "create_checkpoint", map[string]any{"path": "n.ipynb"})
	if !strings.Contains(resultText(r), `"id": "0"`) {
		t.Errorf("create checkpoint = %q", resultText(r))
	}
	callTool(t, srv, "save_notebook", map[string]any{"path": "n.ipynb", "content": `{"cells":["v2"]}`})

	r = callTool(t, srv, "list_checkpoints", map[string]any{"path": "n.ipynb"})
	var cps []map[string]any
	if err := json.Unmarshal([]byte(resultText(r)), &cps); err != nil || len(cps) != 1 {
		t.Fatalf("list = %q (%v)", resultText(r), err)
	}

	r = callTool(t, srv, "restore_checkpoint", map[string]any{"path": "n.ipynb", "checkpoint_id": "0"})
	if r.IsError {
		t.Fatalf("restore = %q", resultText(r))
	}
	if text := resultText(callTool(t, srv, "read_notebook", map[string]any{"path": "n.ipynb"})); !strings.Contains(text, "v1") {
		t.Errorf("restored = %q", text)
	}

	r = callTool(t, srv, "restore_checkpoint", map[string]any{"path": "n.ipynb", "checkpoint_id": "5"})
	if !r.IsError {
		t.Error("expected error for missing checkpoint")
	}
}

func TestContract(t *testing.T) {
	srv := testServer(t)
	if text := resultText(callTool(t, srv, "get_notebook_contract", nil)); text != NotebookFormatContract {
		t.Error("contract mismatch")
	}
	res, err := srv.readNotebookFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(res) != 1 {
		t.Fatalf("resource = %v, %v", res, err)
	}
}
