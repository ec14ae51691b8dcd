// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes nbstore contents tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/models"
	"github.com/starford/nbstore/internal/nbformat"
)

const formatURI = "nbstore://notebook-format"

// Server wraps the MCP server with nbstore tools.
type Server struct {
	mcp *server.MCPServer
	mgr *contents.Manager
}

// New creates a new MCP server with all nbstore tools registered.
func New(mgr *contents.Manager, version string) *Server {
	s := &Server{mgr: mgr}

	s.mcp = server.NewMCPServer(
		"nbstore",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_contents",
		mcp.WithDescription("List the notebooks and directories directly inside a directory."),
		mcp.WithString("path", mcp.Description("Directory path (empty for the root)")),
	), s.listContents)

	s.mcp.AddTool(mcp.NewTool("read_notebook",
		mcp.WithDescription("Read a notebook as nbformat JSON."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path (e.g. reports/q1.ipynb)")),
	), s.readNotebook)

	s.mcp.AddTool(mcp.NewTool("save_notebook",
		mcp.WithDescription("Create or overwrite a notebook. Content MUST follow the notebook format "+
			"contract; read it first via get_notebook_contract or the "+formatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path (must end with .ipynb)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Notebook JSON document")),
	), s.saveNotebook)

	s.mcp.AddTool(mcp.NewTool("create_notebook",
		mcp.WithDescription("Create an empty notebook in a directory."),
		mcp.WithString("path", mcp.Description("Directory path (empty for the root)")),
		mcp.WithString("name", mcp.Description("Optional notebook name; defaults to the next free Untitled name")),
	), s.createNotebook)

	s.mcp.AddTool(mcp.NewTool("list_checkpoints",
		mcp.WithDescription("List the checkpoints of a notebook."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
	), s.listCheckpoints)

	s.mcp.AddTool(mcp.NewTool("create_checkpoint",
		mcp.WithDescription("Snapshot the current state of a notebook."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
	), s.createCheckpoint)

	s.mcp.AddTool(mcp.NewTool("restore_checkpoint",
		mcp.WithDescription("Overwrite a notebook with one of its checkpoints."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path")),
		mcp.WithString("checkpoint_id", mcp.Required(), mcp.Description("Checkpoint id from list_checkpoints")),
	), s.restoreCheckpoint)

	s.mcp.AddTool(mcp.NewTool("get_notebook_contract",
		mcp.WithDescription("Returns the notebook format contract. "+
			"Call this before saving notebooks to ensure correct structure."),
	), s.getNotebookContract)

	// Resource: notebook format contract.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Notebook Format Contract",
			mcp.WithResourceDescription("Notebook document layout accepted by nbstore."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNotebookFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listContents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, name := contents.SplitPath(req.GetString("path", ""))
	dir, err := s.mgr.GetDirectory(ctx, name, path, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lines := make([]string, 0, len(dir.Children))
	for _, c := range dir.Children {
		full := contents.JoinPath(c.Path, c.Name)
		if c.Type == models.TypeDirectory {
			full += "/"
		}
		lines = append(lines, full)
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("directory is empty"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	full, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, name := contents.SplitPath(full)
	m, err := s.mgr.GetNotebook(ctx, name, path, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(m.Notebook), nil
}

func (s *Server) saveNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	full, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nb, err := nbformat.Read([]byte(content))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	path, name := contents.SplitPath(full)
	model := models.Model{Name: name, Path: path, Type: models.TypeNotebook, Notebook: nb, Content: true}
	if _, err := s.mgr.SaveNotebook(ctx, model, name, path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", contents.JoinPath(path, name))), nil
}

func (s *Server) createNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir := contents.NormalizePath(req.GetString("path", ""))
	m, err := s.mgr.CreateNotebook(ctx, models.Model{Name: req.GetString("name", ""), Path: dir}, dir)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", contents.JoinPath(m.Path, m.Name))), nil
}

func (s *Server) listCheckpoints(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	full, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, name := contents.SplitPath(full)
	cps, err := s.mgr.ListCheckpoints(ctx, name, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cps), nil
}

func (s *Server) createCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	full, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, name := contents.SplitPath(full)
	cp, err := s.mgr.CreateCheckpoint(ctx, name, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cp), nil
}

func (s *Server) restoreCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	full, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("checkpoint_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, name := contents.SplitPath(full)
	if err := s.mgr.RestoreCheckpoint(ctx, id, name, path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("restored: %s to checkpoint %s", full, id)), nil
}

func (s *Server) getNotebookContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NotebookFormatContract), nil
}

func (s *Server) readNotebookFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     NotebookFormatContract,
		},
	}, nil
}
