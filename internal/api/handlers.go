// Package api implements the nbstore REST API using chi.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nbstore/internal/checksum"
	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/models"
	"github.com/starford/nbstore/internal/nbformat"
	"github.com/starford/nbstore/internal/sse"
)

const maxBody = 10 << 20

// Notifier receives the changes made through the API.
type Notifier interface {
	PublishChange(c sse.Change)
}

type nopNotifier struct{}

func (nopNotifier) PublishChange(sse.Change) {}

// Handler holds API route handlers.
type Handler struct {
	mgr    *contents.Manager
	events Notifier
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(mgr *contents.Manager, events Notifier) *Handler {
	if events == nil {
		events = nopNotifier{}
	}
	return &Handler{mgr: mgr, events: events}
}

// target is what a /contents URL addresses: an entry, or the checkpoints of
// an entry when checkpoints is set.
type target struct {
	path, name  string
	checkpoints bool
	id          string
}

func (t target) full() string { return contents.JoinPath(t.path, t.name) }

// parseTarget reads the entry path from the URL (everything after
// /api/contents/), splitting off a trailing checkpoints/{id} part. Encoded
// slashes are accepted.
func parseTarget(r *http.Request) target {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	parts := strings.Split(contents.NormalizePath(raw), "/")
	var t target
	switch n := len(parts); {
	case n >= 2 && parts[n-1] == "checkpoints":
		t.checkpoints = true
		parts = parts[:n-1]
	case n >= 3 && parts[n-2] == "checkpoints":
		t.checkpoints, t.id = true, parts[n-1]
		parts = parts[:n-2]
	}
	t.path, t.name = contents.SplitPath(strings.Join(parts, "/"))
	return t
}

func etag(nb nbformat.Notebook) (string, error) {
	data, err := nbformat.Write(nb)
	if err != nil {
		return "", err
	}
	return checksum.ETag(data), nil
}

// currentETag returns the entity tag of the stored notebook.
func (h *Handler) currentETag(ctx context.Context, t target) (string, error) {
	m, err := h.mgr.GetNotebook(ctx, t.name, t.path, true)
	if err != nil {
		return "", err
	}
	return etag(m.Notebook)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	return io.ReadAll(r.Body)
}

// identity applies the name and path of a request body over the URL's,
// keeping whichever the body leaves out.
func identity(req RenameRequest, t target) (name, path string) {
	name, path = t.name, t.path
	if req.Name != nil && *req.Name != "" {
		name = *req.Name
	}
	if req.Path != nil {
		path = contents.NormalizePath(*req.Path)
	}
	return name, path
}

// Get handles GET /api/contents/*.
//
//	@Summary		Get a notebook or directory model
//	@Tags			contents
//	@Produce		json
//	@Param			path	path		string	true	"Entry path"
//	@Param			content	query		int		false	"0 to omit content"
//	@Success		200		{object}	Model
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contents/{path} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t := parseTarget(r)
	if t.checkpoints {
		if t.id != "" {
			writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
			return
		}
		h.listCheckpoints(w, r, t)
		return
	}

	withContent := r.URL.Query().Get("content") != "0"
	model, err := h.mgr.GetModel(r.Context(), t.name, t.path, withContent)
	if err != nil {
		writeError(w, r, "get contents", err)
		return
	}
	if model.Type == models.TypeNotebook && model.Content {
		if tag, err := etag(model.Notebook); err == nil {
			w.Header().Set("ETag", tag)
		}
	}
	writeJSON(w, http.StatusOK, model)
}

// Create handles POST /api/contents/*.
//
//	@Summary		Create a notebook or directory inside a directory
//	@Tags			contents
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string	true	"Directory path"
//	@Param			body	body		Model	false	"Optional name, type and content"
//	@Success		201		{object}	Model
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contents/{path} [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	t := parseTarget(r)
	if t.checkpoints {
		if t.id == "" {
			h.createCheckpoint(w, r, t)
		} else {
			h.restoreCheckpoint(w, r, t)
		}
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	var model models.Model
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &model); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}

	ctx := r.Context()
	dir := t.full()
	if _, err := h.mgr.GetDirectory(ctx, t.name, t.path, false); err != nil {
		writeError(w, r, "create contents", err)
		return
	}

	var created models.Model
	if model.Type == models.TypeDirectory {
		created, err = h.mgr.CreateDirectory(ctx, model.Name, dir)
	} else {
		model.Path = dir
		created, err = h.mgr.CreateNotebook(ctx, model, dir)
	}
	if err != nil {
		writeError(w, r, "create contents", err)
		return
	}
	full := contents.JoinPath(created.Path, created.Name)
	h.events.PublishChange(sse.Change{Kind: sse.KindCreated, Path: full})
	w.Header().Set("Location", "/api/contents/"+full)
	writeJSON(w, http.StatusCreated, created)
}

// Save handles PUT /api/contents/*.
//
//	@Summary		Save a notebook, or create a directory, with optimistic concurrency
//	@Tags			contents
//	@Accept			json
//	@Produce		json
//	@Param			path		path		string	true	"Notebook path"
//	@Param			If-Match	header		string	false	"Checksum of the content being replaced"
//	@Param			body		body		Model	true	"Model with content"
//	@Success		200			{object}	Model
//	@Success		201			{object}	Model
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contents/{path} [put]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	t := parseTarget(r)
	if t.checkpoints || t.name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	var model models.Model
	if err := json.Unmarshal(body, &model); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	// The model cannot tell an absent path from the root; the request can.
	var req RenameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	ctx := r.Context()

	if model.Type == models.TypeDirectory {
		created, err := h.mgr.CreateDirectory(ctx, t.name, t.path)
		if err != nil {
			writeError(w, r, "create directory", err)
			return
		}
		h.events.PublishChange(sse.Change{Kind: sse.KindCreated, Path: t.full()})
		writeJSON(w, http.StatusCreated, created)
		return
	}

	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		current, err := h.currentETag(ctx, t)
		if err != nil {
			writeError(w, r, "save notebook", err)
			return
		}
		if !checksum.Matches(ifMatch, current) {
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
			return
		}
	}

	existed, err := h.mgr.Exists(ctx, t.name, t.path)
	if err != nil {
		writeError(w, r, "save notebook", err)
		return
	}
	model.Name, model.Path = identity(req, t)
	saved, err := h.mgr.SaveNotebook(ctx, model, t.name, t.path)
	if err != nil {
		writeError(w, r, "save notebook", err)
		return
	}

	full := contents.JoinPath(saved.Path, saved.Name)
	status, kind := http.StatusOK, sse.KindSaved
	switch {
	case !existed:
		status, kind = http.StatusCreated, sse.KindCreated
	case full != t.full():
		h.events.PublishChange(sse.Change{Kind: sse.KindRenamed, Path: full, From: t.full()})
	}
	h.events.PublishChange(sse.Change{Kind: kind, Path: full})
	writeJSON(w, status, saved)
}

// Rename handles PATCH /api/contents/*.
//
//	@Summary		Rename or move a notebook
//	@Tags			contents
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Notebook path"
//	@Param			body	body		RenameRequest	true	"New name and path"
//	@Success		200		{object}	Model
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contents/{path} [patch]
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	t := parseTarget(r)
	if t.checkpoints || t.name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	var req RenameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == nil || *req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}

	name, path := identity(req, t)
	model, err := h.mgr.UpdateNotebook(r.Context(), models.Model{Name: name, Path: path}, t.name, t.path)
	if err != nil {
		writeError(w, r, "rename notebook", err)
		return
	}
	if full := contents.JoinPath(path, name); full != t.full() {
		h.events.PublishChange(sse.Change{Kind: sse.KindRenamed, Path: full, From: t.full()})
	}
	writeJSON(w, http.StatusOK, model)
}

// Delete handles DELETE /api/contents/*.
//
//	@Summary		Delete a notebook, an empty directory or a checkpoint
//	@Tags			contents
//	@Param			path	path	string	true	"Entry path"
//	@Success		204		"Deleted"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/contents/{path} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	t := parseTarget(r)
	if t.checkpoints {
		if t.id == "" {
			writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
			return
		}
		h.deleteCheckpoint(w, r, t)
		return
	}
	if t.name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("cannot delete the root directory"))
		return
	}
	if err := h.mgr.Delete(r.Context(), t.name, t.path); err != nil {
		writeError(w, r, "delete contents", err)
		return
	}
	h.events.PublishChange(sse.Change{Kind: sse.KindDeleted, Path: t.full()})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCheckpoints(w http.ResponseWriter, r *http.Request, t target) {
	cps, err := h.mgr.ListCheckpoints(r.Context(), t.name, t.path)
	if err != nil {
		writeError(w, r, "list checkpoints", err)
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

func (h *Handler) createCheckpoint(w http.ResponseWriter, r *http.Request, t target) {
	cp, err := h.mgr.CreateCheckpoint(r.Context(), t.name, t.path)
	if err != nil {
		writeError(w, r, "create checkpoint", err)
		return
	}
	h.events.PublishChange(sse.Change{Kind: sse.KindCreated, Path: t.full(), Checkpoint: cp.ID})
	writeJSON(w, http.StatusCreated, cp)
}

func (h *Handler) restoreCheckpoint(w http.ResponseWriter, r *http.Request, t target) {
	if err := h.mgr.RestoreCheckpoint(r.Context(), t.id, t.name, t.path); err != nil {
		writeError(w, r, "restore checkpoint", err)
		return
	}
	h.events.PublishChange(sse.Change{Kind: sse.KindRestored, Path: t.full(), Checkpoint: t.id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteCheckpoint(w http.ResponseWriter, r *http.Request, t target) {
	if err := h.mgr.DeleteCheckpoint(r.Context(), t.id, t.name, t.path); err != nil {
		writeError(w, r, "delete checkpoint", err)
		return
	}
	h.events.PublishChange(sse.Change{Kind: sse.KindDeleted, Path: t.full(), Checkpoint: t.id})
	w.WriteHeader(http.StatusNoContent)
}

// Repair handles POST /api/repair.
//
//	@Summary		Remove orphaned checkpoints and report duplicated identities
//	@Tags			maintenance
//	@Produce		json
//	@Param			dry_run	query		int	false	"1 to only report"
//	@Success		200		{object}	RepairReport
//	@Security		BearerAuth
//	@Router			/repair [post]
func (h *Handler) Repair(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run")
	report, err := h.mgr.Repair(r.Context(), dryRun == "1" || dryRun == "true")
	if err != nil {
		writeError(w, r, "repair", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Info handles GET /api/info.
//
//	@Summary		Describe the backing store
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	InfoResponse
//	@Security		BearerAuth
//	@Router			/info [get]
func (h *Handler) Info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{Info: h.mgr.Info()})
}
