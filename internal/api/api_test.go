package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/docstore/memory"
	"github.com/starford/nbstore/internal/nbformat"
	"github.com/starford/nbstore/internal/sse"
)

type recorder struct {
	mu      sync.Mutex
	changes []sse.Change
}

func (r *recorder) PublishChange(c sse.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		kind := "contents." + c.Kind
		if c.Checkpoint != "" {
			kind = "checkpoint." + c.Kind
		}
		out = append(out, kind)
	}
	return out
}

func newManager(t *testing.T) *contents.Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session := docstore.NewSession(memory.New(), nil, docstore.WithLogger(logger))
	notary, err := nbformat.NewNotary([]byte("secret"), nil, logger)
	if err != nil {
		t.Fatalf("NewNotary: %v", err)
	}
	mgr := contents.New(session, contents.NewHost(notary, contents.DefaultHideGlobs),
		contents.Config{CheckpointsHistory: true, Backend: "memory"}, contents.WithLogger(logger))
	if err := mgr.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	return mgr
}

// testEnv builds a router over an in-memory store. An empty authToken means
// disabled mode.
func testEnv(t *testing.T, authToken string) (http.Handler, *recorder) {
	t.Helper()
	events := &recorder{}
	return NewRouter(newManager(t), authToken != "", authToken, events, nil), events
}

func do(t *testing.T, h http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSaveAndGetNotebook(t *testing.T) {
	router, events := testEnv(t, "")

	w := do(t, router, http.MethodPut, "/contents/docs/a.ipynb", `{"type":"notebook","content":{"cells":["x"]}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	saved := decode(t, w)
	if saved["name"] != "a.ipynb" || saved["path"] != "docs" {
		t.Errorf("saved = %v", saved)
	}
	if saved["content"] != nil {
		t.Errorf("save response carries content: %v", saved["content"])
	}

	w = do(t, router, http.MethodGet, "/contents/docs/a.ipynb", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}
	got := decode(t, w)
	if got["format"] != "json" {
		t.Errorf("format = %v", got["format"])
	}
	content, _ := got["content"].(map[string]any)
	if cells, _ := content["cells"].([]any); len(cells) != 1 || cells[0] != "x" {
		t.Errorf("content = %v", got["content"])
	}

	w = do(t, router, http.MethodGet, "/contents/docs/a.ipynb?content=0", nil)
	if got := decode(t, w); got["content"] != nil {
		t.Errorf("content=0 returned content %v", got["content"])
	}

	w = do(t, router, http.MethodPut, "/contents/docs/a.ipynb", `{"content":{"cells":["y"]}}`)
	if w.Code != http.StatusOK {
		t.Errorf("second save = %d, want 200", w.Code)
	}
	if got, want := strings.Join(events.types(), ","), "contents.created,contents.saved"; got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
}

func TestSaveWithOptimisticLocking(t *testing.T) {
	router, _ := testEnv(t, "")
	do(t, router, http.MethodPut, "/contents/lock.ipynb", `{"content":{"cells":[]}}`)

	tag := do(t, router, http.MethodGet, "/contents/lock.ipynb", nil).Header().Get("ETag")

	w := do(t, router, http.MethodPut, "/contents/lock.ipynb", `{"content":{"cells":["v2"]}}`, "If-Match", tag)
	if w.Code != http.StatusOK {
		t.Fatalf("save with current etag = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPut, "/contents/lock.ipynb", `{"content":{"cells":["v3"]}}`, "If-Match", tag)
	if w.Code != http.StatusConflict {
		t.Errorf("save with stale etag = %d, want 409", w.Code)
	}
}

func TestSaveWithoutContent(t *testing.T) {
	router, _ := testEnv(t, "")
	w := do(t, router, http.MethodPut, "/contents/a.ipynb", `{"type":"notebook"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("save without content = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPut, "/contents/a.ipynb", `{broken`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON = %d, want 400", w.Code)
	}
}

func TestCreateUntitledNotebooks(t *testing.T) {
	router, _ := testEnv(t, "")
	for _, want := range []string{"Untitled0.ipynb", "Untitled1.ipynb"} {
		w := do(t, router, http.MethodPost, "/contents", nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
		}
		if got := decode(t, w)["name"]; got != want {
			t.Errorf("name = %v, want %s", got, want)
		}
		if loc := w.Header().Get("Location"); loc != "/api/contents/"+want {
			t.Errorf("Location = %q", loc)
		}
	}
}

func TestCreateInMissingDirectory(t *testing.T) {
	router, _ := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/contents/nowhere", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("create in missing dir = %d, want 404", w.Code)
	}
}

func TestDirectories(t *testing.T) {
	router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/contents", map[string]string{"type": "directory", "name": "docs"})
	if w.Code != http.StatusCreated {
		t.Fatalf("mkdir = %d, body = %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPut, "/contents/docs", map[string]string{"type": "directory"})
	if w.Code != http.StatusConflict {
		t.Errorf("second mkdir = %d, want 409", w.Code)
	}
	do(t, router, http.MethodPost, "/contents/docs", nil)

	w = do(t, router, http.MethodGet, "/contents/docs", nil)
	got := decode(t, w)
	if got["type"] != "directory" {
		t.Fatalf("type = %v", got["type"])
	}
	children, _ := got["content"].([]any)
	if len(children) != 1 {
		t.Fatalf("children = %v", got["content"])
	}

	w = do(t, router, http.MethodDelete, "/contents/docs", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("delete non-empty dir = %d, want 409", w.Code)
	}
}

func TestRenameNotebook(t *testing.T) {
	router, events := testEnv(t, "")
	do(t, router, http.MethodPut, "/contents/a.ipynb", `{"content":{"cells":[]}}`)
	do(t, router, http.MethodPut, "/contents/b.ipynb", `{"content":{"cells":[]}}`)

	w := do(t, router, http.MethodPatch, "/contents/a.ipynb", map[string]string{"name": "b.ipynb"})
	if w.Code != http.StatusConflict {
		t.Errorf("rename onto existing = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodPatch, "/contents/a.ipynb", map[string]string{"name": "c.ipynb", "path": "moved"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode(t, w); got["path"] != "moved" || got["name"] != "c.ipynb" {
		t.Errorf("renamed = %v", got)
	}
	if w := do(t, router, http.MethodGet, "/contents/moved/c.ipynb", nil); w.Code != http.StatusOK {
		t.Errorf("get renamed = %d", w.Code)
	}
	types := events.types()
	if types[len(types)-1] != "contents.renamed" {
		t.Errorf("events = %v", types)
	}

	w = do(t, router, http.MethodPatch, "/contents/ghost.ipynb", map[string]string{"name": "x.ipynb"})
	if w.Code != http.StatusNotFound {
		t.Errorf("rename missing = %d, want 404", w.Code)
	}
}

func TestCreateNamedNotebookConflict(t *testing.T) {
	router, _ := testEnv(t, "")
	do(t, router, http.MethodPost, "/contents", map[string]string{"type": "directory", "name": "docs"})
	do(t, router, http.MethodPut, "/contents/docs/a.ipynb", `{"content":{"cells":["keep"]}}`)

	w := do(t, router, http.MethodPost, "/contents/docs", map[string]string{"name": "a.ipynb"})
	if w.Code != http.StatusConflict {
		t.Fatalf("create onto existing = %d, want 409", w.Code)
	}
	got := decode(t, do(t, router, http.MethodGet, "/contents/docs/a.ipynb", nil))
	content, _ := got["content"].(map[string]any)
	if cells, _ := content["cells"].([]any); len(cells) != 1 || cells[0] != "keep" {
		t.Errorf("existing notebook changed: %v", got["content"])
	}

	w = do(t, router, http.MethodPost, "/contents/docs", map[string]string{"name": "b.ipynb"})
	if w.Code != http.StatusCreated {
		t.Errorf("create free name = %d, want 201", w.Code)
	}
}

func TestRejectsNamesWithSlash(t *testing.T) {
	router, _ := testEnv(t, "")
	do(t, router, http.MethodPut, "/contents/a.ipynb", `{"content":{"cells":[]}}`)

	w := do(t, router, http.MethodPatch, "/contents/a.ipynb", map[string]string{"name": "sub/b.ipynb"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("rename to nested name = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPut, "/contents/a.ipynb", `{"name":"sub/c.ipynb","content":{"cells":[]}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("save under nested name = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodPost, "/contents", map[string]string{"name": "x/y.ipynb"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("create nested name = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/contents/a.ipynb", nil); w.Code != http.StatusOK {
		t.Errorf("original after rejected writes = %d", w.Code)
	}
}

func TestIdentity(t *testing.T) {
	tgt := target{name: "a.ipynb", path: "docs"}
	str := func(s string) *string { return &s }

	tests := []struct {
		req        RenameRequest
		name, path string
	}{
		{RenameRequest{}, "a.ipynb", "docs"},
		{RenameRequest{Name: str("b.ipynb")}, "b.ipynb", "docs"},
		{RenameRequest{Name: str(""), Path: str("")}, "a.ipynb", ""},
		{RenameRequest{Path: str("/other/")}, "a.ipynb", "other"},
	}
	for _, tt := range tests {
		name, path := identity(tt.req, tgt)
		if name != tt.name || path != tt.path {
			t.Errorf("identity(%+v) = (%q, %q), want (%q, %q)", tt.req, name, path, tt.name, tt.path)
		}
	}
}

func TestDeleteNotebook(t *testing.T) {
	router, _ := testEnv(t, "")
	do(t, router, http.MethodPut, "/contents/bye.ipynb", `{"content":{"cells":[]}}`)

	if w := do(t, router, http.MethodDelete, "/contents/bye.ipynb", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/contents/bye.ipynb", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/contents/bye.ipynb", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestCheckpointRoutes(t *testing.T) {
	router, events := testEnv(t, "")
	do(t, router, http.MethodPut, "/contents/docs/n.ipynb", `{"content":{"cells":["c1"]}}`)

	w := do(t, router, http.MethodPost, "/contents/docs/n.ipynb/checkpoints", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create checkpoint = %d, body = %s", w.Code, w.Body.String())
	}
	if id := decode(t, w)["id"]; id != "0" {
		t.Errorf("id = %v, want 0", id)
	}

	do(t, router, http.MethodPut, "/contents/docs/n.ipynb", `{"content":{"cells":["c2"]}}`)

	w = do(t, router, http.MethodGet, "/contents/docs/n.ipynb/checkpoints", nil)
	var list []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s (%v)", w.Body.String(), err)
	}

	if w := do(t, router, http.MethodPost, "/contents/docs/n.ipynb/checkpoints/0", nil); w.Code != http.StatusNoContent {
		t.Fatalf("restore = %d, body = %s", w.Code, w.Body.String())
	}
	content, _ := decode(t, do(t, router, http.MethodGet, "/contents/docs/n.ipynb", nil))["content"].(map[string]any)
	if cells, _ := content["cells"].([]any); len(cells) != 1 || cells[0] != "c1" {
		t.Errorf("restored content = %v", content)
	}

	if w := do(t, router, http.MethodPost, "/contents/docs/n.ipynb/checkpoints/9", nil); w.Code != http.StatusNotFound {
		t.Errorf("restore missing = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/contents/docs/n.ipynb/checkpoints/0", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete checkpoint = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/contents/docs/n.ipynb/checkpoints/0", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete checkpoint again = %d, want 404", w.Code)
	}

	want := "contents.created,checkpoint.created,contents.saved,checkpoint.restored,checkpoint.deleted"
	if got := strings.Join(events.types(), ","); got != want {
		t.Errorf("events = %s\nwant     %s", got, want)
	}
}

func TestRepairAndInfo(t *testing.T) {
	router, _ := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/repair?dry_run=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repair = %d", w.Code)
	}
	if got := decode(t, w); got["dry_run"] != true {
		t.Errorf("repair = %v", got)
	}

	w = do(t, router, http.MethodGet, "/info", nil)
	if got := decode(t, w)["info"]; got != "Serving notebooks from memory" {
		t.Errorf("info = %v", got)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router, _ := testEnv(t, "secret123")
	w := do(t, router, http.MethodPost, "/contents", nil, "Authorization", "Bearer secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router, _ := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/contents", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate")
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router, _ := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/contents", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router, _ := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/contents", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_TokenForms(t *testing.T) {
	router, _ := testEnv(t, "secret123")
	cases := []struct {
		target, header string
		want           int
	}{
		{"/contents", "token secret123", http.StatusOK},
		{"/contents", "bearer secret123", http.StatusOK},
		{"/contents?token=secret123", "", http.StatusOK},
		{"/contents?token=nope", "", http.StatusUnauthorized},
		{"/contents?token=secret123", "Basic abc", http.StatusUnauthorized},
		{"/contents", "secret123", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		var w *httptest.ResponseRecorder
		if tc.header == "" {
			w = do(t, router, http.MethodGet, tc.target, nil)
		} else {
			w = do(t, router, http.MethodGet, tc.target, nil, "Authorization", tc.header)
		}
		if w.Code != tc.want {
			t.Errorf("%s with %q = %d, want %d", tc.target, tc.header, w.Code, tc.want)
		}
	}
}

// SSE endpoint auth tests.

func testEnvWithSSE(t *testing.T, authEnabled bool, token string) http.Handler {
	t.Helper()
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	return NewRouter(newManager(t), authEnabled, token, broker, broker)
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret")
	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	// The SSE handler blocks, so cancel the context after a short time.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		url, path, name, id string
		checkpoints         bool
	}{
		{"/contents/a.ipynb", "", "a.ipynb", "", false},
		{"/contents/docs%2Fa.ipynb", "docs", "a.ipynb", "", false},
		{"/contents/docs/a.ipynb/checkpoints", "docs", "a.ipynb", "", true},
		{"/contents/docs/a.ipynb/checkpoints/3", "docs", "a.ipynb", "3", true},
		{"/contents/checkpoints", "", "checkpoints", "", false},
	}
	for _, tc := range cases {
		var got target
		router := NewRouter(nil, false, "", nil, nil)
		router.Get("/target/*", func(_ http.ResponseWriter, r *http.Request) { got = parseTarget(r) })
		do(t, router, http.MethodGet, strings.Replace(tc.url, "/contents", "/target", 1), nil)
		want := target{path: tc.path, name: tc.name, checkpoints: tc.checkpoints, id: tc.id}
		if got != want {
			t.Errorf("%s: got %+v, want %+v", tc.url, got, want)
		}
	}
}
