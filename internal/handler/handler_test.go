package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fslongjin/flutterbox/internal/build"
	"github.com/fslongjin/flutterbox/internal/config"
	"github.com/fslongjin/flutterbox/internal/lifecycle"
	"github.com/fslongjin/flutterbox/internal/service"
	"github.com/fslongjin/flutterbox/internal/store"
	"github.com/fslongjin/flutterbox/internal/workspace"
	"github.com/fslongjin/flutterbox/pkg/model"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type testServer struct {
	router *gin.Engine
	files  *workspace.Store
	drain  *lifecycle.DrainManager
}

func newTestServer(t *testing.T, buildCfg config.BuildConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if err := store.InitDB(filepath.Join(t.TempDir(), "flutterbox.db")); err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() { store.CloseDB() })

	template := t.TempDir()
	if err := os.MkdirAll(filepath.Join(template, "lib"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(template, "pubspec.yaml"), []byte("name: app\n"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	buildCfg.CacheEnv = "PUB_CACHE"
	buildCfg.CacheDir = ".pub-cache"
	buildCfg.OutputDir = "build/web"
	files, err := workspace.NewStore(config.WorkspaceConfig{
		Root:        filepath.Join(t.TempDir(), "workspaces"),
		TemplateDir: template,
		Scaffold:    []string{"sh", "-c", "mkdir -p web && echo scaffolded > web/.scaffold"},
	}, buildCfg)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	meta := store.NewWorkspaceStore()
	drain := lifecycle.NewDrainManager()
	buildSvc := service.NewBuildService(files, build.NewOrchestrator(files, buildCfg, nil), meta)

	r := gin.New()
	api := r.Group("/api")
	NewWorkspaceHandler(service.NewWorkspaceService(files, meta, nil)).RegisterRoutes(api)
	NewBuildHandler(buildSvc, drain).RegisterRoutes(api)
	NewPreviewHandler(buildSvc).RegisterRoutes(r)
	return &testServer{router: r, files: files, drain: drain}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createWorkspace(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/workspaces", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp model.CreateWorkspaceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if len(resp.WorkspaceID) != 8 {
		t.Fatalf("workspaceId = %q, want 8 hex characters", resp.WorkspaceID)
	}
	return resp.WorkspaceID
}

func decodeSSE(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	var data []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if data != nil {
				events = append(events, strings.Join(data, "\n"))
				data = nil
			}
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected SSE line %q", line)
		}
		data = append(data, payload)
	}
	return events
}

func TestWriteThenReadFile(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}})
	id := s.createWorkspace(t)

	w := s.do(t, http.MethodPut, "/api/workspaces/"+id+"/file", model.FilePatch{Path: "lib/main.dart", Content: "void main() {}"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/workspaces/"+id+"/file?path=lib/main.dart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", w.Code, w.Body.String())
	}
	var file model.FileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &file); err != nil {
		t.Fatalf("decode file: %v", err)
	}
	if file.Path != "lib/main.dart" || file.Content != "void main() {}" {
		t.Fatalf("file = %+v", file)
	}
}

func TestFileErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}})
	id := s.createWorkspace(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"read traversal", http.MethodGet, "/api/workspaces/" + id + "/file?path=../secret", nil, http.StatusBadRequest},
		{"read absolute", http.MethodGet, "/api/workspaces/" + id + "/file?path=/etc/passwd", nil, http.StatusBadRequest},
		{"read missing path", http.MethodGet, "/api/workspaces/" + id + "/file", nil, http.StatusBadRequest},
		{"read missing file", http.MethodGet, "/api/workspaces/" + id + "/file?path=lib/none.dart", nil, http.StatusNotFound},
		{"write traversal", http.MethodPut, "/api/workspaces/" + id + "/file", model.FilePatch{Path: "../x.dart", Content: "x"}, http.StatusBadRequest},
		{"read unknown workspace", http.MethodGet, "/api/workspaces/doesnotexist/file?path=lib/main.dart", nil, http.StatusNotFound},
		{"write unknown workspace", http.MethodPut, "/api/workspaces/doesnotexist/file", model.FilePatch{Path: "lib/main.dart"}, http.StatusNotFound},
		{"tree unknown workspace", http.MethodGet, "/api/workspaces/doesnotexist", nil, http.StatusNotFound},
		{"build unknown workspace", http.MethodPost, "/api/workspaces/doesnotexist/build", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Fatalf("body has no error field: %s", w.Body.String())
			}
		})
	}

	if _, err := os.Stat(filepath.Join(s.files.Root(), "doesnotexist")); !os.IsNotExist(err) {
		t.Fatalf("unknown workspace was created: %v", err)
	}
}

func TestTreeHidesBuildOutput(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}})
	id := s.createWorkspace(t)
	s.do(t, http.MethodPut, "/api/workspaces/"+id+"/file", model.FilePatch{Path: "build/web/index.html", Content: "<html>"})

	w := s.do(t, http.MethodGet, "/api/workspaces/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tree status = %d", w.Code)
	}
	var tree model.TreeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tree); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	var walk func(nodes []model.FileNode)
	walk = func(nodes []model.FileNode) {
		for _, n := range nodes {
			if strings.HasPrefix(n.Path, "build/") {
				t.Fatalf("tree contains build output %q", n.Path)
			}
			walk(n.Children)
		}
	}
	walk(tree.Files)
	if len(tree.Files) == 0 {
		t.Fatalf("tree is empty")
	}
}

func TestWriteFilesBatch(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}})
	id := s.createWorkspace(t)

	req := model.WriteFilesRequest{Files: []model.GeneratedFile{
		{File: "lib/main.dart", Content: "void main() {}"},
		{File: "lib/theme.dart", Content: "const x = 1;"},
	}}
	w := s.do(t, http.MethodPost, "/api/workspaces/"+id+"/files", req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp model.WriteFilesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Written != 2 {
		t.Fatalf("resp = %+v", resp)
	}

	bad := model.WriteFilesRequest{Files: []model.GeneratedFile{{File: "a.dart"}, {File: "/abs.dart"}}}
	if w := s.do(t, http.MethodPost, "/api/workspaces/"+id+"/files", bad); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid batch status = %d", w.Code)
	}
}

func TestBuildLogsStream(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{
		Fetch: []string{"sh", "-c", "echo Resolving dependencies...; echo Got dependencies!"},
		Build: []string{"sh", "-c", "echo Compiling lib/main.dart for the Web...; mkdir -p build/web; echo '<html><head></head></html>' > build/web/index.html"},
	})
	id := s.createWorkspace(t)

	w := s.do(t, http.MethodPost, "/api/workspaces/"+id+"/build", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	var start model.StartBuildResponse
	if err := json.Unmarshal(w.Body.Bytes(), &start); err != nil {
		t.Fatalf("decode start: %v", err)
	}

	w = s.do(t, http.MethodGet, start.Logs, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logs status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := decodeSSE(t, w.Body.String())
	want := []string{
		"Running sh -c echo Resolving dependencies...; echo Got dependencies!...",
		"Resolving dependencies...",
		"Got dependencies!",
		"Building web...",
		"Compiling lib/main.dart for the Web...",
		"__EXIT__ 0",
	}
	if strings.Join(events, "\n") != strings.Join(want, "\n") {
		t.Fatalf("events = %q, want %q", events, want)
	}

	w = s.do(t, http.MethodGet, start.Preview, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("preview status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `<base href="/preview/`+id+`/build/web/">`) {
		t.Fatalf("preview did not inject base href: %s", w.Body.String())
	}
	if s.drain.ActiveStreams() != 0 {
		t.Fatalf("stream still tracked after completion")
	}
}

func TestBuildLogsUnknownWorkspace(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	s := newTestServer(t, config.BuildConfig{
		Fetch: []string{"sh", "-c", "touch " + marker},
		Build: []string{"sh", "-c", "touch " + marker},
	})

	w := s.do(t, http.MethodGet, "/api/workspaces/doesnotexist/build/logs", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if strings.Contains(w.Body.String(), "data:") {
		t.Fatalf("stream started for unknown workspace: %s", w.Body.String())
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("a process was spawned: %v", err)
	}
}

func TestBuildLogsBusyWorkspace(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}})
	id := s.createWorkspace(t)

	orch := build.NewOrchestrator(s.files, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}}, nil)
	held, err := orch.Prepare(id)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer held.Close()

	if w := s.do(t, http.MethodGet, "/api/workspaces/"+id+"/build/logs", nil); w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestBuildLogsWebSocket(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{
		Fetch: []string{"sh", "-c", "echo fetched"},
		Build: []string{"sh", "-c", "echo built; exit 1"},
	})
	id := s.createWorkspace(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/workspaces/" + id + "/build/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var msgs []model.BuildMessage
	for {
		var msg model.BuildMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		t.Fatalf("no messages received")
	}
	last := msgs[len(msgs)-1]
	if last.Type != model.BuildMessageExit || last.ExitCode != 1 || last.Data != "__EXIT__ 1" {
		t.Fatalf("last message = %+v", last)
	}
	var data []string
	for _, m := range msgs[:len(msgs)-1] {
		if m.Type != model.BuildMessageLog {
			t.Fatalf("unexpected message type %+v", m)
		}
		data = append(data, m.Data)
	}
	if got := strings.Join(data, "|"); got != "Running sh -c echo fetched...|fetched|Building web...|built" {
		t.Fatalf("log messages = %q", got)
	}
}

func TestPreviewNotFound(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}})
	id := s.createWorkspace(t)

	w := s.do(t, http.MethodGet, "/preview/"+id+"/build/web/main.dart.js", nil)
	if w.Code != http.StatusNotFound || w.Body.String() != "Not Found" {
		t.Fatalf("preview = %d %q, want 404 Not Found", w.Code, w.Body.String())
	}
}

func TestPreviewServesAssets(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}})
	id := s.createWorkspace(t)
	s.do(t, http.MethodPut, "/api/workspaces/"+id+"/file", model.FilePatch{Path: "build/web/main.dart.js", Content: "console.log(1)"})

	w := s.do(t, http.MethodGet, "/preview/"+id+"/build/web/main.dart.js", nil)
	if w.Code != http.StatusOK || w.Body.String() != "console.log(1)" {
		t.Fatalf("preview = %d %q", w.Code, w.Body.String())
	}
}

func TestPreviewServesAssetWithSpacedName(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"true"}})
	id := s.createWorkspace(t)
	root, err := s.files.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	dir := filepath.Join(s.files.OutputDir(root), "assets", "fonts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Material Icons.otf"), []byte("otf"), 0o644); err != nil {
		t.Fatalf("write font: %v", err)
	}

	w := s.do(t, http.MethodGet, "/preview/"+id+"/build/web/assets/fonts/Material%20Icons.otf", nil)
	if w.Code != http.StatusOK || w.Body.String() != "otf" {
		t.Fatalf("preview = %d %q, want the font", w.Code, w.Body.String())
	}
}

func TestRewriteBaseHref(t *testing.T) {
	base := "/preview/abcd1234/build/web/"
	tests := []struct {
		in   string
		want string
	}{
		{
			in:   `<html><head><base href="/"><title>x</title></head></html>`,
			want: `<html><head><base href="/preview/abcd1234/build/web/"><title>x</title></head></html>`,
		},
		{
			in:   `<html><head><title>x</title></head></html>`,
			want: `<html><head><base href="/preview/abcd1234/build/web/"><title>x</title></head></html>`,
		},
		{
			in:   `<html><body>no head</body></html>`,
			want: `<html><body>no head</body></html>`,
		},
	}
	for _, tt := range tests {
		if got := RewriteBaseHref(tt.in, base); got != tt.want {
			t.Fatalf("RewriteBaseHref(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWorkspaceListIncludesBuildResult(t *testing.T) {
	s := newTestServer(t, config.BuildConfig{Fetch: []string{"true"}, Build: []string{"sh", "-c", "exit 4"}})
	id := s.createWorkspace(t)
	s.do(t, http.MethodGet, "/api/workspaces/"+id+"/build/logs", nil)

	w := s.do(t, http.MethodGet, "/api/workspaces", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list model.WorkspaceListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != id {
		t.Fatalf("list = %+v", list)
	}
	if list.Items[0].LastExitCode == nil || *list.Items[0].LastExitCode != 4 {
		t.Fatalf("LastExitCode = %v, want 4", list.Items[0].LastExitCode)
	}
}
