package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Joseda-hg/tasksync/internal/model"
)

type fakeServer struct {
	mu       sync.Mutex
	tasks    []model.Task
	requests []string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())

	switch {
	case r.URL.Path == "/login":
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Could not verify"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + body.Username})
	case r.Header.Get("Authorization") == "":
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token is missing!"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/tasks":
		_ = json.NewEncoder(w).Encode(map[string]any{"tasks": f.tasks, "total_pages": 1, "current_page": 1})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/tasks/"):
		for _, task := range f.tasks {
			if r.URL.Path == fmt.Sprintf("/tasks/%d", task.ID) {
				_ = json.NewEncoder(w).Encode(task)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	default:
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}
}

func (f *fakeServer) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

type testCLI struct {
	server *fakeServer
	url    string
	dir    string
}

func newTestCLI(t *testing.T) (*testCLI, func()) {
	t.Helper()
	t.Setenv("TASKSYNC_SERVER", "")
	t.Setenv("TASKSYNC_DB", "")
	t.Setenv("TASKSYNC_LOG_LEVEL", "")
	t.Setenv("TASKSYNC_CONFIG", "")
	t.Setenv("TASKSYNC_PASSWORD", "")

	server := &fakeServer{tasks: []model.Task{
		{ID: 1, Title: "Ship release", Priority: model.LevelHigh, Complexity: model.LevelLow, DueDate: "2026-01-10"},
		{ID: 2, Title: "Write notes", Priority: model.LevelLow, Complexity: model.LevelLow, Completed: true},
	}}
	httpServer := httptest.NewServer(server)
	return &testCLI{server: server, url: httpServer.URL, dir: t.TempDir()}, httpServer.Close
}

func (c *testCLI) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	base := []string{
		"--config", filepath.Join(c.dir, "config.json"),
		"--db", filepath.Join(c.dir, "tasksync.db"),
		"--server", c.url,
	}
	cmd.SetArgs(append(args, base...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestLoginListLogout(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	out, _, err := c.run(t, "login", "--username", "ana", "--password", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Logged in as ana") {
		t.Fatalf("unexpected login output %q", out)
	}

	out, _, err = c.run(t, "list", "--urgency", "high", "--overdue")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Ship release") || !strings.Contains(out, "TITLE") {
		t.Fatalf("expected task table, got %q", out)
	}
	requests := c.server.log()
	if last := requests[len(requests)-1]; last != "GET /tasks?overdue=true&urgency=High" {
		t.Fatalf("unexpected list request %q", last)
	}

	if _, _, err := c.run(t, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	before := len(c.server.log())
	_, stderr, err := c.run(t, "list")
	if !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected not logged in, got %v", err)
	}
	if !strings.Contains(stderr, "not logged in") {
		t.Fatalf("expected message on stderr, got %q", stderr)
	}
	if len(c.server.log()) != before {
		t.Fatalf("expected no request after logout")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	_, stderr, err := c.run(t, "login", "--username", "ana", "--password", "wrong")
	if err == nil {
		t.Fatalf("expected login failure")
	}
	if !strings.Contains(stderr, "invalid username or password") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
}

func TestListJSON(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	if _, _, err := c.run(t, "login", "--username", "ana", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	out, _, err := c.run(t, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var body struct {
		Tasks []model.Task   `json:"tasks"`
		Page  model.PageInfo `json:"page"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(body.Tasks) != 2 || body.Page.TotalPages != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestListRejectsInvalidLevel(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	if _, _, err := c.run(t, "list", "--complexity", "Huge"); err == nil {
		t.Fatalf("expected invalid complexity error")
	}
	if len(c.server.log()) != 0 {
		t.Fatalf("expected no request")
	}
}

func TestAddRequiresTitle(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	if _, _, err := c.run(t, "login", "--username", "ana", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	before := len(c.server.log())
	_, stderr, err := c.run(t, "add", "--title", "   ")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(stderr, "Title is required") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
	if len(c.server.log()) != before {
		t.Fatalf("expected no request for an invalid task")
	}
}

func TestAddPostsTask(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	if _, _, err := c.run(t, "login", "--username", "ana", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	out, _, err := c.run(t, "add", "--title", "Plan sprint", "--urgency", "high", "--due", "2026-02-01")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Task created") {
		t.Fatalf("unexpected output %q", out)
	}
	if !contains(c.server.log(), "POST /tasks") {
		t.Fatalf("expected create request, got %v", c.server.log())
	}
}

func TestDoneSkipsCompletedTask(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	if _, _, err := c.run(t, "login", "--username", "ana", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	out, _, err := c.run(t, "done", "2")
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if !strings.Contains(out, "unchanged") {
		t.Fatalf("expected unchanged, got %q", out)
	}

	if _, _, err := c.run(t, "done", "1"); err != nil {
		t.Fatalf("done: %v", err)
	}
	if !contains(c.server.log(), "PUT /tasks/1") {
		t.Fatalf("expected update request, got %v", c.server.log())
	}
}

func TestEditMissingTask(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	if _, _, err := c.run(t, "login", "--username", "ana", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := c.run(t, "edit", "99", "--title", "Nope"); err == nil {
		t.Fatalf("expected missing task error")
	}
}

func TestEditFetchesOnlyTheTargetTask(t *testing.T) {
	c, cleanup := newTestCLI(t)
	defer cleanup()

	if _, _, err := c.run(t, "login", "--username", "ana", "--password", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	before := len(c.server.log())
	out, _, err := c.run(t, "edit", "1", "--title", "Ship it")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !strings.Contains(out, "Task 1 updated") {
		t.Fatalf("unexpected output %q", out)
	}
	requests := c.server.log()[before:]
	if len(requests) < 2 || requests[0] != "GET /tasks/1" || requests[1] != "PUT /tasks/1" {
		t.Fatalf("expected lookup then update, got %v", requests)
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
