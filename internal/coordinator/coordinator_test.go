package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Joseda-hg/tasksync/internal/api"
	"github.com/Joseda-hg/tasksync/internal/db"
	"github.com/Joseda-hg/tasksync/internal/edit"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/session"
	"github.com/Joseda-hg/tasksync/internal/tasks"
)

// fakeService is a stand-in for the remote task service.
type fakeService struct {
	mu            sync.Mutex
	tasks         []model.Task
	listQueries   []string
	mutations     []string
	unauthorized  bool
	failMutations bool
	failList      bool
	// listFor, when set, picks the answer for a list query.
	listFor func(query string) []model.Task
	// onMutation runs inside the mutation handler before it answers.
	onMutation func()
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	unauthorized := f.unauthorized
	failMutations := f.failMutations
	hook := f.onMutation
	f.mu.Unlock()

	if r.URL.Path == "/login" {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "fresh-token"})
		return
	}
	if r.URL.Path == "/register" {
		w.WriteHeader(http.StatusCreated)
		return
	}
	if unauthorized {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token is invalid!"}`))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/tasks" {
		f.mu.Lock()
		f.listQueries = append(f.listQueries, r.URL.RawQuery)
		list, failList, listFor := f.tasks, f.failList, f.listFor
		f.mu.Unlock()
		if failList {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if listFor != nil {
			list = listFor(r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"tasks": list})
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/tasks/") {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, task := range f.tasks {
			if r.URL.Path == "/tasks/"+strconv.FormatInt(task.ID, 10) {
				_ = json.NewEncoder(w).Encode(task)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if hook != nil {
		hook()
	}
	f.mu.Lock()
	f.mutations = append(f.mutations, r.Method+" "+r.URL.Path)
	f.mu.Unlock()
	if failMutations {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(`{"message":"ok"}`))
}

func (f *fakeService) set(fn func(f *fakeService)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeService) mutationLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.mutations...)
}

func (f *fakeService) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.listQueries...)
}

type testEnv struct {
	service *fakeService
	persist *db.Store
	holder  *session.Holder
	store   *tasks.Store
	coord   *Coordinator
}

func newTestCoordinator(t *testing.T) (*testEnv, func()) {
	t.Helper()
	return newTestCoordinatorWith(t, func(c tasks.Credentials) tasks.Credentials { return c })
}

// newTestCoordinatorWith lets a test wrap the credentials the store reads.
func newTestCoordinatorWith(t *testing.T, wrap func(tasks.Credentials) tasks.Credentials) (*testEnv, func()) {
	t.Helper()

	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	service := &fakeService{}
	server := httptest.NewServer(service)

	persist := db.NewStore(conn)
	holder := session.NewHolder(persist, nil)
	client := api.New(server.URL, api.WithUnauthorizedHandler(holder.OnUnauthorized))
	store := tasks.New(client, wrap(holder), nil)
	coord := New(holder, store, client, nil)
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	env := &testEnv{service: service, persist: persist, holder: holder, store: store, coord: coord}
	cleanup := func() {
		coord.Stop()
		server.Close()
		_ = conn.Close()
	}
	return env, cleanup
}

func loginTestEnv(t *testing.T, env *testEnv) {
	t.Helper()
	if err := env.coord.Login(context.Background(), "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestLoginTriggersUnfilteredFetch(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	env.service.tasks = []model.Task{{ID: 1, Title: "A", Priority: model.LevelHigh, Complexity: model.LevelLow}}

	loginTestEnv(t, env)

	queries := env.service.queries()
	if len(queries) != 1 || queries[0] != "" {
		t.Fatalf("expected one unfiltered fetch, got %q", queries)
	}
	if state := env.store.State(); state.Status != tasks.StatusReady || len(state.Tasks) != 1 {
		t.Fatalf("expected ready list, got %+v", state)
	}
	token, err := env.persist.LoadCredential(context.Background())
	if err != nil || token != "fresh-token" {
		t.Fatalf("expected persisted credential, got %q (%v)", token, err)
	}
}

func TestStartWithRestoredCredentialFetches(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	ctx := context.Background()

	if err := env.persist.SaveCredential(ctx, "saved"); err != nil {
		t.Fatalf("save credential: %v", err)
	}
	if err := env.holder.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := len(env.service.queries()); got != 1 {
		t.Fatalf("expected initial fetch after restore, got %d", got)
	}
}

func TestFetchWithoutCredentialIsRefused(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()

	if err := env.coord.FetchTasks(context.Background(), nil); !errors.Is(err, session.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if len(env.service.queries()) != 0 {
		t.Fatalf("expected no list request")
	}
}

func TestSubmitFilterReplacesRatherThanMerges(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	loginTestEnv(t, env)
	ctx := context.Background()

	if err := env.coord.SubmitFilter(ctx, model.Criteria{Priority: model.LevelHigh}); err != nil {
		t.Fatalf("first filter: %v", err)
	}
	if err := env.coord.SubmitFilter(ctx, model.Criteria{Complexity: model.LevelLow}); err != nil {
		t.Fatalf("second filter: %v", err)
	}

	queries := env.service.queries()
	last := queries[len(queries)-1]
	if last != "complexity=Low" {
		t.Fatalf("expected only complexity in query, got %q", last)
	}
	if got := env.coord.CurrentFilter(); got != (model.Criteria{Complexity: model.LevelLow}) {
		t.Fatalf("unexpected current filter %+v", got)
	}
}

func TestSubmitFilterRejectsInvalidCriteria(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	loginTestEnv(t, env)
	before := len(env.service.queries())

	if err := env.coord.SubmitFilter(context.Background(), model.Criteria{Priority: "Urgent"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if len(env.service.queries()) != before {
		t.Fatalf("expected no list request for invalid filter")
	}
}

func TestMutationRefreshesOnceWithCurrentFilter(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	loginTestEnv(t, env)
	ctx := context.Background()

	if err := env.coord.SubmitFilter(ctx, model.Criteria{Overdue: true}); err != nil {
		t.Fatalf("filter: %v", err)
	}

	mutations := []func() error{
		func() error { return env.coord.CreateTask(ctx, model.TaskInput{Title: "A"}) },
		func() error { return env.coord.UpdateTask(ctx, 1, model.TaskInput{Title: "B"}) },
		func() error { return env.coord.DeleteTask(ctx, 1) },
	}
	for i, mutation := range mutations {
		before := len(env.service.queries())
		if err := mutation(); err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
		queries := env.service.queries()
		if len(queries) != before+1 {
			t.Fatalf("mutation %d: expected exactly one refresh, got %d", i, len(queries)-before)
		}
		if queries[len(queries)-1] != "overdue=true" {
			t.Fatalf("mutation %d: expected refresh with active filter, got %q", i, queries[len(queries)-1])
		}
	}
}

func TestFailedMutationDoesNotRefresh(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	env.service.tasks = []model.Task{{ID: 1, Title: "A", Priority: model.LevelLow, Complexity: model.LevelLow}}
	loginTestEnv(t, env)
	env.service.set(func(f *fakeService) { f.failMutations = true })
	before := len(env.service.queries())

	if err := env.coord.UpdateTask(context.Background(), 1, model.TaskInput{Title: "B"}); err == nil {
		t.Fatalf("expected update error")
	}
	if len(env.service.queries()) != before {
		t.Fatalf("expected no refresh after failed mutation")
	}
	state := env.store.State()
	if state.Status != tasks.StatusReady || len(state.Tasks) != 1 || state.MutationErr != tasks.MsgSaveFailed {
		t.Fatalf("expected list kept with inline error, got %+v", state)
	}
}

func TestUnauthorizedClearsSessionOnce(t *testing.T) {
	calls := map[string]func(c *Coordinator) error{
		"list":   func(c *Coordinator) error { return c.FetchTasks(context.Background(), nil) },
		"create": func(c *Coordinator) error { return c.CreateTask(context.Background(), model.TaskInput{Title: "A"}) },
		"update": func(c *Coordinator) error { return c.UpdateTask(context.Background(), 1, model.TaskInput{Title: "A"}) },
		"delete": func(c *Coordinator) error { return c.DeleteTask(context.Background(), 1) },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			env, cleanup := newTestCoordinator(t)
			defer cleanup()
			loginTestEnv(t, env)

			var changes []session.Change
			env.holder.Subscribe(func(c session.Change) { changes = append(changes, c) })

			env.service.set(func(f *fakeService) { f.unauthorized = true })
			err := call(env.coord)
			if err == nil {
				t.Fatalf("expected error")
			}

			if _, ok := env.holder.Credential(); ok {
				t.Fatalf("expected credential cleared")
			}
			if len(changes) != 1 || changes[0].Reason != session.ReasonUnauthorized {
				t.Fatalf("expected exactly one unauthorized clear, got %+v", changes)
			}
			token, err := env.persist.LoadCredential(context.Background())
			if err != nil || token != "" {
				t.Fatalf("expected no persisted credential, got %q (%v)", token, err)
			}
			if state := env.store.State(); len(state.Tasks) != 0 || state.Err != "" {
				t.Fatalf("expected empty silent store, got %+v", state)
			}
		})
	}
}

func TestCredentialClearedDuringMutationSkipsRefresh(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	loginTestEnv(t, env)
	env.service.set(func(f *fakeService) {
		f.onMutation = func() {
			if err := env.holder.Clear(context.Background()); err != nil {
				t.Errorf("clear: %v", err)
			}
		}
	})
	before := len(env.service.queries())

	if err := env.coord.CreateTask(context.Background(), model.TaskInput{Title: "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(env.service.queries()) != before {
		t.Fatalf("expected no refresh after logout mid-mutation")
	}
}

func TestLogoutResetsStore(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	env.service.tasks = []model.Task{{ID: 1, Title: "A", Priority: model.LevelLow, Complexity: model.LevelLow}}
	loginTestEnv(t, env)

	if err := env.coord.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	state := env.store.State()
	if state.Status != tasks.StatusIdle || len(state.Tasks) != 0 {
		t.Fatalf("expected idle empty store, got %+v", state)
	}
}

func TestToggleCompletedSendsFlippedFlag(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	env.service.tasks = []model.Task{{ID: 4, Title: "A", Priority: model.LevelLow, Complexity: model.LevelLow}}
	loginTestEnv(t, env)

	if err := env.coord.ToggleCompleted(context.Background(), 4); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := env.service.mutationLog(); len(got) != 1 || got[0] != "PUT /tasks/4" {
		t.Fatalf("unexpected mutations %v", got)
	}
	if err := env.coord.ToggleCompleted(context.Background(), 99); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestEmptyTitleCreateMakesNoNetworkCall(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	loginTestEnv(t, env)

	form := edit.New(env.coord)
	form.SetFields(edit.Fields{Title: "  ", Priority: model.LevelMedium, Complexity: model.LevelMedium})
	if err := form.Submit(context.Background()); !errors.Is(err, edit.ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
	if len(env.service.mutationLog()) != 0 {
		t.Fatalf("expected no mutation request")
	}
	if form.Mode() != edit.ModeCreate {
		t.Fatalf("expected create mode retained")
	}
}

func TestFilteredFetchScenario(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	env.service.tasks = []model.Task{{ID: 1, Title: "Ship", Priority: model.LevelHigh, Complexity: model.LevelMedium}}
	loginTestEnv(t, env)

	if err := env.coord.SubmitFilter(context.Background(), model.Criteria{Priority: model.LevelHigh}); err != nil {
		t.Fatalf("filter: %v", err)
	}
	queries := env.service.queries()
	if !strings.Contains(queries[len(queries)-1], "urgency=High") {
		t.Fatalf("expected urgency query, got %q", queries[len(queries)-1])
	}
	state := env.store.State()
	if state.Status != tasks.StatusReady || len(state.Tasks) != 1 || state.Tasks[0].ID != 1 {
		t.Fatalf("expected Ready([task#1]), got %+v", state)
	}
}

func TestSaveSucceedsWhenFollowUpRefreshFails(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	loginTestEnv(t, env)
	env.service.set(func(f *fakeService) { f.failList = true })

	form := edit.New(env.coord)
	form.BeginCreate()
	fields := form.Fields()
	fields.Title = "Buy milk"
	form.SetFields(fields)

	if err := form.Submit(context.Background()); err != nil {
		t.Fatalf("expected saved task, got %v", err)
	}
	if got := env.service.mutationLog(); len(got) != 1 || got[0] != "POST /tasks" {
		t.Fatalf("expected one create, got %v", got)
	}
	if form.Fields().Title != "" || form.Err() != "" {
		t.Fatalf("expected reset form, got %+v (%q)", form.Fields(), form.Err())
	}
	state := env.store.State()
	if state.Status != tasks.StatusError || state.Err != tasks.MsgFetchFailed || state.MutationErr != "" {
		t.Fatalf("expected fetch error only, got %+v", state)
	}
}

// gatedCredentials holds the next credential lookup until gate is closed.
type gatedCredentials struct {
	inner   tasks.Credentials
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedCredentials) Credential() (string, bool) {
	g.mu.Lock()
	gate, entered := g.gate, g.entered
	g.gate = nil
	g.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return g.inner.Credential()
}

func (g *gatedCredentials) arm() (gate, entered chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
	g.entered = make(chan struct{})
	return g.gate, g.entered
}

func TestConcurrentFiltersSettleOnLatest(t *testing.T) {
	var gated *gatedCredentials
	env, cleanup := newTestCoordinatorWith(t, func(c tasks.Credentials) tasks.Credentials {
		gated = &gatedCredentials{inner: c}
		return gated
	})
	defer cleanup()
	env.service.set(func(f *fakeService) {
		f.listFor = func(query string) []model.Task {
			switch {
			case strings.Contains(query, "urgency=High"):
				return []model.Task{{ID: 1, Title: "High", Priority: model.LevelHigh}}
			case strings.Contains(query, "urgency=Low"):
				return []model.Task{{ID: 2, Title: "Low", Priority: model.LevelLow}}
			}
			return nil
		}
	})
	loginTestEnv(t, env)
	ctx := context.Background()

	gate, entered := gated.arm()
	first := make(chan error, 1)
	go func() { first <- env.coord.SubmitFilter(ctx, model.Criteria{Priority: model.LevelHigh}) }()
	<-entered

	second := make(chan error, 1)
	go func() { second <- env.coord.SubmitFilter(ctx, model.Criteria{Priority: model.LevelLow}) }()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	if err := <-first; err != nil {
		t.Fatalf("first filter: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second filter: %v", err)
	}

	if got := env.coord.CurrentFilter(); got.Priority != model.LevelLow {
		t.Fatalf("expected latest filter, got %+v", got)
	}
	state := env.store.State()
	if state.Status != tasks.StatusReady || len(state.Tasks) != 1 || state.Tasks[0].Title != "Low" {
		t.Fatalf("expected list for the latest filter, got %+v", state)
	}
}

func TestTaskLooksUpWithoutTouchingFilter(t *testing.T) {
	env, cleanup := newTestCoordinator(t)
	defer cleanup()
	env.service.tasks = []model.Task{{ID: 5, Title: "Remote only", Priority: model.LevelLow, Complexity: model.LevelLow}}
	loginTestEnv(t, env)
	ctx := context.Background()
	if err := env.coord.SubmitFilter(ctx, model.Criteria{Overdue: true}); err != nil {
		t.Fatalf("filter: %v", err)
	}
	before := len(env.service.queries())

	task, err := env.coord.Task(ctx, 5)
	if err != nil || task.Title != "Remote only" {
		t.Fatalf("expected task, got %+v (%v)", task, err)
	}
	if _, err := env.coord.Task(ctx, 6); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if len(env.service.queries()) != before || !env.coord.CurrentFilter().Overdue {
		t.Fatalf("expected lookups to leave the list and filter alone")
	}
}
