// Package tasks holds the in-memory task collection mirrored from the server.
//
// Refresh is the only writer of the task list. Mutations are forwarded to the
// remote service and never patch the list locally; callers refresh afterwards.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"sync"

	"github.com/Joseda-hg/tasksync/internal/api"
	"github.com/Joseda-hg/tasksync/internal/logging"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/session"
)

const (
	MsgFetchFailed  = "Failed to fetch tasks"
	MsgSaveFailed   = "Failed to save task"
	MsgDeleteFailed = "Failed to delete task"
)

// ErrSuperseded is returned by Refresh when a newer refresh was issued before this one settled.
var ErrSuperseded = errors.New("refresh superseded")

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

type State struct {
	Status Status
	Tasks  []model.Task
	Page   model.PageInfo
	// Err is the fetch failure shown in place of the list.
	Err string
	// MutationErr is the last create/update/delete failure; the list stays as is.
	MutationErr string
	// Pending counts mutations in flight.
	Pending int

	version uint64
}

func (s State) Loading() bool {
	return s.Status == StatusLoading
}

func (s State) Busy() bool {
	return s.Pending > 0
}

// Remote is the task service.
type Remote interface {
	ListTasks(ctx context.Context, token string, query url.Values) (model.TaskPage, error)
	GetTask(ctx context.Context, token string, id int64) (model.Task, error)
	CreateTask(ctx context.Context, token string, input model.TaskInput) error
	UpdateTask(ctx context.Context, token string, id int64, input model.TaskInput) error
	DeleteTask(ctx context.Context, token string, id int64) error
}

type Credentials interface {
	Credential() (string, bool)
}

type Store struct {
	remote Remote
	creds  Credentials
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	version uint64
	seq     uint64
	// generation changes on Reset so late mutation results are not applied.
	generation uint64
	cancel     context.CancelFunc
	listeners  map[int]func(State)
	nextID     int

	// deliverMu orders listener calls; delivered is the newest version handed out.
	deliverMu sync.Mutex
	delivered uint64
}

// Ticket is a refresh that has been issued but not performed yet. Its place in
// the supersession order is fixed when it is issued.
type Ticket struct {
	store   *Store
	seq     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	token   string
	query   url.Values
	loading State
}

func New(remote Remote, creds Credentials, logger *slog.Logger) *Store {
	return &Store{
		remote:    remote,
		creds:     creds,
		logger:    logging.OrDefault(logger),
		listeners: make(map[int]func(State)),
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for state transitions. fn runs on the goroutine that
// caused the transition, after the store lock is released. Snapshots arrive in
// the order they were produced; an outdated one is never delivered after a
// newer one. fn must not start a refresh synchronously.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Refresh replaces the collection with the server's answer for query. Only the
// most recently issued refresh may settle the state; an older one in flight is
// cancelled and its result discarded.
func (s *Store) Refresh(ctx context.Context, query url.Values) error {
	ticket, err := s.Begin(ctx, query)
	if err != nil {
		return err
	}
	return ticket.Wait()
}

// Begin issues a refresh for query without performing it. Any refresh issued
// earlier is superseded right away, so callers that pair the query with their
// own state can do both under one lock.
func (s *Store) Begin(ctx context.Context, query url.Values) (*Ticket, error) {
	token, ok := s.creds.Credential()
	if !ok {
		return nil, session.ErrNoCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	callCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state.Status = StatusLoading
	s.state.Err = ""
	return &Ticket{
		store:   s,
		seq:     s.seq,
		ctx:     callCtx,
		cancel:  cancel,
		token:   token,
		query:   query,
		loading: s.publishLocked(),
	}, nil
}

// Wait performs the issued refresh and settles the state unless a newer one
// was issued meanwhile, in which case it returns ErrSuperseded.
func (t *Ticket) Wait() error {
	s := t.store
	s.notify(t.loading)

	s.logger.Debug("refresh issued", "seq", t.seq, "query", t.query.Encode())
	page, err := s.remote.ListTasks(t.ctx, t.token, t.query)
	t.cancel()

	s.mu.Lock()
	if t.seq != s.seq {
		s.mu.Unlock()
		s.logger.Debug("refresh superseded", "seq", t.seq)
		if errors.Is(err, api.ErrUnauthorized) {
			// The session teardown reset the store; report why.
			return err
		}
		return ErrSuperseded
	}
	s.cancel = nil

	switch {
	case err == nil:
		s.state.Status = StatusReady
		s.state.Tasks = savedOnly(page.Tasks, s.logger)
		s.state.Page = page.Page
		s.state.Err = ""
	case errors.Is(err, api.ErrUnauthorized):
		s.state.Status = StatusIdle
		s.state.Tasks = nil
		s.state.Page = model.PageInfo{}
		s.state.Err = ""
	default:
		s.state.Status = StatusError
		s.state.Tasks = nil
		s.state.Page = model.PageInfo{}
		s.state.Err = MsgFetchFailed
	}
	snap := s.publishLocked()
	s.mu.Unlock()
	s.notify(snap)

	if err != nil {
		s.logger.Warn("refresh failed", "seq", t.seq, "error", err)
		return err
	}
	s.logger.Debug("refresh applied", "seq", t.seq, "tasks", len(snap.Tasks))
	return nil
}

// Lookup fetches one task from the server. The collection is left alone.
func (s *Store) Lookup(ctx context.Context, id int64) (model.Task, error) {
	token, ok := s.creds.Credential()
	if !ok {
		return model.Task{}, session.ErrNoCredential
	}
	return s.remote.GetTask(ctx, token, id)
}

func (s *Store) Create(ctx context.Context, input model.TaskInput) error {
	return s.mutate(ctx, MsgSaveFailed, func(ctx context.Context, token string) error {
		return s.remote.CreateTask(ctx, token, input)
	})
}

func (s *Store) Update(ctx context.Context, id int64, input model.TaskInput) error {
	return s.mutate(ctx, MsgSaveFailed, func(ctx context.Context, token string) error {
		return s.remote.UpdateTask(ctx, token, id, input)
	})
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.mutate(ctx, MsgDeleteFailed, func(ctx context.Context, token string) error {
		return s.remote.DeleteTask(ctx, token, id)
	})
}

func (s *Store) mutate(ctx context.Context, failure string, call func(ctx context.Context, token string) error) error {
	token, ok := s.creds.Credential()
	if !ok {
		return session.ErrNoCredential
	}

	s.mu.Lock()
	generation := s.generation
	s.state.Pending++
	s.state.MutationErr = ""
	snap := s.publishLocked()
	s.mu.Unlock()
	s.notify(snap)

	err := call(ctx, token)

	s.mu.Lock()
	if s.state.Pending > 0 {
		s.state.Pending--
	}
	switch {
	case generation != s.generation:
		// Reset happened meanwhile; the outcome belongs to the old session.
	case err == nil, errors.Is(err, api.ErrUnauthorized):
		s.state.MutationErr = ""
	default:
		s.state.MutationErr = failure
	}
	snap = s.publishLocked()
	s.mu.Unlock()
	s.notify(snap)

	if err != nil {
		s.logger.Warn("mutation failed", "error", err)
	}
	return err
}

// Reset drops the collection and invalidates any refresh still in flight.
func (s *Store) Reset() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.seq++
	s.generation++
	s.state = State{Pending: s.state.Pending}
	snap := s.publishLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) snapshotLocked() State {
	snap := s.state
	snap.Tasks = slices.Clone(s.state.Tasks)
	snap.version = s.version
	return snap
}

// publishLocked stamps the current state as a new version for listeners.
func (s *Store) publishLocked() State {
	s.version++
	return s.snapshotLocked()
}

func (s *Store) notify(snap State) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if snap.version <= s.delivered {
		return
	}
	s.delivered = snap.version

	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func savedOnly(tasks []model.Task, logger *slog.Logger) []model.Task {
	result := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		if !task.Saved() {
			logger.Warn("dropping task without id from list response", "title", task.Title)
			continue
		}
		result = append(result, task)
	}
	return result
}
