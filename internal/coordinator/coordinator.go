// Package coordinator ties the session, the filter and the task store together.
//
// It owns the currently applied filter, decides when the list is refetched
// and concentrates the reactions to session changes in one place.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Joseda-hg/tasksync/internal/api"
	"github.com/Joseda-hg/tasksync/internal/filter"
	"github.com/Joseda-hg/tasksync/internal/logging"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/session"
	"github.com/Joseda-hg/tasksync/internal/tasks"
)

var ErrTaskNotFound = errors.New("task not found")

// Authenticator exchanges user credentials with the remote service.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) error
}

type Coordinator struct {
	holder *session.Holder
	store  *tasks.Store
	auth   Authenticator
	logger *slog.Logger

	mu          sync.Mutex
	current     model.Criteria
	ctx         context.Context
	unsubscribe func()
}

func New(holder *session.Holder, store *tasks.Store, auth Authenticator, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		holder: holder,
		store:  store,
		auth:   auth,
		logger: logging.OrDefault(logger),
		ctx:    context.Background(),
	}
}

// Start subscribes to session changes and performs the initial fetch when a
// credential is already present.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx = ctx
	c.unsubscribe = c.holder.Subscribe(c.onSession)
	c.mu.Unlock()

	if _, ok := c.holder.Credential(); !ok {
		return nil
	}
	return c.resetAndFetch(ctx)
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Coordinator) onSession(change session.Change) {
	if !change.Authenticated {
		c.logger.Debug("session cleared, dropping task list", "reason", string(change.Reason))
		c.store.Reset()
		return
	}

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if err := c.resetAndFetch(ctx); err != nil {
		c.logger.Warn("initial fetch failed", "reason", string(change.Reason), "error", err)
	}
}

func (c *Coordinator) resetAndFetch(ctx context.Context) error {
	return c.FetchTasks(ctx, &model.Criteria{})
}

// FetchTasks refreshes the list. A nil criteria repeats the current filter;
// otherwise criteria becomes the current filter.
func (c *Coordinator) FetchTasks(ctx context.Context, criteria *model.Criteria) error {
	if _, ok := c.holder.Credential(); !ok {
		return session.ErrNoCredential
	}

	// The filter and the refresh order must agree, so both change under c.mu.
	c.mu.Lock()
	ticket, err := c.store.Begin(ctx, filter.Apply(c.pick(criteria)))
	if err == nil && criteria != nil {
		c.current = *criteria
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	err = ticket.Wait()
	if errors.Is(err, tasks.ErrSuperseded) {
		return nil
	}
	return err
}

func (c *Coordinator) pick(criteria *model.Criteria) model.Criteria {
	if criteria != nil {
		return *criteria
	}
	return c.current
}

// SubmitFilter replaces the current filter wholesale and refetches.
func (c *Coordinator) SubmitFilter(ctx context.Context, criteria model.Criteria) error {
	if err := criteria.Validate(); err != nil {
		return err
	}
	return c.FetchTasks(ctx, &criteria)
}

func (c *Coordinator) CurrentFilter() model.Criteria {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) CreateTask(ctx context.Context, input model.TaskInput) error {
	return c.mutate(ctx, func() error { return c.store.Create(ctx, input) })
}

func (c *Coordinator) UpdateTask(ctx context.Context, id int64, input model.TaskInput) error {
	return c.mutate(ctx, func() error { return c.store.Update(ctx, id, input) })
}

func (c *Coordinator) DeleteTask(ctx context.Context, id int64) error {
	return c.mutate(ctx, func() error { return c.store.Delete(ctx, id) })
}

// Task fetches one task by id without touching the list or the filter.
func (c *Coordinator) Task(ctx context.Context, id int64) (model.Task, error) {
	task, err := c.store.Lookup(ctx, id)
	if errors.Is(err, api.ErrNotFound) || (err == nil && !task.Saved()) {
		return model.Task{}, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return task, err
}

// ToggleCompleted flips the completion flag of a task, looking it up on the
// server when it is not in the current list.
func (c *Coordinator) ToggleCompleted(ctx context.Context, id int64) error {
	for _, task := range c.store.State().Tasks {
		if task.ID == id {
			return c.SetCompleted(ctx, task, !task.Completed)
		}
	}
	task, err := c.Task(ctx, id)
	if err != nil {
		return fmt.Errorf("toggle task: %w", err)
	}
	return c.SetCompleted(ctx, task, !task.Completed)
}

// SetCompleted saves task with its completion flag set to completed.
func (c *Coordinator) SetCompleted(ctx context.Context, task model.Task, completed bool) error {
	input := model.InputFromTask(task)
	input.Completed = &completed
	return c.UpdateTask(ctx, task.ID, input)
}

// mutate runs call and refetches once, unless the session changed meanwhile.
// Once call succeeds the mutation is reported as done; a failed refetch only
// shows up in the store state.
func (c *Coordinator) mutate(ctx context.Context, call func() error) error {
	_, epoch, ok := c.holder.Current()
	if !ok {
		return session.ErrNoCredential
	}
	if err := call(); err != nil {
		return err
	}
	if !c.holder.Valid(epoch) {
		c.logger.Debug("session changed during mutation, skipping refresh")
		return nil
	}
	if err := c.FetchTasks(ctx, nil); err != nil {
		c.logger.Warn("refresh after mutation failed", "error", err)
	}
	return nil
}

func (c *Coordinator) Login(ctx context.Context, username, password string) error {
	token, err := c.auth.Login(ctx, username, password)
	if err != nil {
		return err
	}
	return c.holder.Set(ctx, token)
}

func (c *Coordinator) Register(ctx context.Context, username, password string) error {
	return c.auth.Register(ctx, username, password)
}

func (c *Coordinator) Logout(ctx context.Context) error {
	return c.holder.Clear(ctx)
}

// Holder exposes the session so renderers can subscribe to it.
func (c *Coordinator) Holder() *session.Holder {
	return c.holder
}

func (c *Coordinator) Store() *tasks.Store {
	return c.store
}
