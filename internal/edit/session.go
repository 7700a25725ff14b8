// Package edit holds the create/update form state for a single task.
package edit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Joseda-hg/tasksync/internal/model"
)

const MsgSaveFailed = "Failed to save task"

// ValidationError is a local rejection raised before any remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrTitleRequired     = &ValidationError{Field: "title", Message: "Title is required"}
	ErrInvalidPriority   = &ValidationError{Field: "priority", Message: "Urgency must be Low, Medium or High"}
	ErrInvalidComplexity = &ValidationError{Field: "complexity", Message: "Complexity must be Low, Medium or High"}
	ErrInvalidDueDate    = &ValidationError{Field: "due_date", Message: "Due date must be YYYY-MM-DD"}
)

type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
)

func (m Mode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "create"
}

type Fields struct {
	Title       string
	Description string
	Priority    model.Level
	Complexity  model.Level
	DueDate     string
}

func DefaultFields() Fields {
	return Fields{Priority: model.LevelMedium, Complexity: model.LevelMedium}
}

// Submitter sends the finished edit to the remote service.
type Submitter interface {
	CreateTask(ctx context.Context, input model.TaskInput) error
	UpdateTask(ctx context.Context, id int64, input model.TaskInput) error
}

// Session tracks the task being edited by id only; the task itself stays in
// the collection store.
type Session struct {
	submit Submitter

	mu         sync.Mutex
	mode       Mode
	targetID   int64
	fields     Fields
	err        string
	generation uint64
}

func New(submit Submitter) *Session {
	return &Session{submit: submit, fields: DefaultFields()}
}

// Begin switches to editing task.
func (s *Session) Begin(task model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.mode = ModeUpdate
	s.targetID = task.ID
	s.fields = Fields{
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
		Complexity:  task.Complexity,
		DueDate:     task.DueDate,
	}
	s.err = ""
}

func (s *Session) BeginCreate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.generation++
	s.mode = ModeCreate
	s.targetID = 0
	s.fields = DefaultFields()
	s.err = ""
}

func (s *Session) SetFields(f Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = f
}

func (s *Session) Fields() Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) TargetID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetID
}

// Err is the inline message from the last failed submit.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	fields := s.fields
	mode := s.mode
	id := s.targetID
	gen := s.generation
	s.mu.Unlock()

	input, err := validate(fields)
	if err != nil {
		s.mu.Lock()
		if gen == s.generation {
			s.err = err.Error()
		}
		s.mu.Unlock()
		return err
	}

	if mode == ModeUpdate {
		err = s.submit.UpdateTask(ctx, id, input)
	} else {
		err = s.submit.CreateTask(ctx, input)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		// A newer session began while this one was in flight.
		return err
	}
	if err != nil {
		s.err = MsgSaveFailed
		return err
	}
	s.resetLocked()
	return nil
}

func validate(f Fields) (model.TaskInput, error) {
	title := strings.TrimSpace(f.Title)
	if title == "" {
		return model.TaskInput{}, ErrTitleRequired
	}
	if !f.Priority.Valid() {
		return model.TaskInput{}, ErrInvalidPriority
	}
	if !f.Complexity.Valid() {
		return model.TaskInput{}, ErrInvalidComplexity
	}
	due := strings.TrimSpace(f.DueDate)
	if due != "" {
		if _, err := time.Parse(model.DateLayout, due); err != nil {
			return model.TaskInput{}, ErrInvalidDueDate
		}
	}
	return model.TaskInput{
		Title:       title,
		Description: strings.TrimSpace(f.Description),
		Priority:    f.Priority,
		Complexity:  f.Complexity,
		DueDate:     due,
	}, nil
}

// IsValidation reports whether err is a local validation rejection.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
