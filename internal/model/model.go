package model

import (
	"fmt"
	"strings"
)

// Level is the shared vocabulary for priority (shown as "urgency") and complexity.
type Level string

const (
	LevelUnset  Level = ""
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

var Levels = []Level{LevelLow, LevelMedium, LevelHigh}

func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

func ParseLevel(value string) (Level, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return LevelUnset, nil
	}
	for _, level := range Levels {
		if strings.EqualFold(trimmed, string(level)) {
			return level, nil
		}
	}
	return LevelUnset, fmt.Errorf("invalid level %q (want Low, Medium or High)", value)
}

const DateLayout = "2006-01-02"

type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    Level  `json:"priority"`
	Complexity  Level  `json:"complexity"`
	DueDate     string `json:"due_date"`
	Completed   bool   `json:"completed"`
	IsOverdue   bool   `json:"is_overdue"`
}

// Saved reports whether the server has assigned the task an id.
func (t Task) Saved() bool {
	return t.ID != 0
}

type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    Level  `json:"priority"`
	Complexity  Level  `json:"complexity"`
	DueDate     string `json:"due_date"`
	Completed   *bool  `json:"completed,omitempty"`
}

func InputFromTask(task Task) TaskInput {
	return TaskInput{
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
		Complexity:  task.Complexity,
		DueDate:     task.DueDate,
	}
}

// Criteria narrows the remote task list. Zero values mean the filter is not applied.
type Criteria struct {
	Overdue    bool  `json:"overdue,omitempty"`
	Priority   Level `json:"urgency,omitempty"`
	Complexity Level `json:"complexity,omitempty"`
	Page       int   `json:"page,omitempty"`
}

func (c Criteria) IsZero() bool {
	return c == Criteria{}
}

func (c Criteria) Validate() error {
	if c.Priority != LevelUnset && !c.Priority.Valid() {
		return fmt.Errorf("invalid urgency %q", c.Priority)
	}
	if c.Complexity != LevelUnset && !c.Complexity.Valid() {
		return fmt.Errorf("invalid complexity %q", c.Complexity)
	}
	if c.Page < 0 {
		return fmt.Errorf("invalid page %d", c.Page)
	}
	return nil
}

type PageInfo struct {
	TotalPages  int  `json:"total_pages"`
	CurrentPage int  `json:"current_page"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

type TaskPage struct {
	Tasks []Task
	Page  PageInfo
}
