package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Joseda-hg/tasksync/internal/model"
)

func formatTaskSummary(task model.Task, now time.Time) string {
	check := "[ ]"
	if task.Completed {
		check = "[x]"
	}
	parts := []string{
		fmt.Sprintf("%s %s", check, task.Title),
		"u:" + levelLabel(task.Priority),
		"c:" + levelLabel(task.Complexity),
	}
	if task.DueDate != "" {
		parts = append(parts, formatDue(task.DueDate, now))
	}
	line := strings.Join(parts, " | ")
	if task.IsOverdue {
		line += " !"
	}
	return line
}

// formatDue renders a due date with a relative hint, falling back to the raw
// value when the server sent something unparseable.
func formatDue(due string, now time.Time) string {
	if due == "" {
		return "no due date"
	}
	parsed, err := time.ParseInLocation(model.DateLayout, due, now.Location())
	if err != nil {
		return due
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if parsed.Equal(today) {
		return due + " (today)"
	}
	return fmt.Sprintf("%s (%s)", due, humanize.RelTime(parsed, today, "ago", "from now"))
}

func formatPage(page model.PageInfo) string {
	if page.TotalPages == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", max(page.CurrentPage, 1), page.TotalPages)
}

func levelLabel(level model.Level) string {
	if level == model.LevelUnset {
		return "-"
	}
	return string(level)
}

func describeTask(task model.Task, now time.Time) []string {
	description := strings.TrimSpace(task.Description)
	if description == "" {
		description = "(no description)"
	}
	lines := []string{
		task.Title,
		"",
		description,
		"",
		"Urgency:    " + levelLabel(task.Priority),
		"Complexity: " + levelLabel(task.Complexity),
		"Due:        " + formatDue(task.DueDate, now),
		fmt.Sprintf("Completed:  %t", task.Completed),
	}
	if task.IsOverdue {
		lines = append(lines, "Overdue")
	}
	return lines
}
