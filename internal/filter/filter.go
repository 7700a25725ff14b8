// Package filter turns Criteria into the list request's query parameters.
//
// The remote service interprets presence, not value: a key is only emitted
// when its criterion is set.
package filter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Joseda-hg/tasksync/internal/model"
)

const (
	KeyOverdue    = "overdue"
	KeyUrgency    = "urgency"
	KeyComplexity = "complexity"
	KeyPage       = "page"
)

func Apply(c model.Criteria) url.Values {
	query := url.Values{}
	if c.Overdue {
		query.Set(KeyOverdue, "true")
	}
	if value := strings.TrimSpace(string(c.Priority)); value != "" {
		query.Set(KeyUrgency, value)
	}
	if value := strings.TrimSpace(string(c.Complexity)); value != "" {
		query.Set(KeyComplexity, value)
	}
	if c.Page > 0 {
		query.Set(KeyPage, strconv.Itoa(c.Page))
	}
	return query
}

// FromQuery parses criteria back out of request parameters, used by the web view.
func FromQuery(values url.Values) (model.Criteria, error) {
	var c model.Criteria

	if raw := strings.TrimSpace(values.Get(KeyOverdue)); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			return model.Criteria{}, fmt.Errorf("invalid overdue %q", raw)
		}
		c.Overdue = overdue
	}

	priority, err := model.ParseLevel(values.Get(KeyUrgency))
	if err != nil {
		return model.Criteria{}, err
	}
	c.Priority = priority

	complexity, err := model.ParseLevel(values.Get(KeyComplexity))
	if err != nil {
		return model.Criteria{}, err
	}
	c.Complexity = complexity

	if raw := strings.TrimSpace(values.Get(KeyPage)); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 0 {
			return model.Criteria{}, fmt.Errorf("invalid page %q", raw)
		}
		c.Page = page
	}

	return c, nil
}

// Describe renders criteria for display, labelling priority as urgency.
func Describe(c model.Criteria) string {
	parts := []string{}
	if c.Overdue {
		parts = append(parts, "overdue")
	}
	if c.Priority != model.LevelUnset {
		parts = append(parts, "urgency="+string(c.Priority))
	}
	if c.Complexity != model.LevelUnset {
		parts = append(parts, "complexity="+string(c.Complexity))
	}
	if c.Page > 0 {
		parts = append(parts, "page="+strconv.Itoa(c.Page))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}
