package tui

import (
	"slices"
	"strings"

	"github.com/Joseda-hg/tasksync/internal/edit"
	"github.com/Joseda-hg/tasksync/internal/model"
)

type formKind int

const (
	formTask formKind = iota
	formFilter
	formLogin
)

// formField is one line of an overlay form. Fields with Choices are cycled
// with space and the arrow keys instead of typed into.
type formField struct {
	Label   string
	Value   string
	Choices []string
	Secret  bool
}

type formState struct {
	kind   formKind
	title  string
	fields []formField
	index  int
}

const (
	taskFieldTitle = iota
	taskFieldDescription
	taskFieldUrgency
	taskFieldComplexity
	taskFieldDue
)

const (
	filterFieldOverdue = iota
	filterFieldUrgency
	filterFieldComplexity
)

const (
	loginFieldUsername = iota
	loginFieldPassword
	loginFieldMode
)

const (
	choiceAny      = "any"
	choiceYes      = "yes"
	modeLogin      = "login"
	modeRegister   = "register"
	labelUrgency   = "Urgency"
	labelDueFormat = "Due (YYYY-MM-DD)"
)

func levelChoices() []string {
	choices := make([]string, 0, len(model.Levels))
	for _, level := range model.Levels {
		choices = append(choices, string(level))
	}
	return choices
}

func buildTaskFields(f edit.Fields) []formField {
	return []formField{
		{Label: "Title", Value: f.Title},
		{Label: "Description", Value: f.Description},
		{Label: labelUrgency, Value: string(f.Priority), Choices: levelChoices()},
		{Label: "Complexity", Value: string(f.Complexity), Choices: levelChoices()},
		{Label: labelDueFormat, Value: f.DueDate},
	}
}

func parseTaskFields(fields []formField) edit.Fields {
	return edit.Fields{
		Title:       fields[taskFieldTitle].Value,
		Description: fields[taskFieldDescription].Value,
		Priority:    model.Level(fields[taskFieldUrgency].Value),
		Complexity:  model.Level(fields[taskFieldComplexity].Value),
		DueDate:     strings.TrimSpace(fields[taskFieldDue].Value),
	}
}

func buildFilterFields(c model.Criteria) []formField {
	overdue := choiceAny
	if c.Overdue {
		overdue = choiceYes
	}
	anyLevel := append([]string{choiceAny}, levelChoices()...)
	return []formField{
		{Label: "Overdue", Value: overdue, Choices: []string{choiceAny, choiceYes}},
		{Label: labelUrgency, Value: levelOrAny(c.Priority), Choices: anyLevel},
		{Label: "Complexity", Value: levelOrAny(c.Complexity), Choices: slices.Clone(anyLevel)},
	}
}

// parseFilterFields builds fresh criteria; the page always starts over.
func parseFilterFields(fields []formField) (model.Criteria, error) {
	c := model.Criteria{Overdue: fields[filterFieldOverdue].Value == choiceYes}

	priority, err := model.ParseLevel(anyToEmpty(fields[filterFieldUrgency].Value))
	if err != nil {
		return model.Criteria{}, err
	}
	complexity, err := model.ParseLevel(anyToEmpty(fields[filterFieldComplexity].Value))
	if err != nil {
		return model.Criteria{}, err
	}
	c.Priority = priority
	c.Complexity = complexity
	return c, nil
}

func buildLoginFields() []formField {
	return []formField{
		{Label: "Username"},
		{Label: "Password", Secret: true},
		{Label: "Mode", Value: modeLogin, Choices: []string{modeLogin, modeRegister}},
	}
}

func levelOrAny(level model.Level) string {
	if level == model.LevelUnset {
		return choiceAny
	}
	return string(level)
}

func anyToEmpty(value string) string {
	if value == choiceAny {
		return ""
	}
	return value
}

func cycleChoice(field *formField, delta int) {
	if len(field.Choices) == 0 {
		return
	}
	index := slices.Index(field.Choices, field.Value)
	if index < 0 {
		field.Value = field.Choices[0]
		return
	}
	next := (index + delta) % len(field.Choices)
	if next < 0 {
		next += len(field.Choices)
	}
	field.Value = field.Choices[next]
}

func (f formField) display() string {
	if f.Secret {
		return strings.Repeat("*", len([]rune(f.Value)))
	}
	if len(f.Choices) > 0 {
		return "< " + f.Value + " >"
	}
	return f.Value
}
