package filter

import (
	"net/url"
	"testing"

	"github.com/Joseda-hg/tasksync/internal/model"
)

func TestApplyEmptyCriteriaProducesEmptyQuery(t *testing.T) {
	query := Apply(model.Criteria{})
	if len(query) != 0 {
		t.Fatalf("expected empty query, got %v", query)
	}
	if encoded := query.Encode(); encoded != "" {
		t.Fatalf("expected empty encoding, got %q", encoded)
	}
}

func TestApplyOmitsFalseOverdue(t *testing.T) {
	query := Apply(model.Criteria{Overdue: false, Complexity: model.LevelLow})
	if _, ok := query[KeyOverdue]; ok {
		t.Fatalf("expected overdue key absent, got %v", query)
	}
	if query.Get(KeyComplexity) != "Low" {
		t.Fatalf("expected complexity=Low, got %v", query)
	}
}

func TestApplyIncludesOnlySetFields(t *testing.T) {
	cases := []struct {
		name     string
		criteria model.Criteria
		want     url.Values
	}{
		{
			name:     "overdue only",
			criteria: model.Criteria{Overdue: true},
			want:     url.Values{KeyOverdue: {"true"}},
		},
		{
			name:     "urgency uses priority",
			criteria: model.Criteria{Priority: model.LevelHigh},
			want:     url.Values{KeyUrgency: {"High"}},
		},
		{
			name:     "all fields",
			criteria: model.Criteria{Overdue: true, Priority: model.LevelLow, Complexity: model.LevelHigh, Page: 2},
			want:     url.Values{KeyOverdue: {"true"}, KeyUrgency: {"Low"}, KeyComplexity: {"High"}, KeyPage: {"2"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Apply(tc.criteria)
			if got.Encode() != tc.want.Encode() {
				t.Fatalf("expected %q, got %q", tc.want.Encode(), got.Encode())
			}
		})
	}
}

func TestFromQueryParsesCriteria(t *testing.T) {
	values := url.Values{KeyOverdue: {"true"}, KeyUrgency: {"high"}, KeyPage: {"3"}}
	c, err := FromQuery(values)
	if err != nil {
		t.Fatalf("from query: %v", err)
	}
	want := model.Criteria{Overdue: true, Priority: model.LevelHigh, Page: 3}
	if c != want {
		t.Fatalf("expected %+v, got %+v", want, c)
	}

	if _, err := FromQuery(url.Values{KeyComplexity: {"Huge"}}); err == nil {
		t.Fatalf("expected error for invalid complexity")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(model.Criteria{}); got != "any" {
		t.Fatalf("expected 'any', got %q", got)
	}
	if got := Describe(model.Criteria{Overdue: true, Priority: model.LevelHigh}); got != "overdue urgency=High" {
		t.Fatalf("unexpected description %q", got)
	}
}
