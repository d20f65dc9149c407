package logprep

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeListFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// comparisonFixtures builds two list files and the rules the original
// test data pairs them with: a single-list check on "user" and a
// two-list check on "system".
func comparisonFixtures(t *testing.T) (string, *ListComparisonRule, *ListComparisonRule) {
	t.Helper()
	dir := t.TempDir()
	writeListFile(t, dir, "user_list.txt", "# monitored users", "Franz")
	writeListFile(t, dir, "system_list.txt", "Alpha", "Franz")

	userRule := &ListComparisonRule{
		Meta:          RuleMeta{Filter: "user"},
		CheckField:    "user",
		OutputField:   "user_results",
		ListFilePaths: StringList{"user_list.txt"},
	}
	bothRule := &ListComparisonRule{
		Meta:          RuleMeta{Filter: "system"},
		CheckField:    "system",
		OutputField:   "user_and_system_results",
		ListFilePaths: StringList{"user_list.txt", "system_list.txt"},
	}
	return dir, userRule, bothRule
}

func newTestComparison(t *testing.T, base string, rules ...*ListComparisonRule) *ListComparison {
	t.Helper()
	p := NewListComparison("test-list-comparison", ListComparisonConfig{ListSearchBasePath: base})
	require.NoError(t, p.AddRules(rules...))
	return p
}

func TestListComparisonMembership(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		wantUser any
		wantBoth any
	}{
		{
			name:     "element in list",
			event:    Event{"user": "Franz"},
			wantUser: map[string]any{"in_list": []any{"user_list.txt"}},
		},
		{
			name:     "element not in list",
			event:    Event{"user": "Charlotte"},
			wantUser: map[string]any{"not_in_list": []any{"user_list.txt"}},
		},
		{
			name:     "element in two lists",
			event:    Event{"user": "Mark", "system": "Franz"},
			wantUser: map[string]any{"not_in_list": []any{"user_list.txt"}},
			wantBoth: map[string]any{"in_list": []any{"user_list.txt", "system_list.txt"}},
		},
		{
			name:     "element in neither list",
			event:    Event{"user": "Mark", "system": "Gamma"},
			wantUser: map[string]any{"not_in_list": []any{"user_list.txt"}},
			wantBoth: map[string]any{"not_in_list": []any{"user_list.txt", "system_list.txt"}},
		},
		{
			name:     "one of two lists matched",
			event:    Event{"user": "Charlotte", "system": "Alpha"},
			wantUser: map[string]any{"not_in_list": []any{"user_list.txt"}},
			wantBoth: map[string]any{"in_list": []any{"system_list.txt"}},
		},
		{
			name:  "check fields missing",
			event: Event{"message": "nothing to check"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, userRule, bothRule := comparisonFixtures(t)
			p := newTestComparison(t, dir, userRule, bothRule)

			require.NoError(t, p.Process(tt.event))

			assert.Equal(t, tt.wantUser, tt.event["user_results"])
			assert.Equal(t, tt.wantBoth, tt.event["user_and_system_results"])
		})
	}
}

func TestListComparisonCommentLinesAreIgnored(t *testing.T) {
	dir, userRule, _ := comparisonFixtures(t)
	p := newTestComparison(t, dir, userRule)

	event := Event{"user": "# monitored users"}
	require.NoError(t, p.Process(event))

	assert.Equal(t, map[string]any{"not_in_list": []any{"user_list.txt"}}, event["user_results"])
}

func TestListComparisonDottedFields(t *testing.T) {
	dir := t.TempDir()
	writeListFile(t, dir, "channel_list.txt", "slow")
	rule := &ListComparisonRule{
		Meta:          RuleMeta{Filter: "channel.type"},
		CheckField:    "channel.type",
		OutputField:   "dotted.channel_results",
		ListFilePaths: StringList{"channel_list.txt"},
	}
	p := newTestComparison(t, dir, rule)

	event := Event{"channel": map[string]any{"type": "fast"}}
	require.NoError(t, p.Process(event))

	dotted := event["dotted"].(map[string]any)
	assert.Equal(t, map[string]any{"not_in_list": []any{"channel_list.txt"}}, dotted["channel_results"])
}

func TestListComparisonExtendsExistingOutputList(t *testing.T) {
	dir, userRule, _ := comparisonFixtures(t)
	userRule.OutputField = "dotted.user_results"
	p := newTestComparison(t, dir, userRule)

	event := Event{
		"user":   "Franz",
		"dotted": map[string]any{"user_results": map[string]any{"in_list": []any{"already_present"}}},
	}
	require.NoError(t, p.Process(event))

	results := event["dotted"].(map[string]any)["user_results"].(map[string]any)
	assert.Equal(t, []any{"already_present", "user_list.txt"}, results["in_list"])
}

func TestListComparisonConflicts(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "output root is a string",
			event: Event{"user": "Franz", "dotted": "not a map"},
		},
		{
			name:  "intermediate output field is a list",
			event: Event{"user": "Franz", "dotted": map[string]any{"user_results": []any{"do not look here"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, userRule, _ := comparisonFixtures(t)
			userRule.OutputField = "dotted.user_results"
			p := newTestComparison(t, dir, userRule)

			err := p.Process(tt.event)

			var dup *DuplicationError
			require.ErrorAs(t, err, &dup)
			assert.Equal(t, []string{"dotted.user_results.in_list"}, dup.Fields)
			assert.Equal(t, uint64(1), p.Stats().Warnings)
		})
	}
}

func TestListComparisonRuleBasePathOverride(t *testing.T) {
	dir, userRule, _ := comparisonFixtures(t)
	other := t.TempDir()
	writeListFile(t, other, "user_list.txt", "Mark")
	userRule.ListSearchBasePath = other
	p := newTestComparison(t, dir, userRule)

	event := Event{"user": "Mark"}
	require.NoError(t, p.Process(event))

	assert.Equal(t, map[string]any{"in_list": []any{"user_list.txt"}}, event["user_results"])
}

func TestListComparisonMissingListFileFails(t *testing.T) {
	rule := &ListComparisonRule{
		Meta:          RuleMeta{Filter: "user"},
		CheckField:    "user",
		OutputField:   "user_results",
		ListFilePaths: StringList{"i_do_not_exist.txt"},
	}
	p := NewListComparison("test-list-comparison", ListComparisonConfig{ListSearchBasePath: t.TempDir()})

	err := p.AddRules(rule)

	require.Error(t, err)
	assert.True(t, IsRuleDefinition(err))
}

func TestListComparisonLoadRules(t *testing.T) {
	dir, _, _ := comparisonFixtures(t)
	path := writeRuleFile(t, dir, "monitored_users.yml", `
filter: user
list_comparison:
  check_field: user
  output_field: user_results
  list_file_paths:
    - user_list.txt
description: flag monitored users
`)

	p := NewListComparison("test-list-comparison", ListComparisonConfig{ListSearchBasePath: dir})
	require.NoError(t, p.LoadRules(path))
	require.Len(t, p.Rules(), 1)

	rule := p.Rules()[0]
	assert.Equal(t, "user", rule.CheckField)
	assert.Equal(t, []string{"user_list.txt"}, rule.compareNames)

	event := Event{"user": "Franz"}
	require.NoError(t, p.Process(event))
	assert.Equal(t, map[string]any{"in_list": []any{"user_list.txt"}}, event["user_results"])

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, uint64(1), stats.Matches)
}
