package logprep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T, loc *time.Location, rules ...*DatetimeExtractorRule) *DatetimeExtractor {
	t.Helper()
	p := NewDatetimeExtractor("test-datetime-extractor", DatetimeConfig{Location: loc})
	p.AddRules(rules...)
	return p
}

func extractorRule() *DatetimeExtractorRule {
	return &DatetimeExtractorRule{
		Meta:             RuleMeta{Filter: "*"},
		DatetimeField:    "@timestamp",
		DestinationField: "split_ts",
	}
}

func TestDatetimeExtractorSplitsTimestamp(t *testing.T) {
	berlinSummer := time.FixedZone("CEST", 2*60*60)
	p := newTestExtractor(t, berlinSummer, extractorRule())

	event := Event{"@timestamp": "2019-07-30T14:37:42.861Z"}
	require.NoError(t, p.Process(event))

	assert.Equal(t, map[string]any{
		"year":        2019,
		"month":       7,
		"day":         30,
		"hour":        16,
		"minute":      37,
		"second":      42,
		"microsecond": 861000,
		"weekday":     "Tuesday",
		"timezone":    "UTC+02:00",
	}, event["split_ts"])
	assert.Equal(t, uint64(1), p.Stats().Matches)
}

func TestDatetimeExtractorNaiveTimestampUsesConfiguredZone(t *testing.T) {
	p := newTestExtractor(t, time.FixedZone("CEST", 2*60*60), extractorRule())

	event := Event{"@timestamp": "2019-07-30 14:37:42"}
	require.NoError(t, p.Process(event))

	split, ok := event["split_ts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 14, split["hour"])
	assert.Equal(t, "Tuesday", split["weekday"])
}

func TestDatetimeExtractorDottedFields(t *testing.T) {
	rule := &DatetimeExtractorRule{
		Meta:             RuleMeta{Filter: "*"},
		DatetimeField:    "winlog.timestamp",
		DestinationField: "winlog.split",
	}
	p := newTestExtractor(t, time.UTC, rule)

	event := Event{"winlog": map[string]any{"timestamp": "2019-07-30T14:37:42Z"}}
	require.NoError(t, p.Process(event))

	winlog := event["winlog"].(map[string]any)
	split, ok := winlog["split"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 14, split["hour"])
	assert.Equal(t, "UTC", split["timezone"])
}

func TestDatetimeExtractorKeepsExistingDestination(t *testing.T) {
	p := newTestExtractor(t, time.UTC, extractorRule())

	event := Event{
		"@timestamp": "2019-07-30T14:37:42Z",
		"split_ts":   "already here",
	}
	require.NoError(t, p.Process(event))

	assert.Equal(t, "already here", event["split_ts"])
	assert.Equal(t, uint64(0), p.Stats().Matches)
}

func TestDatetimeExtractorMissingSourceIsSkipped(t *testing.T) {
	p := newTestExtractor(t, time.UTC, extractorRule())

	event := Event{"message": "no timestamp here"}
	require.NoError(t, p.Process(event))

	_, ok := event["split_ts"]
	assert.False(t, ok)
}

func TestDatetimeExtractorUnparsableTimestampFails(t *testing.T) {
	p := newTestExtractor(t, time.UTC, extractorRule())

	event := Event{"@timestamp": "!!!"}
	err := p.Process(event)

	require.Error(t, err)
	assert.Equal(t, uint64(1), p.Stats().Errors)
	_, ok := event["split_ts"]
	assert.False(t, ok)
}

func TestTimezoneName(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		want   string
	}{
		{name: "utc", offset: 0, want: "UTC"},
		{name: "positive full hours", offset: 2 * 60 * 60, want: "UTC+02:00"},
		{name: "positive with minutes", offset: 5*60*60 + 30*60, want: "UTC+05:30"},
		{name: "negative", offset: -(3*60*60 + 30*60), want: "UTC-03:30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := time.Date(2019, 7, 30, 12, 0, 0, 0, time.FixedZone("test", tt.offset))
			assert.Equal(t, tt.want, timezoneName(at))
		})
	}
}

func TestDatetimeExtractorLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "timestamps.yml", `
filter: 'winlog.event_id: 123'
datetime_extractor:
  datetime_field: '@timestamp'
  destination_field: split_ts
description: split the ingest timestamp
`)

	p := NewDatetimeExtractor("test-datetime-extractor", DatetimeConfig{Location: time.UTC})
	require.NoError(t, p.LoadRules(path))
	require.Len(t, p.Rules(), 1)

	rule := p.Rules()[0]
	assert.Equal(t, "winlog.event_id: 123", rule.Meta.Filter)
	assert.Equal(t, "@timestamp", rule.DatetimeField)
	assert.Equal(t, "timestamps", rule.Meta.FileIdentity)

	event := Event{"@timestamp": "2019-07-30T14:37:42Z"}
	require.NoError(t, p.Process(event))
	split := event["split_ts"].(map[string]any)
	assert.Equal(t, 2019, split["year"])
}

func TestDatetimeExtractorRejectsIncompleteRule(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "broken.yml", `
filter: '*'
datetime_extractor:
  datetime_field: '@timestamp'
`)

	p := NewDatetimeExtractor("test-datetime-extractor", DatetimeConfig{})
	err := p.LoadRules(path)

	require.Error(t, err)
	assert.True(t, IsRuleDefinition(err))
}
