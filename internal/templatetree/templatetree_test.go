package templatetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		cfg     Config
		want    []string
		wantErr bool
	}{
		{
			name: "exact token count",
			key:  "Security-Provider-4624",
			cfg:  Config{Delimiter: "-", FieldCount: 3, AnchorIndex: 1},
			want: []string{"Security", "Provider", "4624"},
		},
		{
			name: "anchor absorbs surplus tokens",
			key:  "Security-Microsoft-Windows-Security-Auditing-4624",
			cfg:  Config{Delimiter: "-", FieldCount: 3, AnchorIndex: 1},
			want: []string{"Security", "Microsoft-Windows-Security-Auditing", "4624"},
		},
		{
			name: "surplus rejoined with dash regardless of delimiter",
			key:  "A|B|C|D",
			cfg:  Config{Delimiter: "|", FieldCount: 3, AnchorIndex: 1},
			want: []string{"A", "B-C", "D"},
		},
		{
			name: "anchor at first position",
			key:  "A-B-C-D",
			cfg:  Config{Delimiter: "-", FieldCount: 3, AnchorIndex: 0},
			want: []string{"A-B", "C", "D"},
		},
		{
			name: "anchor at last position",
			key:  "A-B-C-D",
			cfg:  Config{Delimiter: "-", FieldCount: 3, AnchorIndex: 2},
			want: []string{"A", "B", "C-D"},
		},
		{
			name: "single field takes the whole key",
			key:  "A-B-C",
			cfg:  Config{Delimiter: "-", FieldCount: 1, AnchorIndex: 0},
			want: []string{"A-B-C"},
		},
		{
			name:    "too few tokens",
			key:     "A-B",
			cfg:     Config{Delimiter: "-", FieldCount: 3, AnchorIndex: 1},
			wantErr: true,
		},
		{
			name:    "no delimiter at all",
			key:     "single",
			cfg:     Config{Delimiter: "-", FieldCount: 2, AnchorIndex: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitKey(tt.key, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildAndGet(t *testing.T) {
	mapping := map[string]any{
		"Security-Microsoft-Windows-Security-Auditing-4624": "An account was successfully logged on",
		"Security-Microsoft-Windows-Security-Auditing-4625": "An account failed to log on",
		"System-Service Control Manager-7036":               "Service state change",
	}
	cfg := Config{Delimiter: "-", FieldCount: 3, AnchorIndex: 1}

	tree, err := Build(mapping, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, tree.Depth())

	tests := []struct {
		name       string
		components []string
		wantValue  any
		wantOK     bool
	}{
		{
			name:       "full depth hit",
			components: []string{"Security", "Microsoft-Windows-Security-Auditing", "4624"},
			wantValue:  "An account was successfully logged on",
			wantOK:     true,
		},
		{
			name:       "sibling leaf",
			components: []string{"Security", "Microsoft-Windows-Security-Auditing", "4625"},
			wantValue:  "An account failed to log on",
			wantOK:     true,
		},
		{
			name:       "single token anchor",
			components: []string{"System", "Service Control Manager", "7036"},
			wantValue:  "Service state change",
			wantOK:     true,
		},
		{
			name:       "miss at last level",
			components: []string{"Security", "Microsoft-Windows-Security-Auditing", "9999"},
			wantOK:     false,
		},
		{
			name:       "miss at first level",
			components: []string{"Application", "Microsoft-Windows-Security-Auditing", "4624"},
			wantOK:     false,
		},
		{
			name:       "too few components",
			components: []string{"Security", "Microsoft-Windows-Security-Auditing"},
			wantOK:     false,
		},
		{
			name:       "too many components",
			components: []string{"Security", "Microsoft-Windows-Security-Auditing", "4624", "extra"},
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ok := tree.Get(tt.components)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestBuildRejectsShortKeys(t *testing.T) {
	mapping := map[string]any{"only-two": "value"}
	_, err := Build(mapping, Config{Delimiter: "-", FieldCount: 3, AnchorIndex: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough delimiters")
}

func TestBuildValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "empty delimiter", cfg: Config{Delimiter: "", FieldCount: 2, AnchorIndex: 0}},
		{name: "zero fields", cfg: Config{Delimiter: "-", FieldCount: 0, AnchorIndex: 0}},
		{name: "anchor out of range", cfg: Config{Delimiter: "-", FieldCount: 2, AnchorIndex: 2}},
		{name: "negative anchor", cfg: Config{Delimiter: "-", FieldCount: 2, AnchorIndex: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(map[string]any{}, tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestGetNonStringTemplateValue(t *testing.T) {
	tree, err := Build(map[string]any{"a-b": 17}, Config{Delimiter: "-", FieldCount: 2, AnchorIndex: 0})
	require.NoError(t, err)

	value, ok := tree.Get([]string{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, 17, value)
}
