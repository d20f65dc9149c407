package logprep

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleOutputWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	o := NewConsoleOutput(&buf)

	require.NoError(t, o.Store(Event{"message": "one"}))
	require.NoError(t, o.Store(Event{"message": "two", "winlog": map[string]any{"event_id": 4624}}))
	require.NoError(t, o.Close())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first, second Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "one", first["message"])
	assert.Equal(t, "two", second["message"])
}

func TestConsoleOutputUnencodableEvent(t *testing.T) {
	o := NewConsoleOutput(&bytes.Buffer{})

	err := o.Store(Event{"bad": func() {}})

	require.Error(t, err)
	assert.True(t, IsConnector(err))
}
