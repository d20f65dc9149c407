package logprep

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "events channel closed early")
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestJSONLInputReadsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"message": "one"}

not json
{"message": "two", "winlog": {"event_id": 4624}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := NewJSONLInput(path)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	var got []Event
	for event := range p.Events() {
		got = append(got, event)
	}

	// The blank and malformed lines are skipped.
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0]["message"])
	assert.Equal(t, "two", got[1]["message"])
	winlog, ok := got[1]["winlog"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(4624), winlog["event_id"])
}

func TestJSONLInputMissingFile(t *testing.T) {
	p := NewJSONLInput(filepath.Join(t.TempDir(), "absent.jsonl"))

	err := p.Start(context.Background())

	require.Error(t, err)
	assert.True(t, IsConnector(err))
}

func TestJSONLInputStopAbortsReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	file, err := os.Create(path)
	require.NoError(t, err)
	// More events than the channel buffers, so the reader blocks.
	for i := 0; i < 1000; i++ {
		_, err := file.WriteString(`{"n": 1}` + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, file.Close())

	p := NewJSONLInput(path)
	require.NoError(t, p.Start(context.Background()))

	receiveEvent(t, p.Events())
	require.NoError(t, p.Stop())

	// After Stop the channel drains and closes.
	for range p.Events() {
	}
}
