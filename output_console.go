package logprep

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// ConsoleOutput writes events as JSON lines to a writer, one event per
// line. Safe for concurrent use.
type ConsoleOutput struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ Output = &ConsoleOutput{}

// NewConsoleOutput creates a console output. A nil writer defaults to
// stdout.
func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleOutput{enc: json.NewEncoder(w)}
}

// Store writes one event as a JSON line.
func (o *ConsoleOutput) Store(event Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(event); err != nil {
		return WrapError(ErrConnector, "", "encoding event", err)
	}
	return nil
}

// Close implements Output; there is nothing to flush.
func (o *ConsoleOutput) Close() error { return nil }
