package logprep

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// JSONLInputOption configures a JSONLInput.
type JSONLInputOption func(*JSONLInput)

// WithJSONLLogger sets the logger malformed lines are reported on.
func WithJSONLLogger(logger *slog.Logger) JSONLInputOption {
	return func(p *JSONLInput) {
		p.logger = logger
	}
}

// JSONLInput reads events from a file holding one JSON document per
// line. The input is exhausted after a single pass; blank lines are
// skipped and malformed lines are logged and dropped.
type JSONLInput struct {
	path   string
	logger *slog.Logger

	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Input = &JSONLInput{}

// NewJSONLInput creates an input reading from the given file path.
func NewJSONLInput(path string, opts ...JSONLInputOption) *JSONLInput {
	p := &JSONLInput{
		path:   path,
		logger: slog.Default(),
		events: make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start opens the file and begins reading in the background.
func (p *JSONLInput) Start(ctx context.Context) error {
	file, err := os.Open(p.path)
	if err != nil {
		return WrapError(ErrConnector, "", "opening event file", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.readLoop(ctx, file)
	return nil
}

// Events returns the channel events are delivered on.
func (p *JSONLInput) Events() <-chan Event { return p.events }

// Stop aborts reading and waits for the reader to finish.
func (p *JSONLInput) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *JSONLInput) readLoop(ctx context.Context, file *os.File) {
	defer p.wg.Done()
	defer close(p.events)
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			p.logger.Warn("skipping malformed event", "file", p.path, "line", line, "error", err)
			continue
		}

		select {
		case p.events <- event:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Error("reading event file", "file", p.path, "error", err)
	}
}
