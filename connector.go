package logprep

import "context"

// Input is a source of events for a pipeline.
// Implementations own the events channel and close it once no more
// events will be produced.
type Input interface {
	// Start begins producing events. It returns once the input is
	// accepting or reading data; production happens in the background.
	Start(ctx context.Context) error

	// Events returns the channel the input delivers events on. The
	// channel is closed when the input is exhausted or stopped.
	Events() <-chan Event

	// Stop shuts the input down and waits for background work to end.
	Stop() error
}

// Output is a sink for processed events.
type Output interface {
	// Store delivers one event to the sink.
	Store(event Event) error

	// Close flushes and releases the sink.
	Close() error
}
