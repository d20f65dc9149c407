package logprep

import "log/slog"

// Event is one structured log record, a nested string-keyed document
// mutated in place by processors.
type Event = map[string]any

// Matcher decides whether a rule applies to an event. The rule's filter
// string is carried verbatim from the rule file; interpreting it is the
// caller's concern. The default matcher admits every event.
type Matcher func(filter string, event Event) bool

// MatchAll admits every event regardless of the rule's filter.
func MatchAll(string, Event) bool { return true }

// Processor applies its loaded rules to one event at a time. Processors
// are not safe for concurrent use; each pipeline worker owns its own
// instances.
type Processor interface {
	// Name returns the configured instance name.
	Name() string
	// Type returns the processor type, e.g. "generic_resolver".
	Type() string
	// Process mutates the event in place. A *DuplicationError reports
	// blocked writes and leaves all other mutations of this call in
	// place; any other error aborted the event.
	Process(event Event) error
	// Stats returns a point-in-time snapshot of the processing counters.
	Stats() StatsSnapshot
}

// ProcessorOption configures the shared behavior of a processor.
type ProcessorOption func(*processorCore)

// WithLogger sets the logger. Defaults to slog.Default. The processor
// name is attached as the "processor" attribute.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(c *processorCore) {
		c.logger = logger
	}
}

// WithMatcher sets the rule matcher. Defaults to MatchAll.
func WithMatcher(matcher Matcher) ProcessorOption {
	return func(c *processorCore) {
		c.matcher = matcher
	}
}

// processorCore carries the state every processor shares: identity,
// scoped logger, rule matcher and counters.
type processorCore struct {
	name    string
	ptype   string
	logger  *slog.Logger
	matcher Matcher
	stats   Stats
}

func newProcessorCore(name, ptype string, opts []ProcessorOption) processorCore {
	c := processorCore{
		name:    name,
		ptype:   ptype,
		matcher: MatchAll,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("processor", name)
	return c
}

func (c *processorCore) Name() string { return c.name }

func (c *processorCore) Type() string { return c.ptype }

func (c *processorCore) Stats() StatsSnapshot {
	return c.stats.Snapshot(c.name, c.ptype)
}

func (c *processorCore) matches(filter string, event Event) bool {
	return c.matcher(filter, event)
}
