package logprep

import (
	"context"
	"log/slog"

	"github.com/ekneg54/Logprep/internal/dotted"
)

// TagProcessingError is appended to an event's "tags" list when a
// processor aborted the event. The event is still delivered.
const TagProcessingError = "_processing_error"

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger. Defaults to slog.Default.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithPipelineMetrics serves processor metrics on the given address
// while the pipeline runs.
func WithPipelineMetrics(listen string) PipelineOption {
	return func(p *Pipeline) {
		p.metricsListen = listen
	}
}

// Pipeline moves events from an input through an ordered chain of
// processors into an output.
//
// A *DuplicationError is a per-event warning: it is logged and the
// remaining processors still run. Any other processor error aborts the
// event's chain; the event is tagged and delivered as far as it got.
type Pipeline struct {
	input      Input
	processors []Processor
	output     Output
	logger     *slog.Logger

	metricsListen string
	metrics       *MetricsServer
}

// NewPipeline wires input, processors and output together. Processors
// run in the given order.
func NewPipeline(input Input, processors []Processor, output Output, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		input:      input,
		processors: processors,
		output:     output,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run starts the input and consumes events until the context is
// canceled or the input is exhausted. On cancellation the input is
// stopped and events it already admitted are still processed. The
// returned error is ctx.Err() after a cancellation, nil after an
// exhausted input.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.input.Start(ctx); err != nil {
		return err
	}
	if p.metricsListen != "" {
		p.metrics = NewMetricsServer(p.metricsListen, NewStatsCollector(p.processors...))
		if err := p.metrics.Start(); err != nil {
			_ = p.input.Stop()
			return err
		}
	}

	events := p.input.Events()
	for {
		select {
		case <-ctx.Done():
			if err := p.input.Stop(); err != nil {
				p.logger.Error("stopping input", "error", err)
			}
			for event := range events {
				p.processEvent(event)
			}
			p.close()
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := p.input.Stop(); err != nil {
					p.logger.Error("stopping input", "error", err)
				}
				p.close()
				return nil
			}
			p.processEvent(event)
		}
	}
}

// Stats returns a snapshot per processor, in pipeline order.
func (p *Pipeline) Stats() []StatsSnapshot {
	snapshots := make([]StatsSnapshot, len(p.processors))
	for i, proc := range p.processors {
		snapshots[i] = proc.Stats()
	}
	return snapshots
}

func (p *Pipeline) processEvent(event Event) {
	for _, proc := range p.processors {
		err := proc.Process(event)
		if err == nil {
			continue
		}
		if IsDuplication(err) {
			p.logger.Warn("fields kept their existing values", "processor", proc.Name(), "error", err)
			continue
		}
		p.logger.Error("processing failed", "processor", proc.Name(), "error", err)
		_ = dotted.Put(event, "tags", TagProcessingError, dotted.ExtendList)
		break
	}

	if err := p.output.Store(event); err != nil {
		p.logger.Error("storing event failed", "error", err)
	}
}

func (p *Pipeline) close() {
	for _, proc := range p.processors {
		if closer, ok := proc.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				p.logger.Error("closing processor", "processor", proc.Name(), "error", err)
			}
		}
	}
	if err := p.output.Close(); err != nil {
		p.logger.Error("closing output", "error", err)
	}
	if p.metrics != nil {
		if err := p.metrics.Stop(); err != nil {
			p.logger.Error("stopping metrics server", "error", err)
		}
	}
}
