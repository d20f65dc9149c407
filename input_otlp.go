package logprep

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	collogsv1 "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	logsv1 "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcev1 "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/ekneg54/Logprep/internal/dotted"
)

// OTLPInputConfig configures an OTLP gRPC input.
type OTLPInputConfig struct {
	// Listen is the address the gRPC server binds to (required).
	Listen string
	// QueueSize is the capacity of the events channel.
	// Default is 256.
	QueueSize int
	// ServerOptions are additional gRPC server options.
	ServerOptions []grpc.ServerOption
}

// OTLPInputOption configures an OTLPInput.
type OTLPInputOption func(*OTLPInputConfig)

// WithOTLPQueueSize sets the events channel capacity.
func WithOTLPQueueSize(n int) OTLPInputOption {
	return func(c *OTLPInputConfig) {
		c.QueueSize = n
	}
}

// WithOTLPServerOptions sets additional gRPC server options.
func WithOTLPServerOptions(opts ...grpc.ServerOption) OTLPInputOption {
	return func(c *OTLPInputConfig) {
		c.ServerOptions = append(c.ServerOptions, opts...)
	}
}

// OTLPInput receives events over the OTLP logs gRPC service. Each log
// record is flattened into one event: the body becomes "message",
// record attributes land at the event root, resource and scope
// attributes beneath "resource" and "scope", severity beneath "log",
// and trace identity beneath "trace.id" and "span.id".
type OTLPInput struct {
	collogsv1.UnimplementedLogsServiceServer

	config OTLPInputConfig
	logger *slog.Logger

	events   chan Event
	server   *grpc.Server
	listener net.Listener

	stop sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

var _ Input = &OTLPInput{}

// NewOTLPInput creates an OTLP gRPC input listening on the given
// address.
func NewOTLPInput(listen string, opts ...OTLPInputOption) *OTLPInput {
	config := OTLPInputConfig{
		Listen:    listen,
		QueueSize: 256,
	}
	for _, opt := range opts {
		opt(&config)
	}

	return &OTLPInput{
		config: config,
		logger: slog.Default(),
		events: make(chan Event, config.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.
func (p *OTLPInput) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", p.config.Listen)
	if err != nil {
		return WrapError(ErrConnector, "", "listening for otlp", err)
	}
	p.listener = lis

	p.server = grpc.NewServer(p.config.ServerOptions...)
	collogsv1.RegisterLogsServiceServer(p.server, p)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			p.logger.Error("otlp server stopped", "error", err)
		}
	}()

	p.logger.Info("otlp input listening", "address", lis.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when Listen carried
// port 0.
func (p *OTLPInput) Addr() string {
	if p.listener == nil {
		return p.config.Listen
	}
	return p.listener.Addr().String()
}

// Events returns the channel events are delivered on.
func (p *OTLPInput) Events() <-chan Event { return p.events }

// Stop unblocks in-flight exports, drains the server and closes the
// events channel.
func (p *OTLPInput) Stop() error {
	p.stop.Do(func() {
		close(p.done)
		if p.server != nil {
			p.server.GracefulStop()
		}
		p.wg.Wait()
		close(p.events)
	})
	return nil
}

// Export implements the OTLP logs service.
func (p *OTLPInput) Export(ctx context.Context, req *collogsv1.ExportLogsServiceRequest) (*collogsv1.ExportLogsServiceResponse, error) {
	for _, resourceLogs := range req.GetResourceLogs() {
		resource := resourceLogs.GetResource()
		for _, scopeLogs := range resourceLogs.GetScopeLogs() {
			scope := scopeLogs.GetScope()
			for _, record := range scopeLogs.GetLogRecords() {
				event := flattenLogRecord(resource, scope, record)
				select {
				case p.events <- event:
				case <-p.done:
					return nil, status.Error(codes.Unavailable, "input stopped")
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}
	return &collogsv1.ExportLogsServiceResponse{}, nil
}

func flattenLogRecord(resource *resourcev1.Resource, scope *commonv1.InstrumentationScope, record *logsv1.LogRecord) Event {
	event := Event{}

	if body := anyValueToNative(record.GetBody()); body != nil {
		event["message"] = body
	}

	ts := record.GetTimeUnixNano()
	if ts == 0 {
		ts = record.GetObservedTimeUnixNano()
	}
	if ts > 0 {
		event["@timestamp"] = time.Unix(0, int64(ts)).UTC().Format(time.RFC3339Nano)
	}

	if text := record.GetSeverityText(); text != "" {
		putEventField(event, "log.level", text)
	}
	if number := record.GetSeverityNumber(); number != 0 {
		putEventField(event, "log.severity", int(number))
	}

	for _, attr := range record.GetAttributes() {
		putEventField(event, attr.GetKey(), anyValueToNative(attr.GetValue()))
	}
	for _, attr := range resource.GetAttributes() {
		putEventField(event, "resource."+attr.GetKey(), anyValueToNative(attr.GetValue()))
	}
	if name := scope.GetName(); name != "" {
		putEventField(event, "scope.name", name)
	}
	if version := scope.GetVersion(); version != "" {
		putEventField(event, "scope.version", version)
	}

	if id := record.GetTraceId(); len(id) > 0 {
		putEventField(event, "trace.id", hex.EncodeToString(id))
	}
	if id := record.GetSpanId(); len(id) > 0 {
		putEventField(event, "span.id", hex.EncodeToString(id))
	}

	return event
}

// putEventField expands dotted attribute keys into nested maps so rules
// can address them. An attribute whose key collides with a scalar
// written earlier is dropped.
func putEventField(event Event, path string, value any) {
	_ = dotted.Put(event, path, value, dotted.Overwrite)
}

func anyValueToNative(value *commonv1.AnyValue) any {
	switch v := value.GetValue().(type) {
	case *commonv1.AnyValue_StringValue:
		return v.StringValue
	case *commonv1.AnyValue_BoolValue:
		return v.BoolValue
	case *commonv1.AnyValue_IntValue:
		return v.IntValue
	case *commonv1.AnyValue_DoubleValue:
		return v.DoubleValue
	case *commonv1.AnyValue_BytesValue:
		return base64.StdEncoding.EncodeToString(v.BytesValue)
	case *commonv1.AnyValue_ArrayValue:
		values := v.ArrayValue.GetValues()
		out := make([]any, 0, len(values))
		for _, element := range values {
			out = append(out, anyValueToNative(element))
		}
		return out
	case *commonv1.AnyValue_KvlistValue:
		values := v.KvlistValue.GetValues()
		out := make(map[string]any, len(values))
		for _, kv := range values {
			out[kv.GetKey()] = anyValueToNative(kv.GetValue())
		}
		return out
	default:
		return nil
	}
}
