package logprep

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	collogsv1 "go.opentelemetry.io/proto/otlp/collector/logs/v1"

	"github.com/ekneg54/Logprep/internal/ratelimit"
)

// OTLPLogsPath is the OTLP/HTTP log export endpoint every HTTP input
// serves next to its line-delimited ingest path.
const OTLPLogsPath = "/v1/logs"

// maxExportBytes caps the body of a single OTLP/HTTP export request.
const maxExportBytes = 4 << 20

// HTTPInputConfig configures an HTTP input.
type HTTPInputConfig struct {
	// Listen is the address the HTTP server binds to (required).
	Listen string
	// Path is the endpoint newline-delimited events are posted to.
	// Default is "/events". OTLPLogsPath is reserved for the OTLP
	// export endpoint.
	Path string
	// QueueSize is the capacity of the events channel.
	// Default is 256.
	QueueSize int
	// EventsPerSecond caps ingestion; exceeding requests get 429.
	// Default is 0, which disables the limit.
	EventsPerSecond uint32
}

// HTTPInputOption configures an HTTPInput.
type HTTPInputOption func(*HTTPInputConfig)

// WithHTTPPath sets the ingest endpoint path.
func WithHTTPPath(path string) HTTPInputOption {
	return func(c *HTTPInputConfig) {
		c.Path = path
	}
}

// WithHTTPQueueSize sets the events channel capacity.
func WithHTTPQueueSize(n int) HTTPInputOption {
	return func(c *HTTPInputConfig) {
		c.QueueSize = n
	}
}

// WithHTTPRateLimit caps admitted events per second.
func WithHTTPRateLimit(eventsPerSecond uint32) HTTPInputOption {
	return func(c *HTTPInputConfig) {
		c.EventsPerSecond = eventsPerSecond
	}
}

// HTTPInput receives events via HTTP POST on two endpoints. The
// configured path takes newline-delimited JSON, one event per line; a
// malformed line aborts the request with 400, lines before it have
// already been admitted. OTLPLogsPath takes OTLP/HTTP log exports in
// protobuf or JSON encoding and flattens every log record the same way
// the gRPC input does.
type HTTPInput struct {
	config  HTTPInputConfig
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	events   chan Event
	server   *http.Server
	listener net.Listener

	stop sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

var _ Input = &HTTPInput{}

// NewHTTPInput creates an HTTP input listening on the given address.
func NewHTTPInput(listen string, opts ...HTTPInputOption) *HTTPInput {
	config := HTTPInputConfig{
		Listen:    listen,
		Path:      "/events",
		QueueSize: 256,
	}
	for _, opt := range opts {
		opt(&config)
	}

	p := &HTTPInput{
		config: config,
		logger: slog.Default(),
		events: make(chan Event, config.QueueSize),
		done:   make(chan struct{}),
	}
	if config.EventsPerSecond > 0 {
		p.limiter = ratelimit.PerSecond(config.EventsPerSecond)
	}
	return p
}

// Start binds the listener and serves in the background.
func (p *HTTPInput) Start(ctx context.Context) error {
	if p.config.Path == OTLPLogsPath {
		return NewError(ErrConnector, "", fmt.Sprintf("path %s is reserved for the otlp endpoint", OTLPLogsPath))
	}

	lis, err := net.Listen("tcp", p.config.Listen)
	if err != nil {
		return WrapError(ErrConnector, "", "listening for http", err)
	}
	p.listener = lis

	mux := http.NewServeMux()
	mux.HandleFunc(p.config.Path, p.handleEvents)
	mux.HandleFunc(OTLPLogsPath, p.handleExport)
	p.server = &http.Server{Handler: mux}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("http server stopped", "error", err)
		}
	}()

	p.logger.Info("http input listening", "address", lis.Addr().String(), "path", p.config.Path)
	return nil
}

// Addr returns the bound listen address, useful when Listen carried
// port 0.
func (p *HTTPInput) Addr() string {
	if p.listener == nil {
		return p.config.Listen
	}
	return p.listener.Addr().String()
}

// Events returns the channel events are delivered on.
func (p *HTTPInput) Events() <-chan Event { return p.events }

// Stop unblocks in-flight requests, shuts the server down and closes
// the events channel.
func (p *HTTPInput) Stop() error {
	p.stop.Do(func() {
		close(p.done)
		if p.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.server.Shutdown(shutdownCtx); err != nil {
				p.logger.Error("http shutdown", "error", err)
			}
		}
		p.wg.Wait()
		close(p.events)
	})
	return nil
}

func (p *HTTPInput) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	accepted := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		if p.limiter != nil && !p.limiter.Allow() {
			http.Error(w, "event rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			http.Error(w, fmt.Sprintf("malformed event on line %d: %v", line, err), http.StatusBadRequest)
			return
		}

		select {
		case p.events <- event:
			accepted++
		case <-p.done:
			http.Error(w, "input stopped", http.StatusServiceUnavailable)
			return
		case <-r.Context().Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		http.Error(w, "reading request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "%d\n", accepted)
}

// handleExport serves OTLP/HTTP log exports. The encoding follows the
// request's Content-Type, protobuf or JSON, and the response mirrors
// it. Records the rate limiter rejects are dropped and reported in the
// response's partial success.
func (p *HTTPInput) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType != "application/x-protobuf" && contentType != "application/json" {
		http.Error(w, fmt.Sprintf("unsupported content type %q", contentType), http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxExportBytes))
	if err != nil {
		http.Error(w, "reading request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req := &collogsv1.ExportLogsServiceRequest{}
	if contentType == "application/json" {
		err = protojson.Unmarshal(body, req)
	} else {
		err = proto.Unmarshal(body, req)
	}
	if err != nil {
		http.Error(w, "decoding export request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var rejected int64
	for _, resourceLogs := range req.GetResourceLogs() {
		resource := resourceLogs.GetResource()
		for _, scopeLogs := range resourceLogs.GetScopeLogs() {
			scope := scopeLogs.GetScope()
			for _, record := range scopeLogs.GetLogRecords() {
				if p.limiter != nil && !p.limiter.Allow() {
					rejected++
					continue
				}
				event := flattenLogRecord(resource, scope, record)
				select {
				case p.events <- event:
				case <-p.done:
					http.Error(w, "input stopped", http.StatusServiceUnavailable)
					return
				case <-r.Context().Done():
					return
				}
			}
		}
	}

	resp := &collogsv1.ExportLogsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collogsv1.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
			ErrorMessage:       "event rate limit exceeded",
		}
	}

	var out []byte
	if contentType == "application/json" {
		out, err = protojson.Marshal(resp)
	} else {
		out, err = proto.Marshal(resp)
	}
	if err != nil {
		http.Error(w, "encoding export response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(out)
}
