package logprep

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	processedDesc = prometheus.NewDesc(
		"logprep_processor_processed_total",
		"Events handed to the processor.",
		[]string{"processor", "type"}, nil,
	)
	matchesDesc = prometheus.NewDesc(
		"logprep_processor_matches_total",
		"Events at least one rule applied to.",
		[]string{"processor", "type"}, nil,
	)
	warningsDesc = prometheus.NewDesc(
		"logprep_processor_warnings_total",
		"Events that raised a processing warning.",
		[]string{"processor", "type"}, nil,
	)
	errorsDesc = prometheus.NewDesc(
		"logprep_processor_errors_total",
		"Events aborted by a processing error.",
		[]string{"processor", "type"}, nil,
	)
	cacheHitsDesc = prometheus.NewDesc(
		"logprep_processor_cache_hits_total",
		"Resolution cache hits.",
		[]string{"processor", "type"}, nil,
	)
	cacheMissesDesc = prometheus.NewDesc(
		"logprep_processor_cache_misses_total",
		"Resolution cache misses.",
		[]string{"processor", "type"}, nil,
	)
)

// StatsCollector exposes processor counters as Prometheus metrics. It
// snapshots the stats of every registered processor on each scrape.
type StatsCollector struct {
	processors []Processor
}

var _ prometheus.Collector = &StatsCollector{}

// NewStatsCollector creates a collector over the given processors.
func NewStatsCollector(processors ...Processor) *StatsCollector {
	return &StatsCollector{processors: processors}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- processedDesc
	ch <- matchesDesc
	ch <- warningsDesc
	ch <- errorsDesc
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.processors {
		s := p.Stats()
		ch <- prometheus.MustNewConstMetric(processedDesc, prometheus.CounterValue, float64(s.Processed), s.Processor, s.Type)
		ch <- prometheus.MustNewConstMetric(matchesDesc, prometheus.CounterValue, float64(s.Matches), s.Processor, s.Type)
		ch <- prometheus.MustNewConstMetric(warningsDesc, prometheus.CounterValue, float64(s.Warnings), s.Processor, s.Type)
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue, float64(s.Errors), s.Processor, s.Type)
		ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(s.CacheHits), s.Processor, s.Type)
		ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(s.CacheMisses), s.Processor, s.Type)
	}
}

// MetricsServer serves processor metrics on /metrics from its own
// Prometheus registry, alongside Go runtime metrics.
type MetricsServer struct {
	listen   string
	logger   *slog.Logger
	registry *prometheus.Registry

	server   *http.Server
	listener net.Listener
	stop     sync.Once
	wg       sync.WaitGroup
}

// NewMetricsServer creates a metrics server exposing the given
// collector on the listen address.
func NewMetricsServer(listen string, collector prometheus.Collector) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector, collectors.NewGoCollector())

	return &MetricsServer{
		listen:   listen,
		logger:   slog.Default(),
		registry: registry,
	}
}

// Start binds the listener and serves in the background.
func (s *MetricsServer) Start() error {
	lis, err := net.Listen("tcp", s.listen)
	if err != nil {
		return WrapError(ErrConnector, "", "listening for metrics", err)
	}
	s.listener = lis

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	s.server = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()

	s.logger.Info("metrics server listening", "address", lis.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when listen carried
// port 0.
func (s *MetricsServer) Addr() string {
	if s.listener == nil {
		return s.listen
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *MetricsServer) Stop() error {
	s.stop.Do(func() {
		if s.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("metrics shutdown", "error", err)
			}
		}
		s.wg.Wait()
	})
	return nil
}
