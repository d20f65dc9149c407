package logprep

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultMetricsListen is the metrics address used when metrics are
// enabled without an explicit listen address.
const DefaultMetricsListen = ":9090"

// Config is the root pipeline configuration.
type Config struct {
	Input    InputConfig       `yaml:"input"`
	Output   OutputConfig      `yaml:"output"`
	Metrics  MetricsConfig     `yaml:"metrics"`
	Pipeline []ProcessorConfig `yaml:"pipeline"`
}

// InputConfig selects and configures the event input. The Type field
// determines which input to instantiate.
type InputConfig struct {
	Type string `yaml:"type"`

	// otlp and http
	Listen    string `yaml:"listen"`
	QueueSize int    `yaml:"queue_size"`

	// http
	Endpoint        string `yaml:"endpoint"`
	EventsPerSecond uint32 `yaml:"events_per_second"`

	// jsonl
	Path string `yaml:"path"`
}

// OutputConfig selects and configures the event output.
type OutputConfig struct {
	Type string `yaml:"type"`

	// nats
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Name    string `yaml:"name"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ProcessorConfig describes one pipeline entry. Name and Type are
// required for every entry; the remaining fields belong to individual
// processor types.
type ProcessorConfig struct {
	Name  string   `yaml:"name"`
	Type  string   `yaml:"type"`
	Rules []string `yaml:"rules"`

	// generic_resolver
	HyperscanDBPath string `yaml:"hyperscan_db_path"`
	CacheSize       int    `yaml:"cache_size"`

	// template_replacer; both may instead live on individual rules
	Template string           `yaml:"template"`
	Pattern  *TemplatePattern `yaml:"pattern"`

	// generic_adder
	SQL *SQLConfig `yaml:"sql_config"`

	// list_comparison
	ListSearchBasePath string `yaml:"list_search_base_path"`

	// datetime_extractor
	Timezone string `yaml:"timezone"`
}

// LoadConfig loads and validates a pipeline configuration from a YAML
// file.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, WrapError(ErrConfiguration, "", fmt.Sprintf("loading %q", path), err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, WrapError(ErrConfiguration, "", fmt.Sprintf("parsing %q", path), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the configuration for missing and unknown settings.
func (c *Config) Validate() error {
	if err := c.Input.validate(); err != nil {
		return err
	}
	if err := c.Output.validate(); err != nil {
		return err
	}
	if len(c.Pipeline) == 0 {
		return NewError(ErrConfiguration, "", "pipeline must name at least one processor")
	}

	seen := make(map[string]bool, len(c.Pipeline))
	for i, pc := range c.Pipeline {
		if err := pc.validate(i); err != nil {
			return err
		}
		if seen[pc.Name] {
			return NewError(ErrConfiguration, pc.Name, "duplicate processor name")
		}
		seen[pc.Name] = true
	}
	return nil
}

func (c *InputConfig) validate() error {
	switch c.Type {
	case "otlp", "http":
		if c.Listen == "" {
			return NewError(ErrConfiguration, "", fmt.Sprintf("listen is required for %s input", c.Type))
		}
		if c.Type == "http" && c.Endpoint == OTLPLogsPath {
			return NewError(ErrConfiguration, "", fmt.Sprintf("endpoint %s is reserved for the otlp export", OTLPLogsPath))
		}
	case "jsonl":
		if c.Path == "" {
			return NewError(ErrConfiguration, "", "path is required for jsonl input")
		}
	case "":
		return NewError(ErrConfiguration, "", "input type is required")
	default:
		return NewError(ErrConfiguration, "", fmt.Sprintf("unknown input type: %s", c.Type))
	}
	return nil
}

func (c *OutputConfig) validate() error {
	switch c.Type {
	case "console":
	case "nats":
		if c.URL == "" {
			return NewError(ErrConfiguration, "", "url is required for nats output")
		}
		if c.Subject == "" {
			return NewError(ErrConfiguration, "", "subject is required for nats output")
		}
	case "":
		return NewError(ErrConfiguration, "", "output type is required")
	default:
		return NewError(ErrConfiguration, "", fmt.Sprintf("unknown output type: %s", c.Type))
	}
	return nil
}

func (c *ProcessorConfig) validate(index int) error {
	if c.Name == "" {
		return NewError(ErrConfiguration, "", fmt.Sprintf("pipeline entry %d: name is required", index))
	}
	switch c.Type {
	case TypeGenericResolver, TypeTemplateReplacer, TypeGenericAdder,
		TypeDatetimeExtractor, TypeListComparison:
	case "":
		return NewError(ErrConfiguration, c.Name, "type is required")
	default:
		return NewError(ErrConfiguration, c.Name, fmt.Sprintf("unknown processor type: %s", c.Type))
	}
	if len(c.Rules) == 0 {
		return NewError(ErrConfiguration, c.Name, "at least one rules file is required")
	}
	return nil
}

// BuildPipeline constructs the pipeline the configuration describes.
// The given processor options apply to every processor on top of its
// settings from the configuration.
func BuildPipeline(cfg *Config, opts ...ProcessorOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	input, err := buildInput(cfg.Input)
	if err != nil {
		return nil, err
	}

	processors := make([]Processor, 0, len(cfg.Pipeline))
	closeBuilt := func() {
		for _, proc := range processors {
			if closer, ok := proc.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}
	}

	for _, pc := range cfg.Pipeline {
		proc, err := buildProcessor(pc, opts)
		if err != nil {
			closeBuilt()
			return nil, err
		}
		processors = append(processors, proc)
	}

	output, err := buildOutput(cfg.Output)
	if err != nil {
		closeBuilt()
		return nil, err
	}

	var pipelineOpts []PipelineOption
	if cfg.Metrics.Enabled {
		listen := cfg.Metrics.Listen
		if listen == "" {
			listen = DefaultMetricsListen
		}
		pipelineOpts = append(pipelineOpts, WithPipelineMetrics(listen))
	}

	return NewPipeline(input, processors, output, pipelineOpts...), nil
}

func buildInput(c InputConfig) (Input, error) {
	switch c.Type {
	case "otlp":
		var opts []OTLPInputOption
		if c.QueueSize > 0 {
			opts = append(opts, WithOTLPQueueSize(c.QueueSize))
		}
		return NewOTLPInput(c.Listen, opts...), nil
	case "http":
		var opts []HTTPInputOption
		if c.Endpoint != "" {
			opts = append(opts, WithHTTPPath(c.Endpoint))
		}
		if c.QueueSize > 0 {
			opts = append(opts, WithHTTPQueueSize(c.QueueSize))
		}
		if c.EventsPerSecond > 0 {
			opts = append(opts, WithHTTPRateLimit(c.EventsPerSecond))
		}
		return NewHTTPInput(c.Listen, opts...), nil
	case "jsonl":
		return NewJSONLInput(c.Path), nil
	default:
		return nil, NewError(ErrConfiguration, "", fmt.Sprintf("unknown input type: %s", c.Type))
	}
}

func buildOutput(c OutputConfig) (Output, error) {
	switch c.Type {
	case "console":
		return NewConsoleOutput(nil), nil
	case "nats":
		var opts []NATSOutputOption
		if c.Name != "" {
			opts = append(opts, WithNATSName(c.Name))
		}
		return NewNATSOutput(c.URL, c.Subject, opts...)
	default:
		return nil, NewError(ErrConfiguration, "", fmt.Sprintf("unknown output type: %s", c.Type))
	}
}

func buildProcessor(pc ProcessorConfig, opts []ProcessorOption) (Processor, error) {
	switch pc.Type {
	case TypeGenericResolver:
		p, err := NewGenericResolver(pc.Name, ResolverConfig{
			DatabaseDir: pc.HyperscanDBPath,
			CacheSize:   pc.CacheSize,
		}, opts...)
		if err != nil {
			return nil, err
		}
		if err := p.LoadRules(pc.Rules...); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil

	case TypeTemplateReplacer:
		p, err := NewTemplateReplacer(pc.Name, TemplateReplacerConfig{
			Template: pc.Template,
			Pattern:  pc.Pattern,
		}, opts...)
		if err != nil {
			return nil, err
		}
		if err := p.LoadRules(pc.Rules...); err != nil {
			return nil, err
		}
		return p, nil

	case TypeGenericAdder:
		p, err := NewGenericAdder(pc.Name, AdderConfig{SQL: pc.SQL}, opts...)
		if err != nil {
			return nil, err
		}
		if err := p.LoadRules(pc.Rules...); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil

	case TypeDatetimeExtractor:
		cfg := DatetimeConfig{}
		if pc.Timezone != "" {
			location, err := time.LoadLocation(pc.Timezone)
			if err != nil {
				return nil, WrapError(ErrConfiguration, pc.Name, fmt.Sprintf("timezone %q", pc.Timezone), err)
			}
			cfg.Location = location
		}
		p := NewDatetimeExtractor(pc.Name, cfg, opts...)
		if err := p.LoadRules(pc.Rules...); err != nil {
			return nil, err
		}
		return p, nil

	case TypeListComparison:
		p := NewListComparison(pc.Name, ListComparisonConfig{
			ListSearchBasePath: pc.ListSearchBasePath,
		}, opts...)
		if err := p.LoadRules(pc.Rules...); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, NewError(ErrConfiguration, pc.Name, fmt.Sprintf("unknown processor type: %s", pc.Type))
	}
}
