package logprep

import (
	"fmt"
	"time"

	dps "github.com/markusmobius/go-dateparser"

	"github.com/ekneg54/Logprep/internal/dotted"
)

// TypeDatetimeExtractor is the processor type of the timestamp
// splitter.
const TypeDatetimeExtractor = "datetime_extractor"

// DatetimeConfig holds the per-instance settings of a
// DatetimeExtractor.
type DatetimeConfig struct {
	// Location the split record is rendered in. Defaults to the host's
	// local time zone.
	Location *time.Location
}

// DatetimeExtractor parses the timestamp in a rule's source field and
// writes its parts (year through microsecond, weekday and the render
// time zone) beneath the rule's destination field. An existing
// destination is left alone.
type DatetimeExtractor struct {
	processorCore

	location  *time.Location
	zoneName  string
	parser    dps.Parser
	parserCfg dps.Configuration
	rules     []*DatetimeExtractorRule
}

// NewDatetimeExtractor creates a datetime extractor with an empty rule
// set.
func NewDatetimeExtractor(name string, cfg DatetimeConfig, opts ...ProcessorOption) *DatetimeExtractor {
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	return &DatetimeExtractor{
		processorCore: newProcessorCore(name, TypeDatetimeExtractor, opts),
		location:      location,
		zoneName:      timezoneName(time.Now().In(location)),
		parserCfg:     dps.Configuration{DefaultTimezone: location},
	}
}

// LoadRules loads datetime extractor rules from the given files,
// appending to any rules already present.
func (p *DatetimeExtractor) LoadRules(paths ...string) error {
	for _, path := range paths {
		rules, err := LoadDatetimeExtractorRules(path)
		if err != nil {
			return err
		}
		p.rules = append(p.rules, rules...)
	}
	p.logger.Debug("rules loaded", "count", len(p.rules))
	return nil
}

// AddRules appends already constructed rules.
func (p *DatetimeExtractor) AddRules(rules ...*DatetimeExtractorRule) {
	p.rules = append(p.rules, rules...)
}

// Rules returns the loaded rules in application order.
func (p *DatetimeExtractor) Rules() []*DatetimeExtractorRule { return p.rules }

// Process applies every admitted rule. A missing source field and an
// already existing destination both skip silently; an unparsable
// timestamp aborts the event.
func (p *DatetimeExtractor) Process(event Event) error {
	p.stats.RecordProcessed()
	for _, rule := range p.rules {
		if !p.matches(rule.Meta.Filter, event) {
			continue
		}
		applied, err := p.applyRule(event, rule)
		if err != nil {
			p.stats.RecordError()
			return err
		}
		if applied {
			p.stats.RecordMatch()
		}
	}
	return nil
}

func (p *DatetimeExtractor) applyRule(event Event, rule *DatetimeExtractorRule) (bool, error) {
	value, ok := dotted.GetString(event, rule.DatetimeField)
	if !ok {
		return false, nil
	}

	parsed, err := p.parser.Parse(&p.parserCfg, value)
	if err != nil {
		return false, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	if parsed.IsZero() {
		return false, fmt.Errorf("parsing timestamp %q: unrecognized format", value)
	}
	local := parsed.Time.In(p.location)

	split := map[string]any{
		"year":        local.Year(),
		"month":       int(local.Month()),
		"day":         local.Day(),
		"hour":        local.Hour(),
		"minute":      local.Minute(),
		"second":      local.Second(),
		"microsecond": local.Nanosecond() / 1000,
		"weekday":     local.Weekday().String(),
		"timezone":    p.zoneName,
	}

	if err := dotted.Put(event, rule.DestinationField, split, dotted.NoOverwrite); err != nil {
		// The destination already holds a value; leave it alone.
		return false, nil
	}
	return true, nil
}

// timezoneName renders an offset the way the split record reports it:
// "UTC" for +00:00, otherwise "UTC±HH:MM".
func timezoneName(at time.Time) string {
	_, offset := at.Zone()
	if offset == 0 {
		return "UTC"
	}
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, offset/3600, offset%3600/60)
}
