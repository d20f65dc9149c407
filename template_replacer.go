package logprep

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekneg54/Logprep/internal/dotted"
	"github.com/ekneg54/Logprep/internal/templatetree"
)

// TypeTemplateReplacer is the processor type of the template-lookup
// engine.
const TypeTemplateReplacer = "template_replacer"

// TemplateReplacerConfig holds the processor-level template binding.
// Rules may override it with their own template or pattern.
type TemplateReplacerConfig struct {
	// Template is the path of the template file, a YAML mapping of
	// delimiter-joined composite keys to replacement values.
	Template string
	// Pattern describes how composite keys decompose into event fields
	// and which field gets rewritten.
	Pattern *TemplatePattern
}

// templateLookup pairs a decomposition pattern with the index built
// from its template file.
type templateLookup struct {
	pattern *TemplatePattern
	tree    *templatetree.Tree
}

// TemplateReplacer rewrites a destination field from a template index:
// the configured event fields are read in order, their values walk the
// index, and a full-depth hit replaces the target field's value. The
// target is only ever rewritten in place; an event without the target
// path is left alone.
type TemplateReplacer struct {
	processorCore

	cfg     TemplateReplacerConfig
	base    *templateLookup
	rules   []*TemplateReplacerRule
	lookups map[*TemplateReplacerRule]*templateLookup
}

// NewTemplateReplacer creates a template replacer. The template index
// of cfg is built immediately; a malformed template file or pattern is
// an ErrTemplateFormat error. An empty cfg is valid as long as every
// rule carries its own template and pattern.
func NewTemplateReplacer(name string, cfg TemplateReplacerConfig, opts ...ProcessorOption) (*TemplateReplacer, error) {
	p := &TemplateReplacer{
		processorCore: newProcessorCore(name, TypeTemplateReplacer, opts),
		cfg:           cfg,
		lookups:       make(map[*TemplateReplacerRule]*templateLookup),
	}
	if cfg.Template != "" || cfg.Pattern != nil {
		lookup, err := buildTemplateLookup(name, cfg.Template, cfg.Pattern)
		if err != nil {
			return nil, err
		}
		p.base = lookup
	}
	return p, nil
}

// LoadRules loads template replacer rules from the given files. Rules
// carrying their own template or pattern get a private index built at
// load time.
func (p *TemplateReplacer) LoadRules(paths ...string) error {
	for _, path := range paths {
		rules, err := LoadTemplateReplacerRules(path)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if err := p.AddRules(rule); err != nil {
				return err
			}
		}
	}
	p.logger.Debug("rules loaded", "count", len(p.rules))
	return nil
}

// AddRules appends already constructed rules, building per-rule
// template indexes where a rule overrides the processor configuration.
func (p *TemplateReplacer) AddRules(rules ...*TemplateReplacerRule) error {
	for _, rule := range rules {
		lookup := p.base
		if rule.Template != "" || rule.Pattern != nil {
			template := rule.Template
			if template == "" {
				template = p.cfg.Template
			}
			pattern := rule.Pattern
			if pattern == nil {
				pattern = p.cfg.Pattern
			}
			built, err := buildTemplateLookup(p.name, template, pattern)
			if err != nil {
				return err
			}
			lookup = built
		}
		if lookup == nil {
			return NewError(ErrTemplateFormat, p.name, rule.Meta.describe()+": no template configured")
		}
		p.lookups[rule] = lookup
		p.rules = append(p.rules, rule)
	}
	return nil
}

// Rules returns the loaded rules in application order.
func (p *TemplateReplacer) Rules() []*TemplateReplacerRule { return p.rules }

// Process applies every admitted rule. The engine only rewrites an
// existing target in place, so processing never fails: a missing event
// field, an index miss and a missing target all skip silently.
func (p *TemplateReplacer) Process(event Event) error {
	p.stats.RecordProcessed()
	for _, rule := range p.rules {
		if !p.matches(rule.Meta.Filter, event) {
			continue
		}
		if p.applyRule(event, rule) {
			p.stats.RecordMatch()
		}
	}
	return nil
}

func (p *TemplateReplacer) applyRule(event Event, rule *TemplateReplacerRule) bool {
	lookup := p.lookups[rule]
	components := make([]string, 0, len(lookup.pattern.Fields))
	for _, field := range lookup.pattern.Fields {
		value, ok := dotted.Get(event, field)
		if !ok {
			return false
		}
		components = append(components, stringify(value))
	}
	replacement, ok := lookup.tree.Get(components)
	if !ok {
		return false
	}
	if !dotted.Exists(event, lookup.pattern.TargetField) {
		return false
	}
	// Exists guarantees a map chain down to the target, so the
	// overwrite cannot conflict.
	_ = dotted.Put(event, lookup.pattern.TargetField, replacement, dotted.Overwrite)
	return true
}

// buildTemplateLookup reads a template file and explodes its keys into
// a lookup tree per the pattern.
func buildTemplateLookup(processor, templatePath string, pattern *TemplatePattern) (*templateLookup, error) {
	if pattern == nil {
		return nil, NewError(ErrTemplateFormat, processor, "missing template pattern")
	}
	if templatePath == "" {
		return nil, NewError(ErrTemplateFormat, processor, "missing template file path")
	}
	if pattern.TargetField == "" {
		return nil, NewError(ErrTemplateFormat, processor, "missing target_field")
	}
	anchor := pattern.AllowedDelimiterFieldIndex()
	if anchor < 0 {
		return nil, NewError(ErrTemplateFormat, processor,
			fmt.Sprintf("allowed_delimiter_field %q is not one of the fields", pattern.AllowedDelimiterField))
	}

	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, WrapError(ErrTemplateFormat, processor, fmt.Sprintf("reading template %s", templatePath), err)
	}
	var mapping map[string]any
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, WrapError(ErrTemplateFormat, processor, fmt.Sprintf("parsing template %s", templatePath), err)
	}

	tree, err := templatetree.Build(mapping, templatetree.Config{
		Delimiter:   pattern.Delimiter,
		FieldCount:  len(pattern.Fields),
		AnchorIndex: anchor,
	})
	if err != nil {
		return nil, WrapError(ErrTemplateFormat, processor, fmt.Sprintf("building template index from %s", templatePath), err)
	}
	return &templateLookup{pattern: pattern, tree: tree}, nil
}
