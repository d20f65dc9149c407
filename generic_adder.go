package logprep

import (
	"regexp"
	"strings"

	"github.com/ekneg54/Logprep/internal/dotted"
	"github.com/ekneg54/Logprep/internal/ruleyaml"
)

// TypeGenericAdder is the processor type of the generic adder.
const TypeGenericAdder = "generic_adder"

// AdderConfig holds the per-instance settings of a GenericAdder.
type AdderConfig struct {
	// SQL binds an enrichment table. Rules with a db_target section
	// add fields from matching table rows instead of their own add
	// mapping.
	SQL *SQLConfig
}

// GenericAdder adds declared fields and values to events. Additions
// come from the rule definition, from files folded into the rule at
// load time, or from a row of the bound SQL table. Existing values are
// never overwritten; blocked additions are reported per event as one
// *DuplicationError.
type GenericAdder struct {
	processorCore

	table    *sqlTable
	rules    []*AdderRule
	patterns map[*AdderRule]*regexp.Regexp
}

// NewGenericAdder creates an adder with an empty rule set. When cfg
// binds an SQL table, the table is read immediately.
func NewGenericAdder(name string, cfg AdderConfig, opts ...ProcessorOption) (*GenericAdder, error) {
	p := &GenericAdder{
		processorCore: newProcessorCore(name, TypeGenericAdder, opts),
		patterns:      make(map[*AdderRule]*regexp.Regexp),
	}
	if cfg.SQL != nil {
		table, err := openSQLTable(*cfg.SQL)
		if err != nil {
			return nil, WrapError(ErrConfiguration, name, "binding enrichment table", err)
		}
		p.table = table
	}
	return p, nil
}

// LoadRules loads adder rules from the given files, appending to any
// rules already present.
func (p *GenericAdder) LoadRules(paths ...string) error {
	for _, path := range paths {
		rules, err := LoadAdderRules(path)
		if err != nil {
			return err
		}
		if err := p.AddRules(rules...); err != nil {
			return err
		}
	}
	p.logger.Debug("rules loaded", "count", len(p.rules))
	return nil
}

// AddRules appends already constructed rules, compiling their
// db_pattern expressions. Patterns are matched anchored at the start of
// the target value.
func (p *GenericAdder) AddRules(rules ...*AdderRule) error {
	for _, rule := range rules {
		if rule.DBPattern != "" {
			re, err := regexp.Compile("^(?:" + rule.DBPattern + ")")
			if err != nil {
				return WrapError(ErrRuleDefinition, p.name, rule.Meta.describe()+": db_pattern", err)
			}
			p.patterns[rule] = re
		}
		p.rules = append(p.rules, rule)
	}
	return nil
}

// Rules returns the loaded rules in application order.
func (p *GenericAdder) Rules() []*AdderRule { return p.rules }

// Process applies every admitted rule to the event. A bound table is
// refreshed first when its reload interval expired. Additions blocked
// by existing values are collected and reported once as a
// *DuplicationError; all other additions stay applied.
func (p *GenericAdder) Process(event Event) error {
	p.stats.RecordProcessed()

	if p.table != nil {
		if err := p.table.refresh(); err != nil {
			p.stats.RecordError()
			return WrapError(ErrPersistence, p.name, "reloading enrichment table", err)
		}
	}

	var conflicts []string
	for _, rule := range p.rules {
		if !p.matches(rule.Meta.Filter, event) {
			continue
		}
		conflicts = append(conflicts, p.applyRule(event, rule)...)
	}

	if len(conflicts) > 0 {
		p.stats.RecordWarning()
		return &DuplicationError{Processor: p.name, Fields: conflicts}
	}
	return nil
}

// Close releases the enrichment table.
func (p *GenericAdder) Close() error {
	if p.table == nil {
		return nil
	}
	return p.table.Close()
}

func (p *GenericAdder) applyRule(event Event, rule *AdderRule) []string {
	items := p.itemsFor(event, rule)
	if len(items) == 0 {
		return nil
	}
	p.stats.RecordMatch()

	mode := dotted.NoOverwrite
	if rule.ExtendTargetList {
		mode = dotted.ExtendList
	}
	var conflicts []string
	for _, item := range items {
		if err := dotted.Put(event, item.Key, item.Value, mode); err != nil {
			conflicts = append(conflicts, item.Key)
		}
	}
	return conflicts
}

// itemsFor selects what a rule adds. A rule binding the table through
// db_target contributes the row selected by its pattern's first capture
// group, with columns placed beneath db_destination_prefix; without a
// loaded table the rule falls back to its own add mapping.
func (p *GenericAdder) itemsFor(event Event, rule *AdderRule) []ruleyaml.AnyPair {
	if rule.DBTarget == "" || p.table == nil {
		return rule.Add
	}

	re := p.patterns[rule]
	if re == nil {
		return nil
	}
	value, ok := dotted.GetString(event, rule.DBTarget)
	if !ok {
		return nil
	}
	match := re.FindStringSubmatch(value)
	if len(match) < 2 {
		return nil
	}

	entries := p.table.entries(match[1])
	items := make([]ruleyaml.AnyPair, 0, len(entries))
	for _, entry := range entries {
		field := entry.column
		if rule.DBDestinationPrefix != "" && !strings.HasPrefix(field, rule.DBDestinationPrefix) {
			field = rule.DBDestinationPrefix + "." + field
		}
		items = append(items, ruleyaml.AnyPair{Key: field, Value: entry.value})
	}
	return items
}
