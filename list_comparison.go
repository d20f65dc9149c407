package logprep

import (
	"github.com/ekneg54/Logprep/internal/dotted"
)

// TypeListComparison is the processor type of the list membership
// checker.
const TypeListComparison = "list_comparison"

// ListComparisonConfig holds the per-instance settings of a
// ListComparison processor.
type ListComparisonConfig struct {
	// ListSearchBasePath resolves relative list file paths for rules
	// that do not carry their own base path.
	ListSearchBasePath string
}

// ListComparison checks the value of a rule's check field against the
// rule's list files. When the value is found in at least one list, the
// names of the matching files are appended to <output_field>.in_list;
// otherwise every file name is appended to <output_field>.not_in_list.
type ListComparison struct {
	processorCore

	cfg   ListComparisonConfig
	rules []*ListComparisonRule
}

// NewListComparison creates a list comparison processor with an empty
// rule set.
func NewListComparison(name string, cfg ListComparisonConfig, opts ...ProcessorOption) *ListComparison {
	return &ListComparison{
		processorCore: newProcessorCore(name, TypeListComparison, opts),
		cfg:           cfg,
	}
}

// LoadRules loads list comparison rules from the given files and reads
// every referenced list file into memory.
func (p *ListComparison) LoadRules(paths ...string) error {
	for _, path := range paths {
		rules, err := LoadListComparisonRules(path)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if err := rule.loadLists(p.cfg.ListSearchBasePath); err != nil {
				return WrapError(ErrRuleDefinition, p.name, rule.Meta.describe(), err)
			}
		}
		p.rules = append(p.rules, rules...)
	}
	p.logger.Debug("rules loaded", "count", len(p.rules))
	return nil
}

// AddRules appends already constructed rules, reading their list files
// unless that has happened before.
func (p *ListComparison) AddRules(rules ...*ListComparisonRule) error {
	for _, rule := range rules {
		if rule.compareSets == nil {
			if err := rule.loadLists(p.cfg.ListSearchBasePath); err != nil {
				return WrapError(ErrRuleDefinition, p.name, rule.Meta.describe(), err)
			}
		}
	}
	p.rules = append(p.rules, rules...)
	return nil
}

// Rules returns the loaded rules in application order.
func (p *ListComparison) Rules() []*ListComparisonRule { return p.rules }

// Process applies every admitted rule. Output fields blocked by an
// existing non-list value are reported in a single DuplicationError
// after all rules ran.
func (p *ListComparison) Process(event Event) error {
	p.stats.RecordProcessed()
	var conflicts []string
	for _, rule := range p.rules {
		if !p.matches(rule.Meta.Filter, event) {
			continue
		}
		applied, ruleConflicts := p.applyRule(event, rule)
		if applied {
			p.stats.RecordMatch()
		}
		conflicts = append(conflicts, ruleConflicts...)
	}
	if len(conflicts) > 0 {
		p.stats.RecordWarning()
		return &DuplicationError{Processor: p.name, Fields: conflicts}
	}
	return nil
}

func (p *ListComparison) applyRule(event Event, rule *ListComparisonRule) (bool, []string) {
	value, ok := dotted.GetString(event, rule.CheckField)
	if !ok {
		return false, nil
	}

	var matched []string
	for _, name := range rule.compareNames {
		if _, ok := rule.compareSets[name][value]; ok {
			matched = append(matched, name)
		}
	}

	target := rule.OutputField + ".in_list"
	names := matched
	if len(matched) == 0 {
		target = rule.OutputField + ".not_in_list"
		names = rule.compareNames
	}

	for _, name := range names {
		if err := dotted.Put(event, target, name, dotted.ExtendList); err != nil {
			// The whole path is blocked; appending more names cannot
			// succeed either.
			return true, []string{target}
		}
	}
	return true, nil
}
