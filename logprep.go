// Package logprep implements a rule-triggered field-enrichment engine
// for structured log events.
//
// Events are nested string-keyed documents (map[string]any). Processors
// apply declarative rules that derive new field values from existing
// ones and write them back under a conflict-safe contract: an existing
// value is never silently replaced unless the processor's semantics say
// so, and every blocked write is reported with its full dotted path.
//
// The two core engines are the pattern resolver (GenericResolver),
// which matches source fields against a compiled multi-pattern database
// and writes the mapped replacement, and the template replacer
// (TemplateReplacer), which rewrites a destination field from a
// multi-level template index keyed by several event fields. The
// remaining processors (GenericAdder, DatetimeExtractor,
// ListComparison) share the same rule and write contracts.
package logprep

// Version returns the current version of the logprep library.
func Version() string {
	return "0.1.0"
}
