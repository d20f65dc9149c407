package logprep

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ekneg54/Logprep/internal/dotted"
	"github.com/ekneg54/Logprep/internal/patterndb"
)

// TypeGenericResolver is the processor type of the pattern resolver.
const TypeGenericResolver = "generic_resolver"

// ResolverConfig holds the per-instance settings of a GenericResolver.
type ResolverConfig struct {
	// DatabaseDir is where compiled pattern databases are persisted and
	// looked up, keyed by rule file identity. Empty disables
	// persistence; databases are then always compiled in process.
	DatabaseDir string
	// CacheSize enables memoization of resolved values when positive.
	CacheSize int
}

// GenericResolver matches source field values against a rule's compiled
// pattern database and writes the replacement mapped to the matched
// pattern into the target field. When several patterns match the same
// value, the pattern declared first in the rule wins.
type GenericResolver struct {
	processorCore

	cfg   ResolverConfig
	store *patterndb.Store
	cache *lru.Cache[string, any]
	rules []*ResolverRule
}

// NewGenericResolver creates a resolver with an empty rule set.
func NewGenericResolver(name string, cfg ResolverConfig, opts ...ProcessorOption) (*GenericResolver, error) {
	p := &GenericResolver{
		processorCore: newProcessorCore(name, TypeGenericResolver, opts),
		cfg:           cfg,
		store:         patterndb.NewStore(cfg.DatabaseDir),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, any](cfg.CacheSize)
		if err != nil {
			return nil, WrapError(ErrConfiguration, name, "creating resolver cache", err)
		}
		p.cache = cache
	}
	return p, nil
}

// LoadRules loads resolver rules from the given files, appending to any
// rules already present.
func (p *GenericResolver) LoadRules(paths ...string) error {
	for _, path := range paths {
		rules, err := LoadResolverRules(path)
		if err != nil {
			return err
		}
		p.rules = append(p.rules, rules...)
	}
	p.logger.Debug("rules loaded", "count", len(p.rules))
	return nil
}

// AddRules appends already constructed rules.
func (p *GenericResolver) AddRules(rules ...*ResolverRule) {
	p.rules = append(p.rules, rules...)
}

// Rules returns the loaded rules in application order.
func (p *GenericResolver) Rules() []*ResolverRule { return p.rules }

// Process applies every admitted rule to the event. Field mappings are
// processed in declaration order and writes blocked by existing values
// are collected; a non-empty collection is reported once as a
// *DuplicationError after all rules ran, with the successful writes
// left in place.
func (p *GenericResolver) Process(event Event) error {
	p.stats.RecordProcessed()

	var conflicts []string
	for _, rule := range p.rules {
		if !p.matches(rule.Meta.Filter, event) {
			continue
		}
		ruleConflicts, err := p.applyRule(event, rule)
		if err != nil {
			p.stats.RecordError()
			return err
		}
		conflicts = append(conflicts, ruleConflicts...)
	}

	if len(conflicts) > 0 {
		p.stats.RecordWarning()
		return &DuplicationError{Processor: p.name, Fields: conflicts}
	}
	return nil
}

// Close releases the compiled pattern databases.
func (p *GenericResolver) Close() error {
	return p.store.Close()
}

func (p *GenericResolver) applyRule(event Event, rule *ResolverRule) ([]string, error) {
	var conflicts []string
	matched := false

	for _, pair := range rule.FieldMapping {
		source, ok := dotted.Get(event, pair.Key)
		if !ok || falsy(source) {
			continue
		}
		resolved, ok, err := p.resolve(rule, stringify(source))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		matched = true

		mode := dotted.NoOverwrite
		if rule.AppendToList {
			mode = dotted.ExtendList
		}
		if err := dotted.Put(event, pair.Value, resolved, mode); err != nil {
			conflicts = append(conflicts, pair.Value)
		}
	}

	if matched {
		p.stats.RecordMatch()
	}
	return conflicts, nil
}

// resolve maps one source value through the rule's pattern database.
// The boolean is false when no pattern matched or the winning
// replacement is empty.
func (p *GenericResolver) resolve(rule *ResolverRule, value string) (any, bool, error) {
	var key string
	if p.cache != nil {
		key = resolveCacheKey(rule, value)
		if cached, ok := p.cache.Get(key); ok {
			p.stats.RecordCacheHit()
			return cached, cached != nil, nil
		}
		p.stats.RecordCacheMiss()
	}

	db, err := p.database(rule)
	if err != nil {
		return nil, false, err
	}
	ids, err := db.Scan(value)
	if err != nil {
		return nil, false, WrapError(ErrCompilation, p.name,
			fmt.Sprintf("scanning against database %s", rule.Meta.FileIdentity), err)
	}

	resolved := selectResolved(ids, rule.ResolveList.Values())
	if p.cache != nil {
		p.cache.Add(key, resolved)
	}
	return resolved, resolved != nil, nil
}

func (p *GenericResolver) database(rule *ResolverRule) (*patterndb.Database, error) {
	db, err := p.store.Get(rule.Meta.FileIdentity, rule.ResolveList.Keys(), rule.StoreDBPersistent)
	if err != nil {
		var compileErr *patterndb.CompileError
		if errors.As(err, &compileErr) {
			return nil, WrapError(ErrCompilation, p.name,
				fmt.Sprintf("compiling database %s", rule.Meta.FileIdentity), err)
		}
		return nil, WrapError(ErrPersistence, p.name,
			fmt.Sprintf("loading database %s", rule.Meta.FileIdentity), err)
	}
	return db, nil
}

// selectResolved picks the replacement of the smallest matched pattern
// id. Ids beyond the rule's current value list can occur when a stale
// persisted database carries more patterns than the rule; those are
// ignored. An empty winning replacement resolves to nothing.
func selectResolved(ids []int, values []any) any {
	chosen := -1
	for _, id := range ids {
		if id >= len(values) {
			continue
		}
		if chosen == -1 || id < chosen {
			chosen = id
		}
	}
	if chosen == -1 {
		return nil
	}
	if value := values[chosen]; !falsy(value) {
		return value
	}
	return nil
}

// resolveCacheKey identifies one (rule, source value) resolution. The
// rule index disambiguates rules sharing a file identity.
func resolveCacheKey(rule *ResolverRule, value string) string {
	var b strings.Builder
	b.WriteString(rule.Meta.FileIdentity)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(rule.Meta.Index))
	b.WriteByte(0)
	b.WriteString(value)
	return b.String()
}

// falsy reports whether a value counts as unset for rule application:
// nil, empty strings, zero numbers, false and empty containers neither
// trigger resolution nor get written as replacements.
func falsy(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case int:
		return v == 0
	case int64:
		return v == 0
	case float64:
		return v == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}
