package logprep

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekneg54/Logprep/internal/ruleyaml"
)

// RuleMeta carries the attributes shared by every rule type: the
// verbatim filter string, the optional description and the originating
// file. FileIdentity is the file's base name without extension and
// doubles as the pattern database cache key for resolver rules.
type RuleMeta struct {
	Filter       string
	Description  string
	File         string
	FileIdentity string
	Index        int
}

func (m RuleMeta) describe() string {
	return fmt.Sprintf("rule %d in %s", m.Index, m.File)
}

// FileIdentity returns the identity of a rule file: its base name
// without the extension.
func FileIdentity(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResolverRule configures one application of the pattern-resolution
// engine.
type ResolverRule struct {
	Meta RuleMeta `yaml:"-"`

	// FieldMapping maps source fields to target fields, applied in
	// declaration order.
	FieldMapping ruleyaml.OrderedMap `yaml:"field_mapping"`
	// ResolveList maps pattern expressions to replacement values. A
	// pattern's position is its id; the smallest matching id wins.
	ResolveList ruleyaml.OrderedAnyMap `yaml:"resolve_list"`
	// AppendToList switches target writes to append-unique list
	// semantics.
	AppendToList bool `yaml:"append_to_list"`
	// StoreDBPersistent persists a freshly compiled pattern database
	// to the processor's database directory.
	StoreDBPersistent bool `yaml:"store_db_persistent"`
}

func (r *ResolverRule) validate() error {
	if len(r.FieldMapping) == 0 {
		return fmt.Errorf("field_mapping must not be empty")
	}
	return nil
}

// TemplatePattern describes how composite template keys decompose into
// event fields. Fields is the ordered list of dotted event paths,
// Delimiter separates the key components, and AllowedDelimiterField
// names the single field whose value may itself contain the delimiter.
type TemplatePattern struct {
	Delimiter             string   `yaml:"delimiter"`
	Fields                []string `yaml:"fields"`
	AllowedDelimiterField string   `yaml:"allowed_delimiter_field"`
	TargetField           string   `yaml:"target_field"`
}

// AllowedDelimiterFieldIndex returns the position of
// AllowedDelimiterField within Fields, or -1 when it is not listed.
func (p *TemplatePattern) AllowedDelimiterFieldIndex() int {
	for i, field := range p.Fields {
		if field == p.AllowedDelimiterField {
			return i
		}
	}
	return -1
}

// TemplateReplacerRule triggers the template-lookup engine. Template
// and Pattern fall back to the processor configuration when omitted, so
// a plain filter-only rule is valid.
type TemplateReplacerRule struct {
	Meta RuleMeta `yaml:"-"`

	Template string           `yaml:"template"`
	Pattern  *TemplatePattern `yaml:"pattern"`
}

// AdderRule configures the generic adder. At least one source of
// fields to add must be present: an inline Add mapping, files listed in
// AddFromFile, or an SQL table binding (DBTarget plus DBPattern).
type AdderRule struct {
	Meta RuleMeta `yaml:"-"`

	// Add maps dotted target fields to the values written there.
	Add ruleyaml.OrderedAnyMap `yaml:"add"`
	// AddFromFile lists files holding additional mappings which are
	// merged into Add at load time. A missing file is an error unless
	// OnlyFirstExistingFile is set, in which case the first existing
	// file is used and the rest are ignored.
	AddFromFile           StringList `yaml:"add_from_file"`
	OnlyFirstExistingFile bool       `yaml:"only_first_existing_file"`
	// ExtendTargetList appends to list targets instead of treating an
	// existing value as a conflict.
	ExtendTargetList bool `yaml:"extend_target_list"`

	// SQL table enrichment: the value of DBTarget is matched against
	// DBPattern, whose first capture group selects the table row. Row
	// columns are added beneath DBDestinationPrefix.
	DBTarget            string `yaml:"db_target"`
	DBPattern           string `yaml:"db_pattern"`
	DBDestinationPrefix string `yaml:"db_destination_prefix"`
}

func (r *AdderRule) validate() error {
	if len(r.Add) == 0 && len(r.AddFromFile) == 0 && r.DBTarget == "" {
		return fmt.Errorf("no add, add_from_file or db_target section")
	}
	if (r.DBTarget == "") != (r.DBPattern == "") {
		return fmt.Errorf("db_target and db_pattern must be set together")
	}
	return nil
}

// mergeAddFiles folds the mappings of the AddFromFile entries into Add.
func (r *AdderRule) mergeAddFiles() error {
	if len(r.AddFromFile) == 0 {
		return nil
	}
	missing := make([]string, 0, len(r.AddFromFile))
	merged := false
	for _, path := range r.AddFromFile {
		entries, err := loadAddFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, path)
				continue
			}
			return err
		}
		r.Add = append(r.Add, entries...)
		merged = true
		if r.OnlyFirstExistingFile {
			return nil
		}
	}
	if !merged {
		return fmt.Errorf("add_from_file files do not exist: %s", strings.Join(missing, ", "))
	}
	if !r.OnlyFirstExistingFile && len(missing) > 0 {
		return fmt.Errorf("add_from_file files do not exist: %s", strings.Join(missing, ", "))
	}
	return nil
}

func loadAddFile(path string) (ruleyaml.OrderedAnyMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries ruleyaml.OrderedAnyMap
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("add_from_file %s: %w", path, err)
	}
	return entries, nil
}

// DatetimeExtractorRule splits the timestamp in DatetimeField into its
// parts beneath DestinationField.
type DatetimeExtractorRule struct {
	Meta RuleMeta `yaml:"-"`

	DatetimeField    string `yaml:"datetime_field"`
	DestinationField string `yaml:"destination_field"`
}

func (r *DatetimeExtractorRule) validate() error {
	if r.DatetimeField == "" {
		return fmt.Errorf("datetime_field must not be empty")
	}
	if r.DestinationField == "" {
		return fmt.Errorf("destination_field must not be empty")
	}
	return nil
}

// ListComparisonRule checks the value of CheckField against the named
// list files and writes the comparison outcome beneath OutputField.
type ListComparisonRule struct {
	Meta RuleMeta `yaml:"-"`

	CheckField    string     `yaml:"check_field"`
	OutputField   string     `yaml:"output_field"`
	ListFilePaths StringList `yaml:"list_file_paths"`
	// ListSearchBasePath resolves relative list paths; the processor's
	// base path applies when empty.
	ListSearchBasePath string `yaml:"list_search_base_path"`

	// compareSets holds one membership set per list file, keyed by the
	// file's base name, populated by loadLists. compareNames preserves
	// the order of list_file_paths.
	compareSets  map[string]map[string]struct{}
	compareNames []string
}

func (r *ListComparisonRule) validate() error {
	if r.CheckField == "" {
		return fmt.Errorf("check_field must not be empty")
	}
	if r.OutputField == "" {
		return fmt.Errorf("output_field must not be empty")
	}
	if len(r.ListFilePaths) == 0 {
		return fmt.Errorf("list_file_paths must not be empty")
	}
	return nil
}

// loadLists reads every list file into a membership set. Lines are
// trimmed of the trailing newline only; lines starting with '#' are
// comments. Relative paths resolve against the rule's base path, or
// searchBase when the rule has none.
func (r *ListComparisonRule) loadLists(searchBase string) error {
	base := r.ListSearchBasePath
	if base == "" {
		base = searchBase
	}
	r.compareSets = make(map[string]map[string]struct{}, len(r.ListFilePaths))
	r.compareNames = r.compareNames[:0]
	for _, listPath := range r.ListFilePaths {
		resolved := listPath
		if base != "" && !filepath.IsAbs(listPath) {
			resolved = filepath.Join(base, listPath)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return fmt.Errorf("list file %s: %w", resolved, err)
		}
		set := make(map[string]struct{})
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			set[line] = struct{}{}
		}
		name := filepath.Base(resolved)
		r.compareSets[name] = set
		r.compareNames = append(r.compareNames, name)
	}
	return nil
}

// StringList decodes a YAML scalar or sequence of scalars into a slice,
// so rule files may write either `add_from_file: one.yml` or a list.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var s []string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList(s)
		return nil
	default:
		return fmt.Errorf("expected a string or a list of strings")
	}
}

// ruleEnvelope is the shared outer shape of a rule document. The
// processor-specific section stays an undecoded node until the typed
// loader picks it up.
type ruleEnvelope struct {
	Filter      string               `yaml:"filter"`
	Description string               `yaml:"description"`
	Sections    map[string]yaml.Node `yaml:",inline"`
}

type ruleDocument struct {
	meta    RuleMeta
	section *yaml.Node
}

// ruleDocuments parses a single rule file (YAML stream or JSON) and
// returns one document per rule carrying the named section.
func ruleDocuments(path, section string) ([]ruleDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError(ErrRuleDefinition, "", fmt.Sprintf("reading rule file %s", path), err)
	}
	docs, err := ruleyaml.Documents(data)
	if err != nil {
		return nil, WrapError(ErrRuleDefinition, "", fmt.Sprintf("parsing rule file %s", path), err)
	}
	identity := FileIdentity(path)
	out := make([]ruleDocument, 0, len(docs))
	for i, doc := range docs {
		var env ruleEnvelope
		if err := doc.Decode(&env); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", fmt.Sprintf("rule %d in %s", i, path), err)
		}
		node, ok := env.Sections[section]
		if !ok {
			return nil, NewError(ErrRuleDefinition, "", fmt.Sprintf("rule %d in %s has no %s section", i, path, section))
		}
		meta := RuleMeta{
			Filter:       env.Filter,
			Description:  env.Description,
			File:         path,
			FileIdentity: identity,
			Index:        i,
		}
		out = append(out, ruleDocument{meta: meta, section: &node})
	}
	return out, nil
}

// LoadResolverRules parses the resolver rules in a single file. Mapping
// order in field_mapping and resolve_list is preserved; resolve_list
// order defines the pattern ids.
func LoadResolverRules(path string) ([]*ResolverRule, error) {
	docs, err := ruleDocuments(path, "generic_resolver")
	if err != nil {
		return nil, err
	}
	rules := make([]*ResolverRule, 0, len(docs))
	for _, doc := range docs {
		rule := &ResolverRule{Meta: doc.meta}
		if err := doc.section.Decode(rule); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		if err := rule.validate(); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadTemplateReplacerRules parses the template replacer rules in a
// single file.
func LoadTemplateReplacerRules(path string) ([]*TemplateReplacerRule, error) {
	docs, err := ruleDocuments(path, "template_replacer")
	if err != nil {
		return nil, err
	}
	rules := make([]*TemplateReplacerRule, 0, len(docs))
	for _, doc := range docs {
		rule := &TemplateReplacerRule{Meta: doc.meta}
		if err := doc.section.Decode(rule); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadAdderRules parses the generic adder rules in a single file and
// folds any add_from_file mappings into the rules.
func LoadAdderRules(path string) ([]*AdderRule, error) {
	docs, err := ruleDocuments(path, "generic_adder")
	if err != nil {
		return nil, err
	}
	rules := make([]*AdderRule, 0, len(docs))
	for _, doc := range docs {
		rule := &AdderRule{Meta: doc.meta}
		if err := doc.section.Decode(rule); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		if err := rule.validate(); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		if err := rule.mergeAddFiles(); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadDatetimeExtractorRules parses the datetime extractor rules in a
// single file.
func LoadDatetimeExtractorRules(path string) ([]*DatetimeExtractorRule, error) {
	docs, err := ruleDocuments(path, "datetime_extractor")
	if err != nil {
		return nil, err
	}
	rules := make([]*DatetimeExtractorRule, 0, len(docs))
	for _, doc := range docs {
		rule := &DatetimeExtractorRule{Meta: doc.meta}
		if err := doc.section.Decode(rule); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		if err := rule.validate(); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadListComparisonRules parses the list comparison rules in a single
// file. The list files themselves are loaded by the processor, which
// supplies its search base path.
func LoadListComparisonRules(path string) ([]*ListComparisonRule, error) {
	docs, err := ruleDocuments(path, "list_comparison")
	if err != nil {
		return nil, err
	}
	rules := make([]*ListComparisonRule, 0, len(docs))
	for _, doc := range docs {
		rule := &ListComparisonRule{Meta: doc.meta}
		if err := doc.section.Decode(rule); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		if err := rule.validate(); err != nil {
			return nil, WrapError(ErrRuleDefinition, "", doc.meta.describe(), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
