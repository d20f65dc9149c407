// Package templatetree indexes template mappings whose composite keys
// encode several event fields in a single delimited string.
//
// A composite key such as "Security-Microsoft-Windows-Security-Auditing-4624"
// partitions into a fixed number of components. Exactly one component,
// the anchor, may itself contain the delimiter; its surplus tokens are
// rejoined so every key explodes into the same number of components.
package templatetree

import (
	"fmt"
	"strings"
)

// Config describes how composite keys partition into components.
type Config struct {
	// Delimiter separates the tokens of a composite key.
	Delimiter string
	// FieldCount is the number of components every key must yield.
	FieldCount int
	// AnchorIndex is the position of the component that may contain
	// the delimiter. Tokens left over after assigning the components
	// before and after the anchor are rejoined into it.
	AnchorIndex int
}

func (c Config) validate() error {
	if c.Delimiter == "" {
		return fmt.Errorf("template key delimiter must not be empty")
	}
	if c.FieldCount < 1 {
		return fmt.Errorf("template key must partition into at least one field, got %d", c.FieldCount)
	}
	if c.AnchorIndex < 0 || c.AnchorIndex >= c.FieldCount {
		return fmt.Errorf("anchor index %d outside the %d key fields", c.AnchorIndex, c.FieldCount)
	}
	return nil
}

// Tree is a fixed-depth index of exploded composite keys. Lookups
// succeed only at full depth.
type Tree struct {
	depth int
	root  map[string]any
}

// Build explodes every key of the mapping into components and inserts
// it into a tree of nested maps. A key yielding fewer components than
// configured fails the build.
func Build(mapping map[string]any, cfg Config) (*Tree, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	root := make(map[string]any)
	for key, value := range mapping {
		components, err := splitKey(key, cfg)
		if err != nil {
			return nil, err
		}

		current := root
		for _, component := range components[:len(components)-1] {
			next, ok := current[component].(map[string]any)
			if !ok {
				next = make(map[string]any)
				current[component] = next
			}
			current = next
		}
		current[components[len(components)-1]] = value
	}

	return &Tree{depth: cfg.FieldCount, root: root}, nil
}

// Depth returns the number of components a lookup must supply.
func (t *Tree) Depth() int { return t.depth }

// Get walks the tree with the components and returns the stored value.
// It reports false when the component count differs from the tree depth
// or any level misses.
func (t *Tree) Get(components []string) (any, bool) {
	if len(components) != t.depth {
		return nil, false
	}

	current := t.root
	for _, component := range components[:len(components)-1] {
		next, ok := current[component].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	value, ok := current[components[len(components)-1]]
	return value, ok
}

// splitKey tokenizes key on the delimiter and recombines the tokens
// into exactly FieldCount components. The components before the anchor
// take one token each, as do the components after it; the anchor
// absorbs the rest, rejoined with "-" independent of the configured
// delimiter.
func splitKey(key string, cfg Config) ([]string, error) {
	tokens := strings.Split(key, cfg.Delimiter)
	if len(tokens) < cfg.FieldCount {
		return nil, fmt.Errorf("not enough delimiters in key %q to populate %d fields", key, cfg.FieldCount)
	}

	tail := cfg.FieldCount - cfg.AnchorIndex - 1
	middleEnd := len(tokens) - tail

	components := make([]string, 0, cfg.FieldCount)
	components = append(components, tokens[:cfg.AnchorIndex]...)
	components = append(components, strings.Join(tokens[cfg.AnchorIndex:middleEnd], "-"))
	components = append(components, tokens[middleEnd:]...)
	return components, nil
}
