// Package ruleyaml decodes rule files written in YAML or JSON while
// preserving mapping order.
//
// Rule semantics depend on document order: the position of a pattern in
// a resolver mapping becomes its automaton pattern id, and fields are
// applied in the order the rule lists them. Go maps discard that order,
// so ordered mappings decode through yaml.Node into pair slices. JSON
// rule files parse through the same path, JSON being a subset of YAML.
package ruleyaml

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Pair is one entry of an order-preserving mapping with a string value.
type Pair struct {
	Key   string
	Value string
}

// OrderedMap is a YAML mapping decoded in document order with string
// values. A key repeated in the source keeps its first position and the
// last value.
type OrderedMap []Pair

// UnmarshalYAML decodes a mapping node into ordered pairs.
func (m *OrderedMap) UnmarshalYAML(node *yaml.Node) error {
	keys, values, err := mappingNodes(node)
	if err != nil {
		return err
	}

	pairs := make([]Pair, 0, len(keys))
	index := make(map[string]int, len(keys))
	for i, key := range keys {
		var value string
		if err := values[i].Decode(&value); err != nil {
			return fmt.Errorf("value of %q: %w", key, err)
		}
		if at, ok := index[key]; ok {
			pairs[at].Value = value
			continue
		}
		index[key] = len(pairs)
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	*m = pairs
	return nil
}

// Get returns the value stored under key.
func (m OrderedMap) Get(key string) (string, bool) {
	for _, pair := range m {
		if pair.Key == key {
			return pair.Value, true
		}
	}
	return "", false
}

// Keys returns the keys in document order.
func (m OrderedMap) Keys() []string {
	keys := make([]string, len(m))
	for i, pair := range m {
		keys[i] = pair.Key
	}
	return keys
}

// Values returns the values in document order.
func (m OrderedMap) Values() []string {
	values := make([]string, len(m))
	for i, pair := range m {
		values[i] = pair.Value
	}
	return values
}

// AnyPair is one entry of an order-preserving mapping with an arbitrary
// value.
type AnyPair struct {
	Key   string
	Value any
}

// OrderedAnyMap is a YAML mapping decoded in document order with
// arbitrary values, such as the additions of an adder rule.
type OrderedAnyMap []AnyPair

// UnmarshalYAML decodes a mapping node into ordered pairs.
func (m *OrderedAnyMap) UnmarshalYAML(node *yaml.Node) error {
	keys, values, err := mappingNodes(node)
	if err != nil {
		return err
	}

	pairs := make([]AnyPair, 0, len(keys))
	index := make(map[string]int, len(keys))
	for i, key := range keys {
		var value any
		if err := values[i].Decode(&value); err != nil {
			return fmt.Errorf("value of %q: %w", key, err)
		}
		if at, ok := index[key]; ok {
			pairs[at].Value = value
			continue
		}
		index[key] = len(pairs)
		pairs = append(pairs, AnyPair{Key: key, Value: value})
	}
	*m = pairs
	return nil
}

// Keys returns the keys in document order.
func (m OrderedAnyMap) Keys() []string {
	keys := make([]string, len(m))
	for i, pair := range m {
		keys[i] = pair.Key
	}
	return keys
}

// Values returns the values in document order, so that a value's index
// matches its key's position.
func (m OrderedAnyMap) Values() []any {
	values := make([]any, len(m))
	for i, pair := range m {
		values[i] = pair.Value
	}
	return values
}

// mappingNodes splits a mapping node into its key strings and value
// nodes.
func mappingNodes(node *yaml.Node) ([]string, []*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, nil, errors.New("expected a mapping")
	}

	count := len(node.Content) / 2
	keys := make([]string, 0, count)
	values := make([]*yaml.Node, 0, count)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, nil, fmt.Errorf("mapping key at line %d is not a scalar", keyNode.Line)
		}
		keys = append(keys, keyNode.Value)
		values = append(values, node.Content[i+1])
	}
	return keys, values, nil
}

// Documents splits rule file content into individual rule mapping
// nodes. A file may hold a YAML stream of documents, a single mapping,
// or a sequence of mappings (the shape of a JSON rule array). Empty
// documents are skipped.
func Documents(data []byte) ([]*yaml.Node, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var nodes []*yaml.Node
	for {
		var doc yaml.Node
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		content := &doc
		if content.Kind == yaml.DocumentNode {
			if len(content.Content) == 0 {
				continue
			}
			content = content.Content[0]
		}
		if isNull(content) {
			continue
		}

		if content.Kind == yaml.SequenceNode {
			for i, item := range content.Content {
				if isNull(item) {
					continue
				}
				if item.Kind != yaml.MappingNode {
					return nil, fmt.Errorf("rule %d is not a mapping", i)
				}
				nodes = append(nodes, item)
			}
			continue
		}

		if content.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("rule document at line %d is not a mapping", content.Line)
		}
		nodes = append(nodes, content)
	}

	return nodes, nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null")
}
