// Package dotted reads and writes nested document fields addressed by
// dot-separated paths.
//
// Documents are plain map[string]any trees as produced by decoding JSON
// or YAML. Every path segment addresses a map level; there is no list
// indexing and empty segments are not special-cased.
package dotted

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Mode controls how Put treats an existing terminal value.
type Mode int

const (
	// NoOverwrite refuses to replace an existing terminal value.
	NoOverwrite Mode = iota
	// Overwrite replaces an existing terminal value.
	Overwrite
	// ExtendList appends to a list terminal, creating the list when the
	// terminal is absent. A value already present in the list is not
	// appended again.
	ExtendList
)

// ErrConflict is returned by Put when an existing value blocks the write.
var ErrConflict = errors.New("field exists and cannot be written")

// Get returns the value at the dot-separated path. The boolean is false
// when a segment is missing or a non-map value is reached before the
// final segment.
func Get(doc map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	last := len(segments) - 1
	current := doc
	for _, segment := range segments[:last] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	value, ok := current[segments[last]]
	return value, ok
}

// GetString returns the value at path rendered as a string. Non-string
// terminals are formatted with fmt.Sprint.
func GetString(doc map[string]any, path string) (string, bool) {
	value, ok := Get(doc, path)
	if !ok {
		return "", false
	}
	if s, ok := value.(string); ok {
		return s, true
	}
	return fmt.Sprint(value), true
}

// Exists reports whether the full path can be descended. The terminal
// value may be anything, including nil.
func Exists(doc map[string]any, path string) bool {
	_, ok := Get(doc, path)
	return ok
}

// Put writes value at the dot-separated path, creating intermediate maps
// as needed. An existing non-map value between the root and the terminal
// blocks the write with ErrConflict regardless of mode.
//
// At an existing terminal, NoOverwrite returns ErrConflict, Overwrite
// replaces the value, and ExtendList appends to a []any terminal unless
// the value is already present. ExtendList on a non-list terminal
// returns ErrConflict.
func Put(doc map[string]any, path string, value any, mode Mode) error {
	segments := strings.Split(path, ".")
	last := len(segments) - 1
	current := doc
	for _, segment := range segments[:last] {
		existing, ok := current[segment]
		if !ok {
			next := map[string]any{}
			current[segment] = next
			current = next
			continue
		}
		next, ok := existing.(map[string]any)
		if !ok {
			return ErrConflict
		}
		current = next
	}

	key := segments[last]
	existing, ok := current[key]
	if !ok {
		if mode == ExtendList {
			current[key] = []any{value}
		} else {
			current[key] = value
		}
		return nil
	}

	switch mode {
	case Overwrite:
		current[key] = value
		return nil
	case ExtendList:
		list, ok := existing.([]any)
		if !ok {
			return ErrConflict
		}
		for _, element := range list {
			if reflect.DeepEqual(element, value) {
				return nil
			}
		}
		current[key] = append(list, value)
		return nil
	default:
		return ErrConflict
	}
}
