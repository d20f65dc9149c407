package logprep

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes enrichment errors.
type ErrorKind int

const (
	// ErrRuleDefinition indicates a rule file or rule failed validation.
	ErrRuleDefinition ErrorKind = iota
	// ErrCompilation indicates pattern compilation failed.
	ErrCompilation
	// ErrTemplateFormat indicates a template file or its key partition
	// is invalid.
	ErrTemplateFormat
	// ErrPersistence indicates loading or saving a pattern database
	// failed. A missing database file is a cache miss, never an error.
	ErrPersistence
	// ErrConfiguration indicates the pipeline configuration is invalid.
	ErrConfiguration
	// ErrConnector indicates an input or output transport failed.
	ErrConnector
)

func (k ErrorKind) String() string {
	switch k {
	case ErrRuleDefinition:
		return "invalid rule"
	case ErrCompilation:
		return "compilation error"
	case ErrTemplateFormat:
		return "template format error"
	case ErrPersistence:
		return "persistence error"
	case ErrConfiguration:
		return "configuration error"
	case ErrConnector:
		return "connector error"
	default:
		return "unknown error"
	}
}

// Error represents an error in enrichment operations.
type Error struct {
	Kind      ErrorKind
	Processor string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Processor != "" {
		fmt.Fprintf(&b, ": %s", e.Processor)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(kind ErrorKind, processor, message string) *Error {
	return &Error{Kind: kind, Processor: processor, Message: message}
}

// WrapError creates a new Error wrapping an existing error.
func WrapError(kind ErrorKind, processor, message string, cause error) *Error {
	return &Error{Kind: kind, Processor: processor, Message: message, Cause: cause}
}

// IsRuleDefinition returns true if the error is a rule definition error.
func IsRuleDefinition(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrRuleDefinition
}

// IsCompilation returns true if the error is a compilation error.
func IsCompilation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrCompilation
}

// IsTemplateFormat returns true if the error is a template format error.
func IsTemplateFormat(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrTemplateFormat
}

// IsPersistence returns true if the error is a persistence error.
func IsPersistence(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrPersistence
}

// IsConfiguration returns true if the error is a configuration error.
func IsConfiguration(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrConfiguration
}

// IsConnector returns true if the error is a connector error.
func IsConnector(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrConnector
}

// DuplicationError reports event fields that already existed and were
// therefore left untouched. Processors collect every conflicting path
// of an event before raising it, so one error names them all. It is a
// per-event warning: the event remains usable and all non-conflicting
// writes of the rule have been applied.
type DuplicationError struct {
	Processor string
	Fields    []string
}

func (e *DuplicationError) Error() string {
	return fmt.Sprintf("%s: the following fields already existed and were not overwritten: %s",
		e.Processor, strings.Join(e.Fields, " "))
}

// IsDuplication returns true if the error is a DuplicationError.
func IsDuplication(err error) bool {
	var e *DuplicationError
	return errors.As(err, &e)
}
