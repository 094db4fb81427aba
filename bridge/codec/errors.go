package codec

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaViolation = errors.New("schema violation")
	ErrConversion      = errors.New("conversion error")
	ErrUnsupported     = errors.New("unsupported message")
)

// SchemaViolation is a structural problem with an inbound payload: a missing,
// extra or wrongly shaped field. Index is the position in the commands array, or -1.
type SchemaViolation struct {
	Field  string
	Index  int
	Reason string
}

func (e *SchemaViolation) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("schema violation at %s[%d]: %s", e.Field, e.Index, e.Reason)
	}
	if e.Field == "" {
		return "schema violation: " + e.Reason
	}
	return fmt.Sprintf("schema violation at %s: %s", e.Field, e.Reason)
}

func (e *SchemaViolation) Is(target error) bool {
	return target == ErrSchemaViolation
}

// ConversionError is a structurally valid value that fails a semantic constraint.
type ConversionError struct {
	Field  string
	Index  int
	Value  string
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("cannot convert %s[%d]=%s: %s", e.Field, e.Index, e.Value, e.Reason)
	}
	return fmt.Sprintf("cannot convert %s=%s: %s", e.Field, e.Value, e.Reason)
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}

func schemaErr(field string, index int, format string, args ...interface{}) *SchemaViolation {
	return &SchemaViolation{Field: field, Index: index, Reason: fmt.Sprintf(format, args...)}
}
