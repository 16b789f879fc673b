package metaform

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyDocument is returned when the source document is an empty string.
var ErrEmptyDocument = errors.New("document text is empty")
var ErrModelMissing = errors.New("model not specified")
var ErrNoCaller = errors.New("model caller not configured")
var ErrMissingSchema = errors.New("schema is required")

// SchemaParseError reports a schema document that could not be turned into a
// field tree. Path is the dotted schema path of the offending node, empty for
// document-level failures.
type SchemaParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SchemaParseError) Error() string {
	var sb strings.Builder
	sb.WriteString("schema parse")
	if e.Path != "" {
		sb.WriteString(" at ")
		sb.WriteString(e.Path)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *SchemaParseError) Unwrap() error { return e.Err }

// ModelCallError reports a failed call to the model for one prompt unit.
type ModelCallError struct {
	Unit  string // unit label, e.g. "chunk 2/3" or "step 4/6"
	Index int
	Model string
	Err   error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call %s (model %s): %v", e.Unit, e.Model, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// Timeout reports whether the call failed because its deadline expired.
func (e *ModelCallError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// NoJSONFoundError is returned when a model response holds no JSON block.
type NoJSONFoundError struct {
	Unit string
	Raw  string
}

func (e *NoJSONFoundError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("no JSON object found in response (%d bytes)", len(e.Raw))
	}
	return fmt.Sprintf("no JSON object found in response for %s (%d bytes)", e.Unit, len(e.Raw))
}

// InvalidJSONError is returned when the located JSON block does not parse
// into an object. Raw is the full model response, Block the located span.
type InvalidJSONError struct {
	Unit  string
	Raw   string
	Block string
	Err   error
}

func (e *InvalidJSONError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("invalid JSON in response: %v", e.Err)
	}
	return fmt.Sprintf("invalid JSON in response for %s: %v", e.Unit, e.Err)
}

func (e *InvalidJSONError) Unwrap() error { return e.Err }

// SchemaMismatchError describes an assembled result whose shape diverges from
// the schema. It is surfaced as a warning next to the result, not as a failure.
type SchemaMismatchError struct {
	Missing    []string // top-level fields absent from the result
	Unexpected []string // top-level keys the schema does not define
	Cause      error    // detailed validation failure, if validation ran
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected fields "+strings.Join(e.Unexpected, ", "))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return "result does not match schema"
	}
	return "result does not match schema: " + strings.Join(parts, "; ")
}

func (e *SchemaMismatchError) Unwrap() error { return e.Cause }
