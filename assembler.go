package metaform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// ExtractJSON locates the JSON block in a model response. The first fenced
// object block wins, then the first fenced array block; otherwise the first balanced {...}
// span is used. ok is false when neither exists.
func ExtractJSON(raw string) (block string, ok bool) {
	if b, ok := fencedJSON(raw); ok {
		return b, true
	}
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	for s := start; s >= 0; {
		if end := balancedEnd(raw, s); end > 0 {
			return raw[s:end], true
		}
		next := strings.IndexByte(raw[s+1:], '{')
		if next < 0 {
			break
		}
		s += next + 1
	}
	// unbalanced: take the widest span and let the decoder report why
	if end := strings.LastIndexByte(raw, '}'); end > start {
		return raw[start : end+1], true
	}
	return "", false
}

// fencedJSON returns the first fenced block holding an object, or failing
// that the first one holding an array.
func fencedJSON(raw string) (string, bool) {
	var array string
	rest := raw
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			break
		}
		body := rest[open+3:]
		nl := strings.IndexByte(body, '\n')
		if nl < 0 {
			break
		}
		// language tag, e.g. ```json
		body = body[nl+1:]
		closing := strings.Index(body, "```")
		if closing < 0 {
			break
		}
		block := strings.TrimSpace(body[:closing])
		if strings.HasPrefix(block, "{") {
			return block, true
		}
		if array == "" && strings.HasPrefix(block, "[") {
			array = block
		}
		rest = body[closing+3:]
	}
	return array, array != ""
}

// balancedEnd returns the index just past the brace closing the one at
// start, or -1. Braces inside strings are ignored.
func balancedEnd(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// ParseResponse extracts and decodes the JSON object in a model response.
// Numbers are kept as json.Number.
func ParseResponse(raw string) (map[string]any, error) {
	block, ok := ExtractJSON(raw)
	if !ok {
		return nil, &NoJSONFoundError{Raw: raw}
	}
	dec := json.NewDecoder(strings.NewReader(block))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &InvalidJSONError{Raw: raw, Block: block, Err: err}
	}
	if dec.More() {
		return nil, &InvalidJSONError{Raw: raw, Block: block, Err: errors.New("unexpected data after JSON value")}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &InvalidJSONError{Raw: raw, Block: block, Err: fmt.Errorf("top-level JSON value is %s, want object", jsonKind(v))}
	}
	return obj, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// Assembly is the assembled result of one request.
type Assembly struct {
	Data     map[string]any
	Warnings []error  // *SchemaMismatchError and similar non-fatal findings
	Missing  []string // schema paths owned by units that failed
	Failed   []string // labels of the units that failed
}

// Assembler turns raw model responses into one result shaped like the schema.
type Assembler struct {
	schema       *Schema
	validator    *validator
	allowPartial bool
	log          *slog.Logger
}

// NewAssembler creates an assembler for s. With validate set, the assembled
// result is also checked against the full schema.
func NewAssembler(s *Schema, log *slog.Logger, o Options) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	a := &Assembler{schema: s, allowPartial: o.AllowPartial, log: log}
	if o.Validate {
		a.validator = newValidator(s)
	}
	return a
}

// Assemble parses every response and merges the fragments in unit order.
// A unit that failed, or whose response holds no usable JSON, fails the
// assembly unless partial results are allowed, in which case its paths are
// reported in Missing.
func (a *Assembler) Assemble(strategy Strategy, responses []Response) (*Assembly, error) {
	if len(responses) == 0 {
		return nil, errors.New("no responses to assemble")
	}
	ordered := make([]Response, len(responses))
	copy(ordered, responses)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Unit.Index < ordered[j].Unit.Index })

	out := &Assembly{Data: map[string]any{}}
	var errs []error
	for _, r := range ordered {
		err := r.Err
		var frag map[string]any
		if err == nil {
			frag, err = ParseResponse(r.Raw)
			err = withUnit(err, r.Unit.Label())
		}
		if err != nil {
			a.log.Debug("Unit not assembled", "unit", r.Unit.Label(), "error", err)
			errs = append(errs, err)
			out.Failed = append(out.Failed, r.Unit.Label())
			out.Missing = append(out.Missing, r.Unit.Paths...)
			continue
		}
		if strategy == DirectPrompt {
			out.Data = frag
			continue
		}
		out.Data = deepMerge(a.schema, out.Data, frag)
	}

	if len(errs) > 0 && (!a.allowPartial || len(errs) == len(ordered)) {
		return nil, errors.Join(errs...)
	}
	out.Missing = dedupe(out.Missing)
	if err := a.check(out.Data); err != nil {
		out.Warnings = append(out.Warnings, err)
	}
	a.log.Debug("Assembled result", "strategy", strategy, "units", len(ordered), "failed", len(out.Failed), "warnings", len(out.Warnings))
	return out, nil
}

// check compares the top-level shape of data with the schema. Required fields
// are expected when the schema names any, every top-level field otherwise.
func (a *Assembler) check(data map[string]any) error {
	var required, all []string
	known := map[string]bool{}
	for _, f := range a.schema.Root.Fields {
		known[f.Name] = true
		all = append(all, f.Name)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	if len(required) == 0 {
		required = all
	}

	mismatch := &SchemaMismatchError{}
	for _, name := range required {
		if _, ok := data[name]; !ok {
			mismatch.Missing = append(mismatch.Missing, name)
		}
	}
	for key := range data {
		if !known[key] {
			mismatch.Unexpected = append(mismatch.Unexpected, key)
		}
	}
	sort.Strings(mismatch.Unexpected)
	if a.validator != nil {
		mismatch.Cause = a.validator.validate(data)
	}
	if len(mismatch.Missing) == 0 && len(mismatch.Unexpected) == 0 && mismatch.Cause == nil {
		return nil
	}
	return mismatch
}

// withUnit tags a response error with the unit it came from.
func withUnit(err error, label string) error {
	var noJSON *NoJSONFoundError
	var invalid *InvalidJSONError
	switch {
	case errors.As(err, &noJSON):
		noJSON.Unit = label
	case errors.As(err, &invalid):
		invalid.Unit = label
	}
	return err
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// MarshalResult renders a result as indented JSON with a trailing newline.
func MarshalResult(data map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
