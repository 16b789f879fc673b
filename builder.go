package metaform

import (
	"fmt"
	"math"
	"strings"
)

// Target names what a prompt unit covers.
type Target string

const (
	TargetFull   Target = "full"   // whole schema, whole text
	TargetSchema Target = "schema" // a group of top-level fields, whole text
	TargetText   Target = "text"   // whole schema, a slice of the text
	TargetStep   Target = "step"   // one stitching sub-schema
)

// PromptUnit is one prompt exactly as it is submitted, plus what it targets.
type PromptUnit struct {
	Strategy Strategy `json:"strategy"`
	Index    int      `json:"index"` // zero-based position in the sequence
	Total    int      `json:"total"`
	Target   Target   `json:"target"`
	Paths    []string `json:"paths"`    // schema paths the unit extracts
	Fragment string   `json:"fragment"` // schema (or sub-schema) embedded in the prompt
	Prompt   string   `json:"prompt"`
}

// Label identifies the unit in logs and errors.
func (u PromptUnit) Label() string {
	switch u.Target {
	case TargetSchema, TargetText:
		return fmt.Sprintf("chunk %d/%d", u.Index+1, u.Total)
	case TargetStep:
		return fmt.Sprintf("step %d/%d", u.Index+1, u.Total)
	}
	return "prompt"
}

// Builder turns a strategy, a schema and document text into prompt units.
// It is pure: the same inputs always give byte-identical prompts.
type Builder struct {
	prompts   ContextualPromptProvider
	budget    int
	minChunks int
}

// NewBuilder creates a builder from request options. A nil prompt provider
// selects the embedded templates.
func NewBuilder(o Options) (*Builder, error) {
	o.applyDefaults()
	var prompts ContextualPromptProvider
	if o.Prompts != nil {
		prompts = contextual(o.Prompts)
	} else {
		p, err := DefaultPromptProvider()
		if err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		prompts = p
	}
	return &Builder{prompts: prompts, budget: o.TokenBudget, minChunks: o.MinChunks}, nil
}

// Build returns every unit for the strategy. For IterativeStitching it
// returns a preview of the sequence in which no step carries prior results;
// use Stitching to build steps against real results.
func (b *Builder) Build(strategy Strategy, s *Schema, text string) ([]PromptUnit, error) {
	if err := checkInputs(s, text); err != nil {
		return nil, err
	}
	switch strategy {
	case DirectPrompt:
		u, err := b.direct(s, text)
		if err != nil {
			return nil, err
		}
		return []PromptUnit{u}, nil
	case ChunkedInput:
		return b.chunked(s, text)
	case IterativeStitching:
		seq, err := b.Stitching(s, text)
		if err != nil {
			return nil, err
		}
		units := make([]PromptUnit, 0, seq.Len())
		for k := 0; k < seq.Len(); k++ {
			u, err := seq.Unit(k, nil)
			if err != nil {
				return nil, err
			}
			units = append(units, u)
		}
		return units, nil
	}
	return nil, fmt.Errorf("unknown strategy %v", strategy)
}

func checkInputs(s *Schema, text string) error {
	if s == nil {
		return ErrMissingSchema
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyDocument
	}
	return nil
}

func (b *Builder) direct(s *Schema, text string) (PromptUnit, error) {
	u := PromptUnit{
		Strategy: DirectPrompt,
		Total:    1,
		Target:   TargetFull,
		Paths:    s.TopLevel(),
		Fragment: s.JSON(),
	}
	prompt, err := b.prompts.Render(TagDirect, map[string]any{
		"schema":   u.Fragment,
		"document": text,
		"strategy": DirectPrompt.String(),
	})
	if err != nil {
		return PromptUnit{}, err
	}
	u.Prompt = prompt
	return u, nil
}

// chunked splits whichever of schema and text is larger. A schema with a
// single top-level field cannot be split, so the text is.
func (b *Builder) chunked(s *Schema, text string) ([]PromptUnit, error) {
	full := s.JSON()
	schemaTokens := EstimateTokensFromText(full)
	textTokens := EstimateTokensFromText(text)

	if schemaTokens >= textTokens && len(s.Root.Fields) >= 2 {
		groups := schemaChunks(s, b.chunkCount(schemaTokens))
		units := make([]PromptUnit, 0, len(groups))
		for i, g := range groups {
			u := PromptUnit{
				Strategy: ChunkedInput,
				Index:    i,
				Total:    len(groups),
				Target:   TargetSchema,
				Paths:    fieldPaths(g),
				Fragment: marshalIndent(s.fragment(g)),
			}
			prompt, err := b.prompts.Render(TagChunkSchema, map[string]any{
				"schema":   u.Fragment,
				"document": text,
				"index":    i + 1,
				"total":    len(groups),
				"fields":   strings.Join(u.Paths, ", "),
				"strategy": ChunkedInput.String(),
			})
			if err != nil {
				return nil, err
			}
			u.Prompt = prompt
			units = append(units, u)
		}
		return units, nil
	}

	parts := splitText(text, b.chunkCount(textTokens))
	units := make([]PromptUnit, 0, len(parts))
	for i, part := range parts {
		u := PromptUnit{
			Strategy: ChunkedInput,
			Index:    i,
			Total:    len(parts),
			Target:   TargetText,
			Paths:    s.TopLevel(),
			Fragment: full,
		}
		prompt, err := b.prompts.Render(TagChunkText, map[string]any{
			"schema":   full,
			"document": part,
			"index":    i + 1,
			"total":    len(parts),
			"strategy": ChunkedInput.String(),
		})
		if err != nil {
			return nil, err
		}
		u.Prompt = prompt
		units = append(units, u)
	}
	return units, nil
}

// chunkCount is max(MinChunks, ceil(tokens/budget)).
func (b *Builder) chunkCount(tokens int) int {
	n := int(math.Ceil(float64(tokens) / float64(b.budget)))
	if n < b.minChunks {
		n = b.minChunks
	}
	return n
}

// Stitching prepares the ordered stitching sequence for s. Units are built
// on demand so each can embed the results confirmed before it.
func (b *Builder) Stitching(s *Schema, text string) (*StitchSequence, error) {
	if err := checkInputs(s, text); err != nil {
		return nil, err
	}
	return &StitchSequence{b: b, schema: s, text: text, steps: stitchSteps(s, b.budget)}, nil
}

// StitchSequence is the ordered list of stitching steps for one request.
type StitchSequence struct {
	b      *Builder
	schema *Schema
	text   string
	steps  [][]*Field
}

// Len returns the number of steps.
func (q *StitchSequence) Len() int { return len(q.steps) }

// Paths returns the schema paths extracted by step k.
func (q *StitchSequence) Paths(k int) []string { return fieldPaths(q.steps[k]) }

// Unit builds the prompt for step k with prior as the confirmed context.
func (q *StitchSequence) Unit(k int, prior map[string]any) (PromptUnit, error) {
	if k < 0 || k >= len(q.steps) {
		return PromptUnit{}, fmt.Errorf("stitching step %d out of range [0,%d)", k, len(q.steps))
	}
	u := PromptUnit{
		Strategy: IterativeStitching,
		Index:    k,
		Total:    len(q.steps),
		Target:   TargetStep,
		Paths:    fieldPaths(q.steps[k]),
		Fragment: marshalIndent(q.schema.fragment(q.steps[k])),
	}
	confirmed := ""
	if len(prior) > 0 {
		confirmed = marshalIndent(prior)
	}
	prompt, err := q.b.prompts.Render(TagStitch, map[string]any{
		"schema":   u.Fragment,
		"document": q.text,
		"prior":    confirmed,
		"index":    k + 1,
		"total":    len(q.steps),
		"fields":   strings.Join(u.Paths, ", "),
		"strategy": IterativeStitching.String(),
	})
	if err != nil {
		return PromptUnit{}, err
	}
	u.Prompt = prompt
	return u, nil
}
