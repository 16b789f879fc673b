package metaform

import (
	"encoding/json"
	"fmt"
)

// Strategy is the extraction plan chosen for a schema.
type Strategy int

const (
	// DirectPrompt sends the full schema and text in a single call.
	DirectPrompt Strategy = iota
	// ChunkedInput splits the schema or the text into independent calls.
	ChunkedInput
	// IterativeStitching extracts sub-schemas in sequence, feeding each step
	// the results confirmed so far.
	IterativeStitching
)

const (
	chunkedThreshold   = 100.0
	iterativeThreshold = 200.0
)

// SelectStrategy maps a complexity score to a strategy. Both thresholds are
// inclusive on the chunked side.
func SelectStrategy(score float64) Strategy {
	switch {
	case score < chunkedThreshold:
		return DirectPrompt
	case score <= iterativeThreshold:
		return ChunkedInput
	default:
		return IterativeStitching
	}
}

func (s Strategy) String() string {
	switch s {
	case DirectPrompt:
		return "direct"
	case ChunkedInput:
		return "chunked"
	case IterativeStitching:
		return "iterative"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Description is the human-readable recommendation shown next to the metrics.
func (s Strategy) Description() string {
	switch s {
	case DirectPrompt:
		return "Direct prompt, no schema splitting"
	case ChunkedInput:
		return "Chunked schema or input, 2-3 LLM calls"
	case IterativeStitching:
		return "Chunk schema & input, iterative stitching"
	}
	return s.String()
}

// ParseStrategy is the inverse of String.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "direct":
		return DirectPrompt, nil
	case "chunked":
		return ChunkedInput, nil
	case "iterative":
		return IterativeStitching, nil
	}
	return 0, fmt.Errorf("unknown strategy %q", name)
}

func (s Strategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Strategy) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	v, err := ParseStrategy(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
