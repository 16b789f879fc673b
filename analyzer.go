package metaform

import "fmt"

// Metrics are the structural measurements of a schema that drive strategy
// selection.
type Metrics struct {
	NumFields int     `json:"numFields" yaml:"num_fields"`
	Depth     int     `json:"depth" yaml:"depth"`
	NumEnums  int     `json:"numEnums" yaml:"num_enums"`
	Score     float64 `json:"score" yaml:"score"`
}

func (m Metrics) String() string {
	return fmt.Sprintf("fields=%d depth=%d enums=%d score=%.2f", m.NumFields, m.Depth, m.NumEnums, m.Score)
}

// ComplexityScore combines the metrics: fields + 5*depth + 0.01*enums.
func ComplexityScore(numFields, depth, numEnums int) float64 {
	return float64(numFields) + 5*float64(depth) + float64(numEnums)/100
}

// Analyze walks the whole field tree of s. Each property counts once,
// including properties of array item objects; primitive array items are not
// fields of their own. An array whose items are enumerated counts as an enum.
func Analyze(s *Schema) Metrics {
	var m Metrics
	var walk func(f *Field)
	walk = func(f *Field) {
		for _, c := range f.Fields {
			m.NumFields++
			if c.Depth > m.Depth {
				m.Depth = c.Depth
			}
			if c.Type == TypeEnum || (c.Type == TypeArray && c.Items != nil && c.Items.Type == TypeEnum) {
				m.NumEnums++
			}
			walk(c)
		}
		if f.Items != nil {
			walk(f.Items)
		}
	}
	walk(s.Root)
	m.Score = ComplexityScore(m.NumFields, m.Depth, m.NumEnums)
	return m
}

// AnalyzeBytes parses and analyzes a schema document in one step.
func AnalyzeBytes(data []byte) (*Schema, Metrics, error) {
	s, err := ParseSchema(data)
	if err != nil {
		return nil, Metrics{}, err
	}
	return s, Analyze(s), nil
}
