package metaform

import (
	"errors"
	"fmt"
	"sort"
)

// PlanNodeType defines the type of operation a node represents.
type PlanNodeType string

const (
	SchemaAnalysisType PlanNodeType = "SchemaAnalysis"
	PromptCallType     PlanNodeType = "PromptCall"
	MergeFragmentsType PlanNodeType = "MergeFragments"
)

// PlanNode represents a node in an extraction plan.
// Children and Metadata should not be modified after the plan is built.
type PlanNode struct {
	Type         PlanNodeType   `json:"type"`                   // e.g. "SchemaAnalysis", "PromptCall", ...
	PromptName   string         `json:"promptName,omitempty"`   // unit label, e.g. "chunk 1/3"
	Model        string         `json:"model,omitempty"`        // LLM model used (if applicable)
	Fields       []string       `json:"fields,omitempty"`       // schema paths covered at this node
	InputTokens  int            `json:"inputTokens,omitempty"`  // estimated prompt size in tokens
	OutputTokens int            `json:"outputTokens,omitempty"` // estimated response size in tokens
	EstCost      float64        `json:"estCost"`                // abstract cost units, children included
	ActCost      *float64       `json:"actCost,omitempty"`      // USD, when pricing is known
	Children     []*PlanNode    `json:"children,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	// Summary information (populated for root nodes)
	ExpectedModels     []string       `json:"expectedModels,omitempty"`
	ExpectedCallCounts map[string]int `json:"expectedCallCounts,omitempty"`
}

// ModelPrice represents the pricing for a specific model.
type ModelPrice struct {
	PromptTokCost     float64 // Cost per 1000 input tokens
	CompletionTokCost float64 // Cost per 1000 output tokens
}

// FormatType represents different output formats for the plan.
type FormatType string

const (
	FormatText     FormatType = "text"
	FormatJSON     FormatType = "json"
	FormatGraphviz FormatType = "dot"
)

// PlanBuilder constructs a plan from the artifacts of a dry run.
// It is not safe for concurrent use.
type PlanBuilder struct {
	metrics    Metrics
	strategy   Strategy
	units      []PromptUnit
	model      string
	hasMetrics bool
}

// NewPlanBuilder creates a new plan builder.
func NewPlanBuilder() *PlanBuilder {
	return &PlanBuilder{}
}

// WithMetrics sets the schema metrics and the strategy they selected.
func (pb *PlanBuilder) WithMetrics(m Metrics, s Strategy) *PlanBuilder {
	pb.metrics, pb.strategy, pb.hasMetrics = m, s, true
	return pb
}

// WithUnits sets the prompt units the plan will issue.
func (pb *PlanBuilder) WithUnits(units []PromptUnit) *PlanBuilder {
	pb.units = units
	return pb
}

// WithModel sets the model every prompt call uses.
func (pb *PlanBuilder) WithModel(model string) *PlanBuilder {
	pb.model = model
	return pb
}

// Explain generates the plan with abstract cost estimates.
func (pb *PlanBuilder) Explain() (*PlanNode, error) {
	return pb.buildPlan(nil)
}

// ExplainWithCosts generates the plan with USD estimates from pricing.
func (pb *PlanBuilder) ExplainWithCosts(pricing map[string]ModelPrice) (*PlanNode, error) {
	if pricing == nil {
		return nil, errors.New("pricing information is required for cost calculations")
	}
	return pb.buildPlan(pricing)
}

// ExplainPretty returns the plan rendered in format.
func (pb *PlanBuilder) ExplainPretty(format FormatType) (string, error) {
	plan, err := pb.Explain()
	if err != nil {
		return "", err
	}
	return pb.FormatPlan(plan, format)
}

// FormatPlan formats a plan according to the specified format.
func (pb *PlanBuilder) FormatPlan(plan *PlanNode, format FormatType) (string, error) {
	switch format {
	case FormatText:
		return pb.formatAsText(plan), nil
	case FormatJSON:
		return pb.formatAsJSON(plan)
	case FormatGraphviz:
		return pb.formatAsGraphviz(plan), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func (pb *PlanBuilder) buildPlan(pricing map[string]ModelPrice) (*PlanNode, error) {
	if !pb.hasMetrics {
		return nil, ErrMissingSchema
	}
	if len(pb.units) == 0 {
		return nil, errors.New("plan has no prompt units")
	}

	root := &PlanNode{
		Type:   SchemaAnalysisType,
		Fields: pb.units[0].Paths,
		Metadata: map[string]any{
			"numFields":   pb.metrics.NumFields,
			"depth":       pb.metrics.Depth,
			"numEnums":    pb.metrics.NumEnums,
			"score":       pb.metrics.Score,
			"strategy":    pb.strategy.String(),
			"description": pb.strategy.Description(),
		},
	}
	if pb.strategy == IterativeStitching {
		root.Metadata["sequential"] = true
	}

	var covered []string
	for _, u := range pb.units {
		node := &PlanNode{
			Type:         PromptCallType,
			PromptName:   u.Label(),
			Model:        pb.model,
			Fields:       u.Paths,
			InputTokens:  EstimateTokensFromText(u.Prompt),
			OutputTokens: estimateOutputTokens(u),
			Metadata:     map[string]any{"target": string(u.Target)},
		}
		root.Children = append(root.Children, node)
		covered = append(covered, u.Paths...)
	}
	if pb.strategy != DirectPrompt {
		root.Children = append(root.Children, &PlanNode{
			Type:   MergeFragmentsType,
			Fields: dedupe(covered),
		})
	} else {
		root.Fields = covered
	}

	calculateCosts(root, pricing)
	populateSummaryInfo(root)
	return root, nil
}

// estimateOutputTokens assumes a filled-in result is about half the size of
// the schema it follows.
func estimateOutputTokens(u PromptUnit) int {
	return (EstimateTokensFromText(u.Fragment) + 1) / 2
}

// calculateCosts fills EstCost bottom-up and ActCost where pricing is known.
func calculateCosts(node *PlanNode, pricing map[string]ModelPrice) {
	childrenCost := 0.0
	for _, child := range node.Children {
		calculateCosts(child, pricing)
		childrenCost += child.EstCost
	}
	node.EstCost = nodeCost(node) + childrenCost

	if pricing == nil {
		return
	}
	if node.Type == PromptCallType {
		if price, ok := pricing[node.Model]; ok {
			cost := float64(node.InputTokens)*price.PromptTokCost/1000.0 +
				float64(node.OutputTokens)*price.CompletionTokCost/1000.0
			node.ActCost = &cost
		}
		return
	}
	total, priced := 0.0, false
	for _, child := range node.Children {
		if child.ActCost != nil {
			total += *child.ActCost
			priced = true
		}
	}
	if priced {
		node.ActCost = &total
	}
}

// nodeCost calculates the abstract cost for a single node.
func nodeCost(node *PlanNode) float64 {
	switch node.Type {
	case SchemaAnalysisType:
		return 1.0 + float64(len(node.Fields))*0.5
	case PromptCallType:
		return 3.0 + float64(node.InputTokens)*0.01
	case MergeFragmentsType:
		return 0.5 + float64(len(node.Fields))*0.1
	default:
		return 1.0
	}
}

// populateSummaryInfo collects expected models and call counts on the root.
func populateSummaryInfo(root *PlanNode) {
	callCounts := make(map[string]int)
	var collect func(*PlanNode)
	collect = func(node *PlanNode) {
		if node.Type == PromptCallType && node.Model != "" {
			callCounts[node.Model]++
		}
		for _, child := range node.Children {
			collect(child)
		}
	}
	collect(root)

	models := make([]string, 0, len(callCounts))
	for model := range callCounts {
		models = append(models, model)
	}
	sort.Strings(models)
	root.ExpectedModels = models
	root.ExpectedCallCounts = callCounts
}

// DefaultModelPricing returns input/output token costs (USD per 1K tokens).
func DefaultModelPricing() map[string]ModelPrice {
	return map[string]ModelPrice{
		// OpenAI
		"gpt-4o":        {PromptTokCost: 0.0050, CompletionTokCost: 0.0200},
		"gpt-4o-mini":   {PromptTokCost: 0.0006, CompletionTokCost: 0.0024},
		"gpt-4.1":       {PromptTokCost: 0.0020, CompletionTokCost: 0.0080},
		"gpt-4.1-mini":  {PromptTokCost: 0.0004, CompletionTokCost: 0.0016},
		"gpt-3.5-turbo": {PromptTokCost: 0.0005, CompletionTokCost: 0.0015},

		// Google Gemini
		"gemini-2.5-pro":   {PromptTokCost: 0.00125, CompletionTokCost: 0.0100},
		"gemini-2.5-flash": {PromptTokCost: 0.00030, CompletionTokCost: 0.0025},
		"gemini-2.0-flash": {PromptTokCost: 0.00015, CompletionTokCost: 0.0006},
		"gemini-1.5-pro":   {PromptTokCost: 0.00125, CompletionTokCost: 0.0050},

		// OpenRouter
		"mistralai/mistral-7b-instruct": {PromptTokCost: 0.000028, CompletionTokCost: 0.000054},
		"openai/gpt-4o-mini":            {PromptTokCost: 0.00015, CompletionTokCost: 0.0006},
	}
}

// EstimateTokensFromText provides a rough token estimate from text length.
func EstimateTokensFromText(text string) int {
	// ~4 characters per token for English text
	return (len(text) + 3) / 4
}
