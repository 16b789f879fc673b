package metaform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dryRun(t *testing.T, optFns ...func(*Options)) *Result {
	t.Helper()
	res, err := New(nil, quietLogger()).DryRun(MustParseSchema([]byte(invoiceSchema)), invoiceText, optFns...)
	require.NoError(t, err)
	return res
}

func TestPlanBuilder_Direct(t *testing.T) {
	res := dryRun(t)
	plan, err := NewPlanBuilder().WithMetrics(res.Metrics, res.Strategy).WithUnits(res.Units).WithModel("gpt-4o").Explain()
	require.NoError(t, err)

	assert.Equal(t, SchemaAnalysisType, plan.Type)
	assert.Equal(t, "direct", plan.Metadata["strategy"])
	assert.Equal(t, 9, plan.Metadata["numFields"])
	assert.NotContains(t, plan.Metadata, "sequential")
	require.Len(t, plan.Children, 1, "direct plans have no merge step")

	call := plan.Children[0]
	assert.Equal(t, PromptCallType, call.Type)
	assert.Equal(t, "prompt", call.PromptName)
	assert.Equal(t, EstimateTokensFromText(res.Units[0].Prompt), call.InputTokens)
	assert.Greater(t, call.OutputTokens, 0)
	assert.Nil(t, call.ActCost, "no pricing without ExplainWithCosts")

	assert.Equal(t, []string{"gpt-4o"}, plan.ExpectedModels)
	assert.Equal(t, map[string]int{"gpt-4o": 1}, plan.ExpectedCallCounts)
	assert.InDelta(t, nodeCost(plan)+call.EstCost, plan.EstCost, 1e-9)
}

func TestPlanBuilder_ChunkedWithCosts(t *testing.T) {
	res := dryRun(t, WithStrategy(ChunkedInput))
	pb := NewPlanBuilder().WithMetrics(res.Metrics, res.Strategy).WithUnits(res.Units).WithModel("gpt-4o-mini")
	plan, err := pb.ExplainWithCosts(DefaultModelPricing())
	require.NoError(t, err)

	require.Len(t, plan.Children, len(res.Units)+1)
	merge := plan.Children[len(plan.Children)-1]
	assert.Equal(t, MergeFragmentsType, merge.Type)
	assert.Equal(t, res.Units[0].Paths, merge.Fields[:len(res.Units[0].Paths)])

	total := 0.0
	for _, c := range plan.Children[:len(res.Units)] {
		require.NotNil(t, c.ActCost)
		total += *c.ActCost
	}
	require.NotNil(t, plan.ActCost)
	assert.InDelta(t, total, *plan.ActCost, 1e-12)
	assert.Equal(t, len(res.Units), plan.ExpectedCallCounts["gpt-4o-mini"])

	_, err = pb.ExplainWithCosts(nil)
	assert.EqualError(t, err, "pricing information is required for cost calculations")
}

func TestPlanBuilder_UnknownModelHasNoPrice(t *testing.T) {
	res := dryRun(t)
	plan, err := NewPlanBuilder().WithMetrics(res.Metrics, res.Strategy).WithUnits(res.Units).WithModel("local-llm").ExplainWithCosts(DefaultModelPricing())
	require.NoError(t, err)
	assert.Nil(t, plan.ActCost)
	assert.Nil(t, plan.Children[0].ActCost)
}

func TestPlanBuilder_Iterative(t *testing.T) {
	res := dryRun(t, WithStrategy(IterativeStitching))
	plan, err := NewPlanBuilder().WithMetrics(res.Metrics, res.Strategy).WithUnits(res.Units).Explain()
	require.NoError(t, err)

	assert.Equal(t, true, plan.Metadata["sequential"])
	assert.Equal(t, "step 1/5", plan.Children[0].PromptName)
	assert.Empty(t, plan.ExpectedModels, "no model configured")
}

func TestPlanBuilder_Errors(t *testing.T) {
	_, err := NewPlanBuilder().Explain()
	assert.ErrorIs(t, err, ErrMissingSchema)

	_, err = NewPlanBuilder().WithMetrics(Metrics{}, DirectPrompt).Explain()
	assert.EqualError(t, err, "plan has no prompt units")
}

func TestPlanBuilder_Formats(t *testing.T) {
	res := dryRun(t, WithStrategy(ChunkedInput))
	pb := NewPlanBuilder().WithMetrics(res.Metrics, res.Strategy).WithUnits(res.Units).WithModel("gpt-4o")

	text, err := pb.ExplainPretty(FormatText)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	assert.Equal(t, "Metaform Extraction Plan (estimated costs)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "SchemaAnalysis (score=19.01, strategy=chunked"), lines[1])
	assert.Contains(t, text, `├─ PromptCall "chunk 1/2" (model=gpt-4o`)
	assert.Contains(t, text, "└─ MergeFragments")

	out, err := pb.ExplainPretty(FormatJSON)
	require.NoError(t, err)
	var decoded PlanNode
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, SchemaAnalysisType, decoded.Type)
	assert.Len(t, decoded.Children, 3)

	dot, err := pb.ExplainPretty(FormatGraphviz)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dot, "digraph ExtractionPlan {"))
	assert.Contains(t, dot, "->")

	_, err = pb.ExplainPretty("yaml")
	assert.EqualError(t, err, "unsupported format: yaml")
}

func TestEstimateTokensFromText(t *testing.T) {
	assert.Equal(t, 0, EstimateTokensFromText(""))
	assert.Equal(t, 1, EstimateTokensFromText("abc"))
	assert.Equal(t, 1, EstimateTokensFromText("abcd"))
	assert.Equal(t, 2, EstimateTokensFromText("abcde"))
}
