package metaform

import (
	"fmt"
	"strings"
)

// formatAsText formats the plan as an ASCII tree.
func (pb *PlanBuilder) formatAsText(plan *PlanNode) string {
	var sb strings.Builder
	sb.WriteString("Metaform Extraction Plan (estimated costs)\n")
	pb.formatNodeAsText(plan, "", true, &sb)
	return sb.String()
}

// formatNodeAsText recursively formats a node and its children as text.
func (pb *PlanBuilder) formatNodeAsText(node *PlanNode, prefix string, isLast bool, sb *strings.Builder) {
	connector := "├─ "
	if isLast {
		connector = "└─ "
	}
	if prefix == "" {
		connector = ""
	}
	fmt.Fprintf(sb, "%s%s%s\n", prefix, connector, pb.formatNodeInfo(node))

	childPrefix := prefix
	switch {
	case prefix == "":
		// first level children are indented under the root
		childPrefix = "  "
	case isLast:
		childPrefix += "   "
	default:
		childPrefix += "│  "
	}
	for i, child := range node.Children {
		pb.formatNodeAsText(child, childPrefix, i == len(node.Children)-1, sb)
	}
}

// formatNodeInfo formats information for a single node.
func (pb *PlanBuilder) formatNodeInfo(node *PlanNode) string {
	parts := []string{string(node.Type)}
	if node.PromptName != "" {
		parts = append(parts, fmt.Sprintf(`"%s"`, node.PromptName))
	}

	var details []string
	if node.Type == SchemaAnalysisType && node.Metadata != nil {
		details = append(details, fmt.Sprintf("score=%.2f", node.Metadata["score"]), fmt.Sprintf("strategy=%v", node.Metadata["strategy"]))
	}
	if node.Model != "" {
		details = append(details, fmt.Sprintf("model=%s", node.Model))
	}
	details = append(details, fmt.Sprintf("cost=%.1f", node.EstCost))
	if node.InputTokens > 0 || node.OutputTokens > 0 {
		if node.OutputTokens > 0 {
			details = append(details, fmt.Sprintf("tokens(in=%d,out=%d)", node.InputTokens, node.OutputTokens))
		} else {
			details = append(details, fmt.Sprintf("tokens(in=%d)", node.InputTokens))
		}
	}
	if len(node.Fields) == 1 {
		details = append(details, fmt.Sprintf("field=%s", node.Fields[0]))
	} else if len(node.Fields) > 1 {
		details = append(details, fmt.Sprintf("fields=%v", node.Fields))
	}
	if node.ActCost != nil {
		details = append(details, fmt.Sprintf("$%.6f", *node.ActCost))
	}

	parts = append(parts, fmt.Sprintf("(%s)", strings.Join(details, ", ")))
	return strings.Join(parts, " ")
}
