package metaform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// formatAsJSON formats the plan as JSON.
func (pb *PlanBuilder) formatAsJSON(plan *PlanNode) (string, error) {
	bytes, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// formatAsGraphviz formats the plan as a DOT digraph.
func (pb *PlanBuilder) formatAsGraphviz(plan *PlanNode) string {
	var sb strings.Builder
	sb.WriteString("digraph ExtractionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")

	ids := make(map[*PlanNode]string)
	var nodes func(*PlanNode)
	nodes = func(n *PlanNode) {
		id := fmt.Sprintf("node%d", len(ids))
		ids[n] = id
		fmt.Fprintf(&sb, "  %s [label=%q];\n", id, graphvizLabel(n))
		for _, c := range n.Children {
			nodes(c)
		}
	}
	var edges func(*PlanNode)
	edges = func(n *PlanNode) {
		for _, c := range n.Children {
			fmt.Fprintf(&sb, "  %s -> %s;\n", ids[n], ids[c])
			edges(c)
		}
	}
	nodes(plan)
	edges(plan)
	sb.WriteString("}\n")
	return sb.String()
}

func graphvizLabel(n *PlanNode) string {
	label := string(n.Type)
	if n.PromptName != "" {
		label += "\n" + n.PromptName
	}
	if n.Model != "" {
		label += "\nmodel: " + n.Model
	}
	return label + fmt.Sprintf("\ncost: %.1f", n.EstCost)
}
