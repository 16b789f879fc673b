package metaform

import (
	"strings"
	"unicode/utf8"
)

// splitText cuts text into at most n contiguous parts of roughly equal size.
// Each cut moves back to the nearest newline, then the nearest space, within
// half a part of the ideal boundary, and never lands inside a UTF-8 sequence.
// Joining the parts yields text unchanged.
func splitText(text string, n int) []string {
	if n <= 1 || len(text) == 0 {
		return []string{text}
	}
	size := len(text) / n
	window := size / 2
	parts := make([]string, 0, n)
	start := 0
	for i := 1; i < n; i++ {
		ideal := i * len(text) / n
		if ideal <= start {
			continue
		}
		cut := textBoundary(text, start, ideal, window)
		if cut <= start {
			continue
		}
		parts = append(parts, text[start:cut])
		start = cut
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

// textBoundary picks the cut position for an ideal boundary.
func textBoundary(text string, start, ideal, window int) int {
	lo := ideal - window
	if lo <= start {
		lo = start + 1
	}
	if i := strings.LastIndexByte(text[lo:ideal], '\n'); i >= 0 {
		return lo + i + 1
	}
	if i := strings.LastIndexByte(text[lo:ideal], ' '); i >= 0 {
		return lo + i + 1
	}
	cut := ideal
	for cut > start && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return cut
}

// partition groups weights into at most n contiguous, non-empty runs whose
// sums are as even as a greedy left-to-right pass allows.
func partition(weights []int, n int) [][]int {
	if n > len(weights) {
		n = len(weights)
	}
	if n <= 1 {
		all := make([]int, len(weights))
		for i := range weights {
			all[i] = i
		}
		return [][]int{all}
	}

	remaining := 0
	for _, w := range weights {
		remaining += w
	}
	groups := make([][]int, 0, n)
	i := 0
	for g := 0; g < n; g++ {
		left := n - g
		var cur []int
		if left == 1 {
			for ; i < len(weights); i++ {
				cur = append(cur, i)
			}
			groups = append(groups, cur)
			break
		}
		target := float64(remaining) / float64(left)
		acc := 0
		// leave at least one item for each group still to fill
		for i < len(weights) && len(weights)-i > left-1 {
			w := weights[i]
			if len(cur) > 0 && float64(acc)+float64(w)/2 > target {
				break
			}
			cur = append(cur, i)
			acc += w
			i++
		}
		groups = append(groups, cur)
		remaining -= acc
	}
	return groups
}

// schemaChunks splits the top-level fields of s into at most n groups
// balanced by the token weight of their definitions.
func schemaChunks(s *Schema, n int) [][]*Field {
	fields := s.Root.Fields
	weights := make([]int, len(fields))
	for i, f := range fields {
		weights[i] = EstimateTokensFromText(marshalIndent(f.def))
	}
	var chunks [][]*Field
	for _, idx := range partition(weights, n) {
		group := make([]*Field, 0, len(idx))
		for _, i := range idx {
			group = append(group, fields[i])
		}
		chunks = append(chunks, group)
	}
	return chunks
}

// stitchSteps decomposes s depth-first into extraction steps. Consecutive
// leaf fields share a step while their definitions fit in budget tokens. Each
// object or array-of-objects field is a step of its own, and an object too
// large for the budget is descended into. Arrays are never split.
func stitchSteps(s *Schema, budget int) [][]*Field {
	var steps [][]*Field
	var walk func(fields []*Field)
	walk = func(fields []*Field) {
		var group []*Field
		tokens := 0
		flush := func() {
			if len(group) > 0 {
				steps = append(steps, group)
				group, tokens = nil, 0
			}
		}
		for _, f := range fields {
			t := EstimateTokensFromText(marshalIndent(f.def))
			if f.IsLeaf() {
				if len(group) > 0 && tokens+t > budget {
					flush()
				}
				group = append(group, f)
				tokens += t
				continue
			}
			flush()
			if f.Type == TypeObject && t > budget {
				walk(f.Fields)
				continue
			}
			steps = append(steps, []*Field{f})
		}
		flush()
	}
	walk(s.Root.Fields)
	return steps
}

func fieldPaths(fields []*Field) []string {
	paths := make([]string, len(fields))
	for i, f := range fields {
		paths[i] = f.Path
	}
	return paths
}
