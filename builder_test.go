package metaform

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, optFns ...func(*Options)) *Builder {
	t.Helper()
	b, err := NewBuilder(buildOptions(optFns))
	require.NoError(t, err)
	return b
}

func TestBuilder_Direct(t *testing.T) {
	s := MustParseSchema([]byte(invoiceSchema))
	b := newTestBuilder(t)

	units, err := b.Build(DirectPrompt, s, invoiceText)
	require.NoError(t, err)
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, TargetFull, u.Target)
	assert.Equal(t, 0, u.Index)
	assert.Equal(t, 1, u.Total)
	assert.Equal(t, "prompt", u.Label())
	assert.Equal(t, s.TopLevel(), u.Paths)
	assert.Equal(t, s.JSON(), u.Fragment)
	assert.Contains(t, u.Prompt, s.JSON())
	assert.Contains(t, u.Prompt, invoiceText)
	assert.Contains(t, u.Prompt, "single fenced ```json block")
	assert.NotContains(t, u.Prompt, "&quot;", "schema must not be HTML escaped")
}

func TestBuilder_Deterministic(t *testing.T) {
	s := MustParseSchema(flatSchema(120))
	text := strings.Repeat("The quick brown fox jumps over the lazy dog.\n", 400)

	for _, strategy := range []Strategy{DirectPrompt, ChunkedInput, IterativeStitching} {
		first, err := newTestBuilder(t).Build(strategy, s, text)
		require.NoError(t, err)
		second, err := newTestBuilder(t).Build(strategy, s, text)
		require.NoError(t, err)
		assert.Equal(t, first, second, strategy.String())
	}
}

func TestBuilder_ChunkedSplitsSchema(t *testing.T) {
	s := MustParseSchema([]byte(invoiceSchema))
	b := newTestBuilder(t)

	units, err := b.Build(ChunkedInput, s, invoiceText)
	require.NoError(t, err)
	require.Len(t, units, DefaultMinChunks)

	var covered []string
	for i, u := range units {
		assert.Equal(t, TargetSchema, u.Target)
		assert.Equal(t, i, u.Index)
		assert.Equal(t, len(units), u.Total)
		assert.NotEmpty(t, u.Paths)
		assert.Contains(t, u.Prompt, invoiceText, "each schema chunk sees the full text")
		assert.Contains(t, u.Prompt, u.Fragment)
		for _, p := range u.Paths {
			assert.Contains(t, u.Prompt, `"`+p+`"`)
		}
		covered = append(covered, u.Paths...)
	}
	assert.Equal(t, s.TopLevel(), covered, "chunks cover every top-level field exactly once, in order")
	assert.Equal(t, "chunk 1/2", units[0].Label())
}

func TestBuilder_ChunkedSplitsText(t *testing.T) {
	s := MustParseSchema([]byte(`{"type":"object","properties":{"title":{"type":"string"},"year":{"type":"integer"}}}`))
	text := strings.Repeat("Line of a long report with plenty of words in it.\n", 200)
	b := newTestBuilder(t, WithTokenBudget(500))

	units, err := b.Build(ChunkedInput, s, text)
	require.NoError(t, err)
	// 10000 bytes is 2500 tokens, so five chunks of 500
	require.Len(t, units, 5)

	var joined strings.Builder
	for _, u := range units {
		assert.Equal(t, TargetText, u.Target)
		assert.Equal(t, s.TopLevel(), u.Paths)
		assert.Contains(t, u.Prompt, s.JSON(), "each text chunk sees the full schema")
		part := between(t, u.Prompt, "Input Text (part", "\n\nReturn")
		joined.WriteString(part)
	}
	assert.Equal(t, strings.TrimSpace(text), strings.TrimSpace(joined.String()))
}

// between returns the text after the line starting with from and before to.
func between(t *testing.T, s, from, to string) string {
	t.Helper()
	i := strings.Index(s, from)
	require.GreaterOrEqual(t, i, 0, "marker %q", from)
	rest := s[i:]
	rest = rest[strings.IndexByte(rest, '\n')+1:]
	j := strings.Index(rest, to)
	require.GreaterOrEqual(t, j, 0, "marker %q", to)
	return rest[:j]
}

func TestBuilder_SingleFieldSchemaSplitsText(t *testing.T) {
	s := MustParseSchema(shapedSchema(6, 0, 0))
	units, err := newTestBuilder(t).Build(ChunkedInput, s, "short text")
	require.NoError(t, err)
	for _, u := range units {
		assert.Equal(t, TargetText, u.Target)
	}
}

func TestBuilder_IterativePreview(t *testing.T) {
	s := MustParseSchema([]byte(invoiceSchema))
	units, err := newTestBuilder(t).Build(IterativeStitching, s, invoiceText)
	require.NoError(t, err)
	require.Len(t, units, 5)

	wantPaths := [][]string{{"invoice_number"}, {"vendor"}, {"status"}, {"lines"}, {"tags"}}
	for i, u := range units {
		assert.Equal(t, TargetStep, u.Target)
		assert.Equal(t, wantPaths[i], u.Paths)
		assert.NotContains(t, u.Prompt, "Already confirmed")
	}
	assert.Equal(t, "step 2/5", units[1].Label())
}

func TestStitchSequence_EmbedsPriorResults(t *testing.T) {
	s := MustParseSchema([]byte(invoiceSchema))
	seq, err := newTestBuilder(t).Stitching(s, invoiceText)
	require.NoError(t, err)

	u, err := seq.Unit(1, map[string]any{"invoice_number": "INV-2024-001"})
	require.NoError(t, err)
	assert.Contains(t, u.Prompt, "Already confirmed")
	assert.Contains(t, u.Prompt, `"invoice_number": "INV-2024-001"`)
	assert.Contains(t, u.Prompt, "step 2 of 5")
	assert.Contains(t, u.Prompt, invoiceText)

	_, err = seq.Unit(5, nil)
	assert.Error(t, err)
	assert.Equal(t, []string{"lines"}, seq.Paths(3))
}

func TestBuilder_InvalidInputs(t *testing.T) {
	s := MustParseSchema([]byte(invoiceSchema))
	b := newTestBuilder(t)

	_, err := b.Build(DirectPrompt, s, " \n\t")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
	_, err = b.Build(ChunkedInput, nil, "text")
	assert.True(t, errors.Is(err, ErrMissingSchema))
	_, err = b.Stitching(s, "")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
	_, err = b.Build(Strategy(9), s, "text")
	assert.EqualError(t, err, "unknown strategy Strategy(9)")
}

func TestBuilder_CustomPromptProvider(t *testing.T) {
	s := MustParseSchema([]byte(`{"type":"object","properties":{"a":{"type":"string"}}}`))
	b := newTestBuilder(t, WithPromptProvider(SimplePromptProvider{
		TagDirect: "S={{ schema }}|D={{ document }}|{{ tag }}",
	}))

	units, err := b.Build(DirectPrompt, s, "hello")
	require.NoError(t, err)
	assert.Equal(t, "S="+s.JSON()+"|D=hello|direct", units[0].Prompt)

	_, err = b.Build(ChunkedInput, s, "hello")
	assert.ErrorContains(t, err, `prompt "chunk_text" not found`)
}

func TestSplitText(t *testing.T) {
	t.Run("joins back to the input", func(t *testing.T) {
		text := strings.Repeat("alpha beta gamma\ndelta epsilon\n", 50)
		for n := 1; n <= 7; n++ {
			parts := splitText(text, n)
			assert.LessOrEqual(t, len(parts), n)
			assert.Equal(t, text, strings.Join(parts, ""))
			for _, p := range parts {
				assert.NotEmpty(t, p)
			}
		}
	})

	t.Run("prefers newlines", func(t *testing.T) {
		parts := splitText("first line here\nsecond line here", 2)
		require.Len(t, parts, 2)
		assert.Equal(t, "first line here\n", parts[0])
	})

	t.Run("never cuts a rune", func(t *testing.T) {
		text := strings.Repeat("é", 101)
		parts := splitText(text, 3)
		assert.Equal(t, text, strings.Join(parts, ""))
		for _, p := range parts {
			assert.True(t, utf8.ValidString(p))
		}
	})

	t.Run("short text", func(t *testing.T) {
		assert.Equal(t, []string{"ab"}, splitText("ab", 1))
		assert.Equal(t, "abc", strings.Join(splitText("abc", 10), ""))
	})
}

func TestPartition(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, partition([]int{1, 1, 1, 1}, 2))
	assert.Equal(t, [][]int{{0}, {1}, {2}}, partition([]int{10, 1, 1}, 3))
	assert.Equal(t, [][]int{{0}}, partition([]int{5}, 3))
	assert.Equal(t, [][]int{{0, 1, 2}}, partition([]int{1, 2, 3}, 1))

	groups := partition([]int{3, 9, 2, 2, 8, 1, 1, 4}, 3)
	require.Len(t, groups, 3)
	next := 0
	for _, g := range groups {
		require.NotEmpty(t, g)
		for _, i := range g {
			assert.Equal(t, next, i, "groups are contiguous")
			next++
		}
	}
	assert.Equal(t, 8, next)
}

func TestStitchSteps_DescendsIntoLargeObjects(t *testing.T) {
	s := MustParseSchema([]byte(invoiceSchema))

	var got [][]string
	for _, step := range stitchSteps(s, 1) {
		got = append(got, fieldPaths(step))
	}
	assert.Equal(t, [][]string{
		{"invoice_number"},
		{"vendor.name"},
		{"vendor.address"},
		{"status"},
		{"lines"},
		{"tags"},
	}, got)

	got = nil
	for _, step := range stitchSteps(MustParseSchema(flatSchema(6)), 1500) {
		got = append(got, fieldPaths(step))
	}
	assert.Equal(t, [][]string{{"f01", "f02", "f03", "f04", "f05", "f06"}}, got, "leaves share a step within budget")
}

func TestBuilder_ChunkCount(t *testing.T) {
	b := &Builder{budget: 100, minChunks: 2}
	assert.Equal(t, 2, b.chunkCount(50))
	assert.Equal(t, 2, b.chunkCount(200))
	assert.Equal(t, 5, b.chunkCount(450))
}
