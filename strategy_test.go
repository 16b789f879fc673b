package metaform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectStrategy_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Strategy
	}{
		{0, DirectPrompt},
		{30, DirectPrompt},
		{99.999, DirectPrompt},
		{100, ChunkedInput},
		{150.5, ChunkedInput},
		{200, ChunkedInput},
		{200.001, IterativeStitching},
		{315.1, IterativeStitching},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectStrategy(tt.score), "score %v", tt.score)
	}
}

func TestStrategy_Names(t *testing.T) {
	for _, s := range []Strategy{DirectPrompt, ChunkedInput, IterativeStitching} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
		assert.NotEmpty(t, s.Description())
	}

	_, err := ParseStrategy("parallel")
	assert.EqualError(t, err, `unknown strategy "parallel"`)
	assert.Equal(t, "Strategy(7)", Strategy(7).String())
	assert.Equal(t, "Chunk schema & input, iterative stitching", IterativeStitching.Description())
}

func TestStrategy_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		S Strategy `json:"strategy"`
	}{ChunkedInput})
	require.NoError(t, err)
	assert.JSONEq(t, `{"strategy":"chunked"}`, string(b))

	var got struct {
		S Strategy `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"strategy":"iterative"}`), &got))
	assert.Equal(t, IterativeStitching, got.S)
	assert.Error(t, json.Unmarshal([]byte(`{"strategy":"bogus"}`), &got))
}
