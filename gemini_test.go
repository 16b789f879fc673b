package metaform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestApplyParameters(t *testing.T) {
	config := &genai.GenerateContentConfig{}
	err := applyParameters(config, map[string]string{
		"temperature": "0.2",
		"topK":        "40",
		"topP":        "0.9",
		"maxTokens":   "2048",
	})
	require.NoError(t, err)

	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 0.2, *config.Temperature, 1e-6)
	require.NotNil(t, config.TopK)
	assert.Equal(t, float32(40), *config.TopK)
	require.NotNil(t, config.TopP)
	assert.InDelta(t, 0.9, *config.TopP, 1e-6)
	assert.Equal(t, int32(2048), config.MaxOutputTokens)
}

func TestApplyParameters_TemperatureAboveOne(t *testing.T) {
	config := &genai.GenerateContentConfig{}
	require.NoError(t, applyParameters(config, map[string]string{"temperature": "1.5"}))
	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 1.5, *config.Temperature, 1e-6)

	require.NoError(t, applyParameters(config, map[string]string{"temperature": "2"}))
	assert.InDelta(t, 2.0, *config.Temperature, 1e-6)
}

func TestApplyParameters_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"temperature out of range": {"temperature": "2.5"},
		"temperature negative":     {"temperature": "-0.1"},
		"temperature not a number": {"temperature": "warm"},
		"topK zero":                {"topK": "0"},
		"topP negative":            {"topP": "-0.1"},
		"maxTokens not a number":   {"maxTokens": "lots"},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, applyParameters(&genai.GenerateContentConfig{}, params))
		})
	}
}

func TestNewGeminiCaller_RequiresClient(t *testing.T) {
	_, err := NewGeminiCaller(nil, nil)
	assert.EqualError(t, err, "client not initialized")
}
