package metaform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when a call names no model.
const DefaultGeminiModel = "gemini-1.5-pro"

// maxGeminiTemperature is the upper bound the Gemini API accepts.
const maxGeminiTemperature = 2.0

// GenerateOption represents options for a GeminiCaller.
type GenerateOption func(*generateConfig)

type generateConfig struct {
	Parameters map[string]string // temperature, topK, topP, maxTokens
	JSONMode   bool
}

// WithParameters sets the model parameters, e.g. {"temperature": "0.2"}.
func WithParameters(params map[string]string) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.Parameters = params
	}
}

// WithJSONMode asks the API for application/json output. Responses then come
// without a fenced block, which the assembler also accepts.
func WithJSONMode() GenerateOption {
	return func(cfg *generateConfig) {
		cfg.JSONMode = true
	}
}

// GeminiCaller sends prompts to Gemini through Google GenAI.
type GeminiCaller struct {
	client *genai.Client
	config *genai.GenerateContentConfig
	log    *slog.Logger
}

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewGeminiCaller wraps client. Parameters are validated here so a bad value
// fails before any prompt is sent.
func NewGeminiCaller(client *genai.Client, log *slog.Logger, opts ...GenerateOption) (*GeminiCaller, error) {
	if client == nil {
		return nil, errors.New("client not initialized")
	}
	if log == nil {
		log = slog.Default()
	}
	var cfg generateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(extractionSystemMessage, genai.RoleUser),
	}
	if cfg.JSONMode {
		config.ResponseMIMEType = "application/json"
	}
	if err := applyParameters(config, cfg.Parameters); err != nil {
		return nil, err
	}
	return &GeminiCaller{client: client, config: config, log: log}, nil
}

// Call implements ModelCaller.
func (g *GeminiCaller) Call(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	g.log.Debug("Generating content", "model", model, "prompt_length", len(prompt))

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, g.config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	g.log.Debug("Received response", "candidates_count", len(resp.Candidates))
	if len(resp.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("no parts in candidate content")
	}
	part := candidate.Content.Parts[0]
	if part.Text == "" {
		return "", errors.New("no text in first part of response")
	}
	g.log.Debug("Generated content successfully", "response_length", len(part.Text))
	return part.Text, nil
}

// applyParameters copies string parameters onto config.
func applyParameters(config *genai.GenerateContentConfig, params map[string]string) error {
	if temp, exists := params["temperature"]; exists {
		tempFloat, err := strconv.ParseFloat(temp, 32)
		if err != nil {
			return fmt.Errorf("invalid temperature parameter '%s': %w", temp, err)
		}
		if tempFloat < 0 || tempFloat > maxGeminiTemperature {
			return fmt.Errorf("temperature parameter '%v' must be between 0.0 and 2.0", tempFloat)
		}
		val := float32(tempFloat)
		config.Temperature = &val
	}
	if topK, exists := params["topK"]; exists {
		topKFloat, err := strconv.ParseFloat(topK, 32)
		if err != nil {
			return fmt.Errorf("invalid topK parameter '%s': %w", topK, err)
		}
		if topKFloat <= 0 {
			return fmt.Errorf("topK parameter '%v' must be greater than 0", topKFloat)
		}
		val := float32(topKFloat)
		config.TopK = &val
	}
	if topP, exists := params["topP"]; exists {
		topPFloat, err := strconv.ParseFloat(topP, 32)
		if err != nil {
			return fmt.Errorf("invalid topP parameter '%s': %w", topP, err)
		}
		if topPFloat < 0 || topPFloat > 1 {
			return fmt.Errorf("topP parameter '%v' must be between 0.0 and 1.0", topPFloat)
		}
		val := float32(topPFloat)
		config.TopP = &val
	}
	if maxTokens, exists := params["maxTokens"]; exists {
		maxTokensInt, err := strconv.Atoi(maxTokens)
		if err != nil {
			return fmt.Errorf("invalid maxTokens parameter '%s': %w", maxTokens, err)
		}
		if maxTokensInt <= 0 {
			return fmt.Errorf("maxTokens parameter '%d' must be greater than 0", maxTokensInt)
		}
		config.MaxOutputTokens = int32(maxTokensInt)
	}
	return nil
}
