package metaform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const (
	// OpenRouterBaseURL is the OpenAI-compatible endpoint used by default.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	// DefaultOpenRouterModel is the model the CLI uses when none is configured.
	DefaultOpenRouterModel = "mistralai/mistral-7b-instruct"

	extractionSystemMessage = "You convert unstructured content into strict JSON format given a schema."
)

// OpenAIConfig configures an OpenAICaller.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string            // empty → OpenRouterBaseURL
	Referer     string            // sent as HTTP-Referer, which OpenRouter uses for attribution
	Headers     map[string]string // extra request headers
	Temperature float32
	MaxTokens   int
	HTTPClient  *http.Client
}

// OpenAICaller sends prompts to an OpenAI-compatible chat completions API,
// with a fixed system message and the prompt as the user message.
type OpenAICaller struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAICaller creates a caller for cfg.
func NewOpenAICaller(cfg OpenAIConfig) (*OpenAICaller, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = OpenRouterBaseURL
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Referer != "" {
		headers["HTTP-Referer"] = cfg.Referer
	}
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) > 0 {
		transport := base.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		clone := *base
		clone.Transport = headerTransport{headers: headers, next: transport}
		base = &clone
	}
	clientConfig.HTTPClient = base

	return &OpenAICaller{client: openai.NewClientWithConfig(clientConfig), config: cfg}, nil
}

// Call implements ModelCaller.
func (c *OpenAICaller) Call(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		return "", ErrModelMissing
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	headers map[string]string
	next    http.RoundTripper
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.next.RoundTrip(r)
}
