package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	metaform "github.com/kaushikn07/Metaform"
)

// newCaller builds the model caller for cfg with its decorators.
func newCaller(ctx context.Context, cfg Config, log *slog.Logger) (metaform.ModelCaller, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("no API key configured: set METAFORM_API_KEY or the provider's key variable")
	}

	var caller metaform.ModelCaller
	switch cfg.Provider {
	case "gemini":
		client, err := metaform.NewGeminiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		gc, err := metaform.NewGeminiCaller(client, log)
		if err != nil {
			return nil, err
		}
		caller = gc
	case "openrouter", "openai":
		oc, err := metaform.NewOpenAICaller(metaform.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: baseURL(cfg),
			Referer: cfg.Referer,
		})
		if err != nil {
			return nil, err
		}
		caller = oc
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	if cfg.RateLimit > 0 {
		caller = metaform.NewRateLimiter(caller, cfg.RateLimit, 1)
	}
	if cfg.Cache {
		caller = metaform.NewCachedCaller(caller, time.Hour, 10*time.Minute)
	}
	return caller, nil
}

func baseURL(cfg Config) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	if cfg.Provider == "openai" {
		return "https://api.openai.com/v1"
	}
	return metaform.OpenRouterBaseURL
}
