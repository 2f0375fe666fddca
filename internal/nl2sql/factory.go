package nl2sql

import (
	"fmt"
	"log/slog"

	"github.com/sqlscribe/sqlscribe/internal/config"
)

// New builds the generator named by cfg.Provider wrapped with retries,
// timeouts and rate limiting.
func New(cfg config.AIConfig, logger *slog.Logger) (Generator, error) {
	var (
		base Generator
		err  error
	)
	switch cfg.Provider {
	case "openai":
		base, err = NewOpenAIGenerator(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case "langchain-openai":
		base, err = NewLangChainOpenAIGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature)
	case "ollama":
		base, err = NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewResilientGenerator(base, ResilienceConfig{
		MaxRetries:     cfg.MaxRetries,
		Backoff:        cfg.RetryBackoff,
		AttemptTimeout: cfg.Timeout,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	}, logger), nil
}
