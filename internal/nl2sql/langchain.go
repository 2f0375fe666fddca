package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainGenerator sends prompts through any langchaingo model.
type LangChainGenerator struct {
	model       llms.Model
	provider    string
	modelName   string
	temperature float64
}

func NewLangChainGenerator(model llms.Model, provider, modelName string, temperature float64) (*LangChainGenerator, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	return &LangChainGenerator{model: model, provider: provider, modelName: modelName, temperature: temperature}, nil
}

// NewOllamaGenerator talks to an Ollama server.
func NewOllamaGenerator(serverURL, modelName string, temperature float64) (*LangChainGenerator, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(modelName),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return NewLangChainGenerator(llm, "ollama", modelName, temperature)
}

// NewLangChainOpenAIGenerator uses langchaingo's OpenAI client. baseURL may
// be given with or without the /v1 suffix.
func NewLangChainOpenAIGenerator(baseURL, apiKey, modelName string, temperature float64) (*LangChainGenerator, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(strings.TrimPrefix(apiKey, "Bearer ")),
		openai.WithModel(modelName),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangChainGenerator(llm, "langchain-openai", modelName, temperature)
}

func (g *LangChainGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	resp, err := g.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		},
		llms.WithTemperature(g.temperature),
	)
	if err != nil {
		return Generation{}, &GenerationError{
			Provider:  g.provider,
			Detail:    Redact(err.Error()),
			Retryable: !errors.Is(err, context.Canceled),
			Err:       err,
		}
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return Generation{}, &GenerationError{Provider: g.provider, Detail: "model returned empty text", Retryable: true}
	}
	return Generation{
		Text:     strings.TrimSpace(resp.Choices[0].Content),
		Provider: g.provider,
		Model:    g.modelName,
		Attempts: 1,
	}, nil
}
