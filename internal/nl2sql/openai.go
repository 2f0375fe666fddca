package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "You translate questions about a relational database into a single read-only SQL query. " +
	"Return ONLY SQL. No markdown, no explanation."

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIGenerator{
		baseURL:     strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"), "/v1"),
		apiKey:      strings.TrimPrefix(strings.TrimSpace(cfg.APIKey), "Bearer "),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

const openAIProvider = "openai-compatible"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: g.temperature,
	})
	if err != nil {
		return Generation{}, g.fail(0, false, "encode chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Generation{}, g.fail(0, false, "build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		// Caller cancellation is final; transport failures and timeouts are not.
		return Generation{}, g.fail(0, !errors.Is(err, context.Canceled), "send chat request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Generation{}, g.fail(0, true, "read chat response", err)
	}
	if resp.StatusCode >= 400 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return Generation{}, g.fail(resp.StatusCode, retryable, providerMessage(raw), nil)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Generation{}, g.fail(0, false, "decode chat response", err)
	}
	if len(decoded.Choices) == 0 {
		return Generation{}, g.fail(0, true, "response has no choices", nil)
	}
	choice := decoded.Choices[0]
	// A length cut leaves a partial statement; asking again with the same
	// prompt gets the same cut.
	if choice.FinishReason == "length" {
		return Generation{}, g.fail(0, false, "completion truncated at the token limit", nil)
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return Generation{}, g.fail(0, true, "model returned empty text", nil)
	}
	return Generation{Text: text, Provider: openAIProvider, Model: g.model, Attempts: 1}, nil
}

// providerMessage pulls error.message out of an OpenAI style error body and
// falls back to the raw body.
func providerMessage(raw []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(envelope.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return strings.TrimSpace(string(raw))
}

func (g *OpenAIGenerator) fail(status int, retryable bool, detail string, err error) error {
	if err != nil {
		detail = detail + ": " + err.Error()
	}
	return &GenerationError{
		Provider:   openAIProvider,
		Detail:     Redact(detail, g.apiKey),
		StatusCode: status,
		Retryable:  retryable,
		Err:        err,
	}
}
