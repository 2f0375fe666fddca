package nl2sql

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	response *llms.ContentResponse
	err      error
	messages []llms.MessageContent
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	return f.response, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainGeneratorReturnsFirstChoice(t *testing.T) {
	model := &fakeModel{response: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "  SELECT 1  "}}}}
	gen, err := NewLangChainGenerator(model, "ollama", "sqlcoder", 0)
	if err != nil {
		t.Fatalf("NewLangChainGenerator() error = %v", err)
	}
	out, err := gen.Generate(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Text != "SELECT 1" || out.Provider != "ollama" || out.Model != "sqlcoder" {
		t.Fatalf("Generation = %+v", out)
	}
	if len(model.messages) != 2 || model.messages[1].Role != llms.ChatMessageTypeHuman {
		t.Fatalf("messages = %+v", model.messages)
	}
}

func TestLangChainGeneratorWrapsErrors(t *testing.T) {
	gen, _ := NewLangChainGenerator(&fakeModel{err: errors.New("connection refused")}, "ollama", "m", 0)
	_, err := gen.Generate(context.Background(), "p")
	if !errors.Is(err, ErrGenerationFailed) || !IsRetryable(err) {
		t.Fatalf("Generate() error = %v", err)
	}

	empty, _ := NewLangChainGenerator(&fakeModel{response: &llms.ContentResponse{}}, "ollama", "m", 0)
	if _, err := empty.Generate(context.Background(), "p"); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Generate(empty) error = %v", err)
	}
}

func TestNewLangChainGeneratorRequiresModel(t *testing.T) {
	if _, err := NewLangChainGenerator(nil, "x", "y", 0); err == nil {
		t.Fatal("expected error for nil model")
	}
}
