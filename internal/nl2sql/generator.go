// Package nl2sql asks a text-generation model for the SQL that answers a
// composed prompt.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ErrGenerationFailed = errors.New("nl2sql: generation failed")

// Generation is the raw model output. Text may still carry code fences.
type Generation struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Attempts int    `json:"attempts"`
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
}

// GenerationError matches ErrGenerationFailed. Detail has secrets redacted
// and is safe to return to callers.
type GenerationError struct {
	Provider   string
	Detail     string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	b.WriteString("generation failed")
	if e.Provider != "" {
		b.WriteString(" (")
		b.WriteString(e.Provider)
		b.WriteString(")")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailed
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a generation failure worth repeating.
func IsRetryable(err error) bool {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Retryable
	}
	return false
}

const maxDetailLength = 512

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
	apiKeyPattern = regexp.MustCompile(`\b(sk|pk|rk)-[A-Za-z0-9_-]{8,}`)
	keyParam      = regexp.MustCompile(`(?i)((?:api[_-]?key|key|token)=)[^&\s"]+`)
)

// Redact removes bearer tokens, API-key shaped strings and the given
// secrets from s and bounds its length.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) >= 4 {
			s = strings.ReplaceAll(s, secret, "[REDACTED]")
		}
	}
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = apiKeyPattern.ReplaceAllString(s, "[REDACTED]")
	s = keyParam.ReplaceAllString(s, "${1}[REDACTED]")
	s = strings.TrimSpace(s)
	if len(s) > maxDetailLength {
		cut := maxDetailLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
