package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type scriptedGenerator struct {
	errs  []error
	calls int
	wait  time.Duration
}

func (s *scriptedGenerator) Generate(ctx context.Context, _ string) (Generation, error) {
	s.calls++
	if s.wait > 0 {
		select {
		case <-ctx.Done():
			return Generation{}, ctx.Err()
		case <-time.After(s.wait):
		}
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return Generation{}, err
		}
	}
	return Generation{Text: "SELECT 1", Provider: "scripted", Attempts: 1}, nil
}

func newTestResilient(next Generator, cfg ResilienceConfig) (*ResilientGenerator, *[]time.Duration) {
	g := NewResilientGenerator(next, cfg, nil)
	slept := &[]time.Duration{}
	g.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return g, slept
}

func TestResilientRetriesRetryableFailures(t *testing.T) {
	next := &scriptedGenerator{errs: []error{
		&GenerationError{Detail: "503", Retryable: true},
		&GenerationError{Detail: "503", Retryable: true},
	}}
	g, slept := newTestResilient(next, ResilienceConfig{MaxRetries: 2, Backoff: 10 * time.Millisecond})

	out, err := g.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Attempts != 3 || next.calls != 3 {
		t.Fatalf("Attempts = %d, calls = %d", out.Attempts, next.calls)
	}
	if len(*slept) != 2 || (*slept)[0] != 10*time.Millisecond || (*slept)[1] != 20*time.Millisecond {
		t.Fatalf("backoff = %v", *slept)
	}
}

func TestResilientStopsOnPermanentFailure(t *testing.T) {
	next := &scriptedGenerator{errs: []error{&GenerationError{Detail: "400", Retryable: false}}}
	g, _ := newTestResilient(next, ResilienceConfig{MaxRetries: 5})

	if _, err := g.Generate(context.Background(), "p"); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Generate() error = %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("calls = %d, want 1", next.calls)
	}
}

func TestResilientGivesUpAfterMaxRetries(t *testing.T) {
	retryable := &GenerationError{Detail: "busy", Retryable: true}
	next := &scriptedGenerator{errs: []error{retryable, retryable, retryable, retryable}}
	g, _ := newTestResilient(next, ResilienceConfig{MaxRetries: 1})

	if _, err := g.Generate(context.Background(), "p"); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Generate() error = %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("calls = %d, want 2", next.calls)
	}
}

func TestResilientWrapsPlainErrors(t *testing.T) {
	next := &scriptedGenerator{errs: []error{errors.New("boom")}}
	g, _ := newTestResilient(next, ResilienceConfig{})
	_, err := g.Generate(context.Background(), "p")
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Detail != "boom" {
		t.Fatalf("Generate() error = %#v", err)
	}
}

func TestResilientRetriesAttemptTimeout(t *testing.T) {
	next := &scriptedGenerator{wait: time.Second}
	g, _ := newTestResilient(next, ResilienceConfig{MaxRetries: 1, AttemptTimeout: 10 * time.Millisecond})

	_, err := g.Generate(context.Background(), "p")
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate() error = %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("calls = %d, want 2", next.calls)
	}
}

func TestResilientHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := &scriptedGenerator{wait: time.Second}
	g, _ := newTestResilient(next, ResilienceConfig{MaxRetries: 3, RateLimit: 1, RateBurst: 1})

	if _, err := g.Generate(ctx, "p"); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Generate() error = %v", err)
	}
	if next.calls > 1 {
		t.Fatalf("calls = %d, want at most 1", next.calls)
	}
}

func TestRedact(t *testing.T) {
	in := "401 from https://api.example.com?api_key=abc123 Authorization: Bearer sk-live-abcdefghij secret=hunter22"
	got := Redact(in, "hunter22")
	for _, leaked := range []string{"abc123", "sk-live-abcdefghij", "hunter22"} {
		if strings.Contains(got, leaked) {
			t.Fatalf("Redact() leaked %q: %s", leaked, got)
		}
	}
}

func TestRedactTruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes; an odd prefix puts a rune across the cut.
	in := "x" + strings.Repeat("é", maxDetailLength)
	got := Redact(in)
	if !utf8.ValidString(got) {
		t.Fatalf("Redact() produced invalid UTF-8: %q", got[len(got)-8:])
	}
	if !strings.HasSuffix(got, "...") || len(got) > maxDetailLength+len("...") {
		t.Fatalf("len(Redact()) = %d", len(got))
	}
	if got := Redact("bad \xff byte"); !utf8.ValidString(got) {
		t.Fatalf("Redact() kept invalid input bytes: %q", got)
	}
}
