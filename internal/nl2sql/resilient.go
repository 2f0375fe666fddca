package nl2sql

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sqlscribe/sqlscribe/internal/observability"
)

type ResilienceConfig struct {
	MaxRetries     int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// ResilientGenerator bounds each attempt with a timeout, retries retryable
// failures with exponential backoff and rate limits calls to the model.
type ResilientGenerator struct {
	next    Generator
	cfg     ResilienceConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewResilientGenerator(next Generator, cfg ResilienceConfig, logger *slog.Logger) *ResilientGenerator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	g := &ResilientGenerator{next: next, cfg: cfg, logger: logger, sleep: sleepContext}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return g
}

func (g *ResilientGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	start := time.Now()
	gen, err := g.generate(ctx, prompt)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.ObservePipelineStage("generate", outcome, time.Since(start))
	return gen, err
}

func (g *ResilientGenerator) generate(ctx context.Context, prompt string) (Generation, error) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return Generation{}, &GenerationError{Provider: "rate-limiter", Detail: err.Error(), Err: err}
			}
		}

		gen, err := g.attempt(ctx, prompt)
		if err == nil {
			gen.Attempts = attempt + 1
			return gen, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) || attempt == g.cfg.MaxRetries {
			break
		}

		backoff := g.cfg.Backoff << attempt
		observability.IncrementGenerationRetries()
		g.logger.WarnContext(ctx, "generation attempt failed, retrying",
			observability.TraceAttr(ctx),
			slog.Int("attempt", attempt+1),
			slog.String("backoff", backoff.String()),
			slog.Any("error", err),
		)
		if err := g.sleep(ctx, backoff); err != nil {
			break
		}
	}
	return Generation{}, lastErr
}

func (g *ResilientGenerator) attempt(ctx context.Context, prompt string) (Generation, error) {
	attemptCtx := ctx
	if g.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()
	}
	gen, err := g.next.Generate(attemptCtx, prompt)
	if err == nil {
		return gen, nil
	}

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		genErr = &GenerationError{Detail: Redact(err.Error()), Err: err}
	}
	// An attempt that ran out of its own time is worth another try.
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		genErr.Retryable = true
		if genErr.Detail == "" {
			genErr.Detail = "attempt timed out"
		}
	}
	return Generation{}, genErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
