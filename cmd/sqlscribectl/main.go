package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sqlscribe/sqlscribe/internal/cli/sqlscribectl"
)

const defaultTimeout = 60 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := sqlscribectl.Run(ctx, os.Args[1:], optionsFromEnv())
	stop()
	os.Exit(code)
}

// optionsFromEnv seeds the client; command line flags override every field.
func optionsFromEnv() sqlscribectl.Options {
	env := func(key string) string { return strings.TrimSpace(os.Getenv(key)) }

	opts := sqlscribectl.Options{
		BaseURL: env("SQLSCRIBE_API_URL"),
		APIKey:  env("SQLSCRIBE_API_KEY"),
		Project: env("SQLSCRIBE_PROJECT"),
		Timeout: defaultTimeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	if raw := env("SQLSCRIBE_CLI_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			fmt.Fprintf(os.Stderr, "ignoring SQLSCRIBE_CLI_TIMEOUT=%q; using %s\n", raw, defaultTimeout)
		} else {
			opts.Timeout = timeout
		}
	}
	return opts
}
