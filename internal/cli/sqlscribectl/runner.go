// Package sqlscribectl is a small HTTP client for the sqlscribe API.
package sqlscribectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Project    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

var errUsage = errors.New("usage")

// requestError marks failures that happened after the command line parsed.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the request fails and 2 for usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults, stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		_, _ = fmt.Fprintln(stderr, reqErr.Error())
		return 1
	}
	if !errors.Is(err, errUsage) {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	}
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

type client struct {
	baseURL *string
	apiKey  *string
	project *string
	timeout *time.Duration
	http    *http.Client
	stdout  io.Writer
}

func newRootCommand(defaults Options, stdout, stderr io.Writer) *cobra.Command {
	c := &client{
		baseURL: new(string),
		apiKey:  new(string),
		project: new(string),
		timeout: new(time.Duration),
		http:    defaults.HTTPClient,
		stdout:  stdout,
	}

	root := &cobra.Command{
		Use:           "sqlscribectl",
		Short:         "Ask questions of a sqlscribe API and manage its projects",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(*cobra.Command, []string) error {
			return errUsage
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(c.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqlscribe API base URL")
	flags.StringVar(c.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.StringVar(c.project, "project", defaults.Project, "project name (server default when empty)")
	flags.DurationVar(c.timeout, "timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.do(cmd.Context(), http.MethodGet, "/v1/health", nil)
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.do(cmd.Context(), http.MethodGet, "/v1/ready", nil)
			},
		},
		&cobra.Command{
			Use:   "ask <question>",
			Short: "Generate and run SQL for a question (POST /get_response/)",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				body := map[string]any{"message": strings.Join(args, " ")}
				if *c.project != "" {
					body["project_name"] = *c.project
				}
				return c.do(cmd.Context(), http.MethodPost, "/get_response/", body)
			},
		},
		newIndexCommand(c),
		newHistoryCommand(c),
		newExportCommand(c),
	)
	return root
}

func newIndexCommand(c *client) *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the target schema into the project store (POST /add_data_source/)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{"rebuild": rebuild}
			if *c.project != "" {
				body["project_name"] = *c.project
			}
			return c.do(cmd.Context(), http.MethodPost, "/add_data_source/", body)
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "drop existing fragments first")
	return cmd
}

func newHistoryCommand(c *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent questions (GET /history)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if *c.project != "" {
				query.Set("project_name", *c.project)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/history"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return c.do(cmd.Context(), http.MethodGet, path, nil)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of entries (server default when 0)")
	return cmd
}

func newExportCommand(c *client) *cobra.Command {
	var output string
	var limit int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download history as a Parquet file (GET /history/export)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if *c.project != "" {
				query.Set("project_name", *c.project)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/history/export"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			data, err := c.fetch(cmd.Context(), http.MethodGet, path, nil, "application/vnd.apache.parquet")
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return &requestError{err: fmt.Errorf("write %s: %w", output, err)}
			}
			_, _ = fmt.Fprintf(c.stdout, "wrote %d bytes to %s\n", len(data), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "history.parquet", "destination file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of entries (server maximum when 0)")
	return cmd
}

func (c *client) do(ctx context.Context, method, path string, payload any) error {
	responseBody, err := c.fetch(ctx, method, path, payload, "application/json")
	if err != nil {
		return err
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func (c *client) fetch(ctx context.Context, method, path string, payload any, accept string) ([]byte, error) {
	httpClient := c.http
	if httpClient == nil {
		httpClient = &http.Client{Timeout: *c.timeout}
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &requestError{err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(encoded)
	}
	endpoint := strings.TrimRight(*c.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(*c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("request failed: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, &requestError{err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))}
	}
	return responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, raw, "", "  "); err != nil {
		return "", false
	}
	return strings.TrimRight(indented.String(), "\n"), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
