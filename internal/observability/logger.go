package observability

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/sqlscribe/sqlscribe/internal/config"
)

type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	scopeKey   ctxKey = "request_scope"
)

// secretKeys are attribute names whose values never reach the log output.
var secretKeys = map[string]bool{
	"api_key":  true,
	"password": true,
	"token":    true,
	"secret":   true,
}

// NewLogger builds the process logger. Attributes named like credentials are
// masked and connection strings lose their password.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, ReplaceAttr: redactAttr}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)
	if secretKeys[key] {
		return slog.String(attr.Key, "[redacted]")
	}
	if key == "dsn" || key == "connection_string" {
		return slog.String(attr.Key, RedactDSN(attr.Value.String()))
	}
	return attr
}

const maskedSecret = "xxxxx"

// keywordSecret matches password settings of a key=value connection string,
// quoted or bare.
var keywordSecret = regexp.MustCompile(`(?i)\b((?:ssl)?password\s*=\s*)('(?:[^'\\]|\\.)*'|[^\s]+)`)

// userinfoSecret covers URLs that net/url refuses, such as an unescaped @
// in the password.
var userinfoSecret = regexp.MustCompile(`(://[^:/@]*:).*@`)

// RedactDSN hides passwords in a connection string. URL DSNs lose the
// userinfo password and any password query parameter; key=value DSNs lose
// their password settings.
func RedactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		return keywordSecret.ReplaceAllString(dsn, "${1}"+maskedSecret)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		masked := userinfoSecret.ReplaceAllString(dsn, "${1}"+maskedSecret+"@")
		return keywordSecret.ReplaceAllString(masked, "${1}"+maskedSecret)
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), maskedSecret)
		}
	}
	query := parsed.Query()
	changed := false
	for key := range query {
		if strings.EqualFold(key, "password") || strings.EqualFold(key, "sslpassword") {
			query.Set(key, maskedSecret)
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// DiscardLogger is used by components constructed without a logger.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(traceIDKey).(string)
	return value
}

// TraceAttr returns the request trace id as a log attribute.
func TraceAttr(ctx context.Context) slog.Attr {
	return slog.String("trace_id", TraceIDFromContext(ctx))
}

// requestScope holds fields learned after routing, such as the project a
// request targets. The access log line reports them.
type requestScope struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

func withRequestScope(ctx context.Context) (context.Context, *requestScope) {
	scope := &requestScope{}
	return context.WithValue(ctx, scopeKey, scope), scope
}

// Annotate attaches attrs to the access log line of the current request.
// A later value for the same key replaces the earlier one. Outside a
// request it does nothing.
func Annotate(ctx context.Context, attrs ...slog.Attr) {
	scope, ok := ctx.Value(scopeKey).(*requestScope)
	if !ok {
		return
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	for _, attr := range attrs {
		replaced := false
		for i := range scope.attrs {
			if scope.attrs[i].Key == attr.Key {
				scope.attrs[i] = attr
				replaced = true
				break
			}
		}
		if !replaced {
			scope.attrs = append(scope.attrs, attr)
		}
	}
}

func (s *requestScope) snapshot() []slog.Attr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]slog.Attr(nil), s.attrs...)
}
