package observability

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"
)

const (
	traceHeader   = "X-Trace-ID"
	requestHeader = "X-Request-ID"

	maxTraceIDLen = 64
	unmatched     = "unmatched"
)

// TraceMiddleware assigns the request trace id and opens the request scope
// used by Annotate. A caller supplied X-Trace-ID, or X-Request-ID from a
// proxy, is kept when it is a plausible token.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := incomingTraceID(r)
		if traceID == "" {
			traceID = newTraceID()
		}
		ctx, _ := withRequestScope(ContextWithTraceID(r.Context(), traceID))
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one access line per request. Server errors log at
// error level and client errors at warn.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := newStatusRecorder(w)
			next.ServeHTTP(recorder, r)

			attrs := []slog.Attr{
				TraceAttr(r.Context()),
				slog.String("method", r.Method),
				slog.String("route", routeLabel(r)),
				slog.String("path", r.URL.Path),
				slog.Int("status", recorder.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", recorder.bytes),
			}
			if scope, ok := r.Context().Value(scopeKey).(*requestScope); ok {
				attrs = append(attrs, scope.snapshot()...)
			}
			logger.LogAttrs(r.Context(), levelForStatus(recorder.status), "http_request", attrs...)
		})
	}
}

// MetricsMiddleware labels by the matched mux pattern, so path values such
// as project names never become label values.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := newStatusRecorder(w)
		next.ServeHTTP(recorder, r)

		route := routeLabel(r)
		status := strconv.Itoa(recorder.status)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// RecoverMiddleware turns handler panics into a JSON 500 response. When the
// handler already started the response only the log line is written.
func RecoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := newStatusRecorder(w)
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				httpPanicsTotal.Inc()
				logger.ErrorContext(r.Context(), "http_panic",
					TraceAttr(r.Context()),
					slog.String("route", routeLabel(r)),
					slog.Any("panic", recovered),
					slog.String("stack", string(debug.Stack())),
				)
				if recorder.wroteHeader {
					return
				}
				recorder.Header().Set("Content-Type", "application/json")
				recorder.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(recorder).Encode(map[string]any{
					"error":      "internal server error",
					"error_code": "INTERNAL_ERROR",
					"retryable":  false,
					"trace_id":   TraceIDFromContext(r.Context()),
				})
			}()
			next.ServeHTTP(recorder, r)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// routeLabel reads the pattern ServeMux stored on the request.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return unmatched
	}
	return r.Pattern
}

func incomingTraceID(r *http.Request) string {
	for _, header := range []string{traceHeader, requestHeader} {
		if value := r.Header.Get(header); validTraceID(value) {
			return value
		}
	}
	return ""
}

func validTraceID(value string) bool {
	if value == "" || len(value) > maxTraceIDLen {
		return false
	}
	for _, c := range value {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(body []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(body)
	r.bytes += n
	return n, err
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	r.wroteHeader = true
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func newTraceID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
