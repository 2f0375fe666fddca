package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlscribe/sqlscribe/internal/observability"
)

type contextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}

// Middleware resolves the caller from X-API-Key or a bearer token. Failures
// answer 401 before any project is looked at.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, scheme := credentialFrom(r)
			if apiKey == "" {
				writeUnauthorized(w, r, "missing API key")
				return
			}
			identity, ok := validator.Validate(r.Context(), apiKey)
			if !ok {
				logger.WarnContext(r.Context(), "api key rejected",
					observability.TraceAttr(r.Context()),
					slog.String("scheme", scheme),
					slog.String("remote_addr", r.RemoteAddr),
				)
				writeUnauthorized(w, r, "invalid API key")
				return
			}
			observability.Annotate(r.Context(), slog.String("caller", identity.KeyID))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Authorize reports whether the identity in ctx may perform role on project.
// Requests without an identity are allowed; that only happens when auth is off.
// The project is recorded on the request log either way.
func Authorize(ctx context.Context, project, role string) bool {
	observability.Annotate(ctx, slog.String("project", project))
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return true
	}
	allowed := identity.HasRole(role) && identity.CanAccess(project)
	if !allowed {
		observability.Annotate(ctx, slog.String("denied_role", role))
	}
	return allowed
}

// credentialFrom returns the presented key and where it came from. The
// bearer scheme name is matched case-insensitively.
func credentialFrom(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "x-api-key"
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", ""
	}
	return strings.TrimSpace(token), "bearer"
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="sqlscribe"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":      message,
		"error_code": "UNAUTHORIZED",
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
