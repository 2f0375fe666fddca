package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:sales|hr:indexer|query_reader, k2:*:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if !identity.HasRole(RoleIndexer) || !identity.HasRole(RoleQueryReader) {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	if !identity.CanAccess("sales") || identity.CanAccess("finance") {
		t.Fatalf("Projects = %v", identity.Projects)
	}

	wildcard, ok := validator.Validate(context.Background(), "k2")
	if !ok {
		t.Fatal("expected k2 to be valid")
	}
	if !wildcard.CanAccess("anything") {
		t.Fatal("wildcard key should access every project")
	}
	if wildcard.HasRole(RoleIndexer) {
		t.Fatal("k2 should not have indexer role")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{
		"invalid",
		"k1::query_reader",
		"k1:sales:",
		"k1:sales:admin",
		"k1:sales:indexer,k1:hr:indexer",
	} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("expected parse error for %q", spec)
		}
	}
}

func TestAuthorize(t *testing.T) {
	if !Authorize(context.Background(), "sales", RoleIndexer) {
		t.Fatal("requests without identity should be allowed")
	}
	ctx := WithIdentity(context.Background(), Identity{Projects: []string{"sales"}, Roles: []string{RoleQueryReader}})
	if !Authorize(ctx, "sales", RoleQueryReader) {
		t.Fatal("expected reader access to sales")
	}
	if Authorize(ctx, "sales", RoleIndexer) {
		t.Fatal("reader must not index")
	}
	if Authorize(ctx, "hr", RoleQueryReader) {
		t.Fatal("reader must not reach other projects")
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:*:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/get_response", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate challenge")
	}
}

func TestMiddlewareIgnoresOtherAuthorizationSchemes(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:*:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("Authorization", "Basic k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestValidatorFingerprintsKeys(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("secret-key-1:sales:query_reader,secret-key-2:sales:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	first, _ := validator.Validate(context.Background(), "secret-key-1")
	second, _ := validator.Validate(context.Background(), "secret-key-2")
	if first.KeyID == "" || first.KeyID == second.KeyID {
		t.Fatalf("KeyIDs = %q, %q", first.KeyID, second.KeyID)
	}
	if strings.Contains(first.KeyID, "secret") {
		t.Fatalf("KeyID leaks the key: %q", first.KeyID)
	}
}

func TestParseErrorsDoNotEchoKeys(t *testing.T) {
	_, err := NewStaticAPIKeyValidator("ok:sales:indexer,hunter2:sales:admin")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if strings.Contains(err.Error(), "hunter2") {
		t.Fatalf("error echoes the key: %v", err)
	}
}

func TestMiddlewareInjectsIdentityFromBearer(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:sales:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if !identity.CanAccess("sales") {
			t.Fatalf("Projects = %v", identity.Projects)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/get_response", nil)
	req.Header.Set("Authorization", "bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}
