package uistatic

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesPageAndAssets(t *testing.T) {
	h := Handler()

	for _, tt := range []struct {
		path  string
		want  string
		cache string
	}{
		{"/", "<title>sqlscribe</title>", "no-cache"},
		{"/index.html", "<title>sqlscribe</title>", "no-cache"},
		{"/app.js", "/get_response/", "public, max-age=300"},
		{"/projects/shop", "<title>sqlscribe</title>", "no-cache"},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", tt.path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), tt.want) {
			t.Fatalf("GET %s body missing %q", tt.path, tt.want)
		}
		if got := rr.Header().Get("Cache-Control"); got != tt.cache {
			t.Fatalf("GET %s Cache-Control = %q", tt.path, got)
		}
	}
}

func TestHandlerMissingAssetIs404(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing.js", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}
