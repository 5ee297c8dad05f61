package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Field Notes on Compost</title></head>
<body>
<article>
<h1>Field Notes on Compost</h1>
<p>Compost piles need a balance of carbon-rich browns and nitrogen-rich greens to heat up properly.
Turning the pile every week keeps oxygen flowing and speeds decomposition considerably.</p>
<p>A finished pile smells earthy rather than sour, and the original material is no longer recognizable.
Most home piles reach that point in three to six months depending on climate.</p>
</article>
</body>
</html>`

func TestFetchExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	result, err := NewFetcher(false).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Title != "Field Notes on Compost" {
		t.Fatalf("unexpected title: %q", result.Title)
	}
	if !strings.Contains(result.Text, "carbon-rich browns") {
		t.Fatalf("expected article text, got: %q", result.Text)
	}
}

func TestFetchRejectsNonHTTPScheme(t *testing.T) {
	if _, err := NewFetcher(false).Fetch(context.Background(), "file:///etc/passwd"); err == nil {
		t.Fatal("expected error for file scheme")
	}
}

func TestFetchFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := NewFetcher(false).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
