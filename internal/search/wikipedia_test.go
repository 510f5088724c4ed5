package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/lyceum/internal/apierr"
)

func TestWikipediaSearch(t *testing.T) {
	var gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/w/api.php" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("gsrsearch")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"batchcomplete":true,"query":{"pages":[
			{"pageid":2,"title":"Inertia","index":2,"extract":"Inertia is the resistance of an object to changes in velocity."},
			{"pageid":1,"title":"Newton's laws of motion","index":1,"extract":"Three laws of classical mechanics."},
			{"pageid":3,"title":"Empty","index":3,"extract":""}
		]}}`))
	}))
	defer srv.Close()

	w := NewWikipedia("en", srv.URL)
	got, err := w.Search(context.Background(), "  newton first law ")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := "Page: Newton's laws of motion\nSummary: Three laws of classical mechanics.\n\n" +
		"Page: Inertia\nSummary: Inertia is the resistance of an object to changes in velocity."
	if got != want {
		t.Errorf("Search() = %q, want %q", got, want)
	}
	if gotQuery != "newton first law" {
		t.Errorf("query sent = %q", gotQuery)
	}
	if gotAgent == "" {
		t.Error("missing User-Agent")
	}
}

func TestWikipediaNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"batchcomplete":true}`))
	}))
	defer srv.Close()

	got, err := NewWikipedia("", srv.URL).Search(context.Background(), "zzzz")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != "" {
		t.Errorf("Search() = %q, want empty", got)
	}
}

func TestWikipediaErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	w := NewWikipedia("en", srv.URL)

	if _, err := w.Search(context.Background(), "x"); !apierr.Is(err, apierr.KindUpstream) {
		t.Errorf("Search() error = %v, want upstream", err)
	}
	if _, err := w.Search(context.Background(), "   "); !apierr.Is(err, apierr.KindValidation) {
		t.Errorf("Search(blank) error = %v, want validation", err)
	}
}

func TestSearchTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"query":{"pages":[{"title":"Long","index":1,"extract":"` + strings.Repeat("a", 5000) + `"}]}}`))
	}))
	defer srv.Close()

	got, err := NewWikipedia("en", srv.URL).Search(context.Background(), "long")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != defaultMaxRunes {
		t.Errorf("len = %d, want %d", len(got), defaultMaxRunes)
	}
}
