// Package search looks up encyclopedia summaries for the chatbot.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/lyceum/internal/apierr"
)

const (
	defaultResults  = 3
	defaultMaxRunes = 4000
	userAgent       = "lyceum/1.0 (classroom assistant)"
)

// Wikipedia queries the MediaWiki action API.
type Wikipedia struct {
	baseURL  string
	http     *http.Client
	results  int
	maxRunes int
}

// NewWikipedia returns a client for the given language edition ("en" when
// empty). baseURL overrides the endpoint, for tests and mirrors.
func NewWikipedia(lang, baseURL string) *Wikipedia {
	if lang == "" {
		lang = "en"
	}
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.wikipedia.org", lang)
	}
	return &Wikipedia{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		results:  defaultResults,
		maxRunes: defaultMaxRunes,
	}
}

type queryResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Index   int    `json:"index"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// Search returns the intro summaries of the top matching articles as
// "Page: <title>\nSummary: <text>" blocks. No match yields "".
func (w *Wikipedia) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", apierr.Validation("search query is empty")
	}
	params := url.Values{
		"action":        {"query"},
		"format":        {"json"},
		"formatversion": {"2"},
		"generator":     {"search"},
		"gsrsearch":     {truncateRunes(query, 300)},
		"gsrlimit":      {fmt.Sprint(w.results)},
		"prop":          {"extracts"},
		"exintro":       {"1"},
		"explaintext":   {"1"},
		"redirects":     {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/w/api.php?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build wikipedia request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return "", apierr.Upstream("Wikipedia", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apierr.Upstream("Wikipedia", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return "", apierr.Upstream("Wikipedia", fmt.Errorf("decode response: %w", err))
	}

	pages := qr.Query.Pages
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	var blocks []string
	for _, p := range pages {
		extract := strings.TrimSpace(p.Extract)
		if extract == "" {
			continue
		}
		blocks = append(blocks, "Page: "+p.Title+"\nSummary: "+extract)
	}
	return truncateRunes(strings.Join(blocks, "\n\n"), w.maxRunes), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
