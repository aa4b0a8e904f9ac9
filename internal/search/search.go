// Package search finds web results through a chain of backends, falling back
// to a hand-built search link when every backend fails.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

var ErrNoResults = errors.New("no results")

type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

// Searcher is one search backend.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Chain tries each backend in order and returns the first non-empty result set.
// It never returns an empty set: when all backends fail the result is a single
// manual search link.
type Chain struct {
	backends []Searcher
}

func NewChain(backends ...Searcher) *Chain {
	return &Chain{backends: backends}
}

func (c *Chain) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}

	for _, b := range c.backends {
		results, err := b.Search(ctx, query, limit)
		if err == nil && len(results) > 0 {
			if len(results) > limit {
				results = results[:limit]
			}
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			err = ErrNoResults
		}
		slog.WarnContext(ctx, "search backend failed, trying next",
			"backend", b.Name(),
			"error", err)
	}

	return []Result{ManualResult(query)}, nil
}

// ManualResult is the last-resort result pointing the user at a search page.
func ManualResult(query string) Result {
	return Result{
		Title:   fmt.Sprintf("Search for %q", query),
		Snippet: "Automatic web search is unavailable right now. Open this link to search manually.",
		URL:     "https://duckduckgo.com/?q=" + url.QueryEscape(query),
		Source:  "manual",
	}
}

// Config selects and configures backends for NewDefault.
type Config struct {
	BraveAPIKey string
	HTTPClient  *http.Client
}

// NewDefault builds the standard chain: DuckDuckGo HTML, Brave (when a key is set),
// then the DuckDuckGo instant answer API.
func NewDefault(cfg Config) *Chain {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	backends := []Searcher{NewDuckDuckGoHTML(client, "")}
	if cfg.BraveAPIKey != "" {
		backends = append(backends, NewBrave(client, cfg.BraveAPIKey, ""))
	}
	backends = append(backends, NewDuckDuckGoInstant(client, ""))

	return NewChain(backends...)
}

// Format renders results for the model.
func Format(query string, results []Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return sb.String()
}

func doGet(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; parley/1.0)")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp, nil
}
