package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave Search API.
type Brave struct {
	client   *http.Client
	apiKey   string
	endpoint string
}

func NewBrave(client *http.Client, apiKey, endpoint string) *Brave {
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	return &Brave{client: client, apiKey: apiKey, endpoint: endpoint}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(limit)},
	}
	resp, err := doGet(ctx, b.client, b.endpoint+"?"+params.Encode(), map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": b.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer resp.Body.Close()

	var body braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("brave: decode: %w", err)
	}

	results := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			Snippet: stripTags(r.Description),
			URL:     r.URL,
			Source:  b.Name(),
		})
	}
	return results, nil
}

// stripTags drops the <strong> highlighting Brave puts in descriptions.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
