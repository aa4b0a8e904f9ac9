package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	ddgHTMLEndpoint    = "https://html.duckduckgo.com/html/"
	ddgInstantEndpoint = "https://api.duckduckgo.com/"
)

// DuckDuckGoHTML scrapes the JavaScript-free DuckDuckGo results page.
type DuckDuckGoHTML struct {
	client   *http.Client
	endpoint string
}

func NewDuckDuckGoHTML(client *http.Client, endpoint string) *DuckDuckGoHTML {
	if endpoint == "" {
		endpoint = ddgHTMLEndpoint
	}
	return &DuckDuckGoHTML{client: client, endpoint: endpoint}
}

func (d *DuckDuckGoHTML) Name() string { return "duckduckgo_html" }

func (d *DuckDuckGoHTML) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	resp, err := doGet(ctx, d.client, d.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo html: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo html: parse: %w", err)
	}

	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href := resolveDDGLink(link.AttrOr("href", ""))
		if title == "" || href == "" {
			return true
		}
		results = append(results, Result{
			Title:   title,
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
			URL:     href,
			Source:  d.Name(),
		})
		return len(results) < limit
	})

	return results, nil
}

// resolveDDGLink unwraps DuckDuckGo's redirect links ("//duckduckgo.com/l/?uddg=...").
func resolveDDGLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}

// DuckDuckGoInstant queries the Instant Answer API. It only knows about well-known
// topics, so it sits last in the chain.
type DuckDuckGoInstant struct {
	client   *http.Client
	endpoint string
}

func NewDuckDuckGoInstant(client *http.Client, endpoint string) *DuckDuckGoInstant {
	if endpoint == "" {
		endpoint = ddgInstantEndpoint
	}
	return &DuckDuckGoInstant{client: client, endpoint: endpoint}
}

func (d *DuckDuckGoInstant) Name() string { return "duckduckgo_instant" }

type instantTopic struct {
	Text     string         `json:"Text"`
	FirstURL string         `json:"FirstURL"`
	Name     string         `json:"Name"`
	Topics   []instantTopic `json:"Topics"`
}

type instantResponse struct {
	Heading        string         `json:"Heading"`
	AbstractText   string         `json:"AbstractText"`
	AbstractURL    string         `json:"AbstractURL"`
	AbstractSource string         `json:"AbstractSource"`
	Answer         string         `json:"Answer"`
	RelatedTopics  []instantTopic `json:"RelatedTopics"`
}

func (d *DuckDuckGoInstant) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	resp, err := doGet(ctx, d.client, d.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo instant: %w", err)
	}
	defer resp.Body.Close()

	var body instantResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("duckduckgo instant: decode: %w", err)
	}

	var results []Result
	if body.AbstractText != "" && body.AbstractURL != "" {
		results = append(results, Result{
			Title:   body.Heading,
			Snippet: body.AbstractText,
			URL:     body.AbstractURL,
			Source:  d.Name(),
		})
	}

	var walk func(topics []instantTopic)
	walk = func(topics []instantTopic) {
		for _, t := range topics {
			if len(results) >= limit {
				return
			}
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			if t.Text == "" || t.FirstURL == "" {
				continue
			}
			title, _, _ := strings.Cut(t.Text, " - ")
			results = append(results, Result{
				Title:   title,
				Snippet: t.Text,
				URL:     t.FirstURL,
				Source:  d.Name(),
			})
		}
	}
	walk(body.RelatedTopics)

	return results, nil
}
