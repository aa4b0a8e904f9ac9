package fetcher

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	noiseSelectors = "script, style, noscript, nav, header, footer, aside, form, iframe, svg, [role=navigation], [aria-hidden=true]"
	mainSelectors  = []string{"article", "main", "[role=main]", "#content", ".content", ".post"}

	blankLines = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t\f\r]+`)
)

// ExtractHTML returns the page title and the readable text of its main content.
func ExtractHTML(r io.Reader) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}

	doc.Find(noiseSelectors).Remove()

	root := doc.Find("body")
	for _, sel := range mainSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 && strings.TrimSpace(s.Text()) != "" {
			root = s
			break
		}
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	return title, collapse(textOf(root)), nil
}

// textOf renders a selection as text, breaking lines after block elements.
func textOf(s *goquery.Selection) string {
	s.Find("li").Each(func(_ int, el *goquery.Selection) {
		el.PrependHtml("- ")
	})
	s.Find("p, div, li, h1, h2, h3, h4, h5, h6, pre, blockquote, tr, br").Each(func(_ int, el *goquery.Selection) {
		el.AfterHtml("\n")
	})
	return s.Text()
}

func collapse(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
