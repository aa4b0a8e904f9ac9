// Package fetcher downloads web pages and attachments, extracting readable text
// from HTML and caching successful fetches.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout  = 10 * time.Second
	MaxTextChars    = 5000
	MaxImageBytes   = 10 << 20
	maxHTMLBytes    = 5 << 20
	truncatedSuffix = "\n\n[Content truncated]"
	userAgent       = "Mozilla/5.0 (compatible; parley/1.0)"
)

var (
	ErrTooLarge        = errors.New("response exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrEmpty           = errors.New("empty response body")
)

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Page is the useful part of a fetched URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	IsImage     bool   `json:"is_image"`
	Truncated   bool   `json:"truncated,omitempty"`
}

type Config struct {
	Timeout  time.Duration
	CacheTTL time.Duration
}

type Fetcher struct {
	client *http.Client
	cache  Cache
	group  singleflight.Group
}

// New builds a Fetcher. A nil cache disables caching.
func New(cfg Config, cache Cache) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cache == nil {
		cache = noopCache{}
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}
}

// Fetch returns the readable content of url. Successful results are cached;
// concurrent fetches of the same url share one request.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if page, ok := f.cache.Get(ctx, url); ok {
		slog.DebugContext(ctx, "fetch cache hit", "url", url)
		return page, nil
	}

	v, err, shared := f.group.Do(url, func() (any, error) {
		page, err := f.fetch(ctx, url)
		if err != nil {
			return Page{}, err
		}
		f.cache.Set(ctx, url, page)
		return page, nil
	})
	if err != nil {
		return Page{}, err
	}

	slog.DebugContext(ctx, "fetched url", "url", url, "shared", shared)
	return v.(Page), nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (Page, error) {
	resp, err := f.get(ctx, url)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	contentType := mediaType(resp.Header.Get("Content-Type"))

	switch {
	case strings.HasPrefix(contentType, "image/"):
		data, err := readLimited(resp.Body, MaxImageBytes)
		if err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		detected := mimetype.Detect(data)
		if !strings.HasPrefix(detected.String(), "image/") {
			return Page{}, fmt.Errorf("fetch %s: declared %s but content is %s: %w", url, contentType, detected.String(), ErrUnsupportedType)
		}
		return Page{
			URL:         url,
			Content:     fmt.Sprintf("[Image: %s, %d bytes]", detected.String(), len(data)),
			ContentType: detected.String(),
			IsImage:     true,
		}, nil

	case contentType == "text/html", contentType == "application/xhtml+xml", contentType == "":
		data, err := readLimited(resp.Body, maxHTMLBytes)
		if err != nil && !errors.Is(err, ErrTooLarge) {
			return Page{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		title, text, err := ExtractHTML(bytes.NewReader(data))
		if err != nil {
			return Page{}, fmt.Errorf("extract %s: %w", url, err)
		}
		content, truncated := Truncate(text, MaxTextChars)
		return Page{URL: url, Title: title, Content: content, ContentType: "text/html", Truncated: truncated}, nil

	case strings.HasPrefix(contentType, "text/"), contentType == "application/json", strings.HasSuffix(contentType, "+json"):
		data, err := readLimited(resp.Body, maxHTMLBytes)
		if err != nil && !errors.Is(err, ErrTooLarge) {
			return Page{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		content, truncated := Truncate(strings.TrimSpace(string(data)), MaxTextChars)
		return Page{URL: url, Content: content, ContentType: contentType, Truncated: truncated}, nil

	default:
		return Page{}, fmt.Errorf("fetch %s: %s: %w", url, contentType, ErrUnsupportedType)
	}
}

// Download returns the raw body of url, refusing bodies over maxBytes.
// The returned content type is the one the server declared.
func (f *Fetcher) Download(ctx context.Context, url string, maxBytes int64) ([]byte, string, error) {
	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.ContentLength > maxBytes {
		return nil, "", fmt.Errorf("download %s: %d bytes: %w", url, resp.ContentLength, ErrTooLarge)
	}

	data, err := readLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("download %s: %w", url, ErrEmpty)
	}

	return data, mediaType(resp.Header.Get("Content-Type")), nil
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,image/*;q=0.8,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// readLimited reads at most limit bytes. When the body is longer it returns the
// first limit bytes together with ErrTooLarge.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return data[:limit], ErrTooLarge
	}
	return data, nil
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return mt
}

// Truncate cuts s to at most max runes, marking the cut.
func Truncate(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]) + truncatedSuffix, true
}
