// Package search provides lightweight web search over the DuckDuckGo HTML
// endpoint. Results feed handler prompts as context; an empty result set is
// not an error.
package search

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"peeragent/app/pkg/logger"
)

const (
	endpoint       = "https://html.duckduckgo.com/html/"
	defaultTimeout = 10 * time.Second
	userAgent      = "Mozilla/5.0 (compatible; peeragent/1.0)"
)

// Item is one search hit.
type Item struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher is implemented by Client and by test fakes.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Item, error)
}

type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: defaultTimeout}}
}

var (
	resultRe  = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	snippetRe = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
)

// Search posts the query and scrapes the result page. Network failures are
// returned to the caller; handlers treat them as degraded context, not as a
// task failure.
func (c *Client) Search(ctx context.Context, query string, max int) ([]Item, error) {
	if max <= 0 {
		max = 5
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	items := ParseResults(string(body), max)
	logger.Debug("Search %q returned %d results", query, len(items))
	return items, nil
}

// ParseResults extracts result links and snippets from the HTML page.
func ParseResults(page string, max int) []Item {
	links := resultRe.FindAllStringSubmatch(page, -1)
	snippets := snippetRe.FindAllStringSubmatch(page, -1)

	var items []Item
	for i, link := range links {
		if len(items) >= max {
			break
		}
		item := Item{
			URL:   cleanURL(link[1]),
			Title: cleanText(link[2]),
		}
		if item.URL == "" || item.Title == "" {
			continue
		}
		if i < len(snippets) {
			item.Snippet = cleanText(snippets[i][1])
		}
		items = append(items, item)
	}
	return items
}

// FormatContext renders results as prompt context.
func FormatContext(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Web search results:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", i+1, item.Title, item.URL, item.Snippet)
	}
	return b.String()
}

// cleanURL unwraps DuckDuckGo's redirect links.
func cleanURL(raw string) string {
	raw = html.UnescapeString(raw)
	if strings.Contains(raw, "uddg=") {
		if parsed, err := url.Parse(raw); err == nil {
			if target := parsed.Query().Get("uddg"); target != "" {
				return target
			}
		}
	}
	return raw
}

func cleanText(raw string) string {
	raw = tagRe.ReplaceAllString(raw, "")
	return strings.TrimSpace(html.UnescapeString(raw))
}
