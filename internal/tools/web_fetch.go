package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const (
	defaultFetchMaxChars = 50000
	fetchMaxRedirects    = 3
	fetchTimeoutSeconds  = 30
)

// webFetchTool retrieves a URL and extracts readable content. SSRF checks
// run against the initial URL and every redirect hop.
type webFetchTool struct {
	cache *webCache
}

func NewWebFetchTool() Tool {
	return &webFetchTool{cache: newWebCache(defaultCacheMaxEntries, defaultCacheTTL)}
}

func (t *webFetchTool) Name() string { return "web_fetch" }
func (t *webFetchTool) Description() string {
	return "Fetch a URL and extract its content as markdown or plain text. HTML, JSON, and text are supported."
}
func (t *webFetchTool) Parameters() map[string]any {
	return schema([]string{"url"}, map[string]any{
		"url": prop("string", "HTTP or HTTPS URL."),
		"extract_mode": map[string]any{
			"type":        "string",
			"enum":        []string{"markdown", "text"},
			"description": "Extraction mode, default markdown.",
		},
		"max_chars": prop("number", "Truncate the extracted content at this length."),
	})
}

func (t *webFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, err := requireString(args, "url")
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errs.New(errs.KindInvalidInput, "invalid url: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errs.New(errs.KindInvalidInput, "only http and https urls are supported")
	}
	if err := checkSSRF(rawURL); err != nil {
		return "", errs.New(errs.KindInvalidInput, "blocked url: %v", err)
	}

	extractMode := "markdown"
	if m := stringArg(args, "extract_mode"); m == "text" {
		extractMode = m
	}
	maxChars := intArg(args, "max_chars", defaultFetchMaxChars)
	if maxChars < 100 {
		maxChars = defaultFetchMaxChars
	}

	cacheKey := fmt.Sprintf("fetch:%s:%s:%d", rawURL, extractMode, maxChars)
	if cached, ok := t.cache.get(cacheKey); ok {
		return cached, nil
	}

	content, err := t.fetch(ctx, rawURL, extractMode, maxChars)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "fetch %s", rawURL)
	}
	out := wrapExternalContent(content, "web_fetch", true)
	t.cache.set(cacheKey, out)
	return out, nil
}

func (t *webFetchTool) fetch(ctx context.Context, rawURL, extractMode string, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	redirects := 0
	client := &http.Client{
		Timeout: fetchTimeoutSeconds * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > fetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
			}
			return checkSSRF(req.URL.String())
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read extra over the cap; HTML collapses a lot when stripped.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars)*4))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "application/json"):
		text = extractJSON(body)
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		if extractMode == "markdown" {
			text = htmlToMarkdown(string(body))
		} else {
			text = htmlToText(string(body))
		}
	default:
		text = string(body)
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\nStatus: %d\n", resp.Request.URL.String(), resp.StatusCode)
	if truncated {
		fmt.Fprintf(&sb, "Truncated: true (limit %d chars)\n", maxChars)
	}
	sb.WriteString("\n")
	sb.WriteString(text)
	return sb.String(), nil
}
