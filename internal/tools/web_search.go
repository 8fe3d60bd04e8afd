package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
)

const (
	defaultSearchCount   = 5
	maxSearchCount       = 10
	searchTimeoutSeconds = 30
	webUserAgent         = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// searchProvider abstracts a web search backend.
type searchProvider interface {
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
	Name() string
}

type searchResult struct {
	Title       string
	URL         string
	Description string
}

// webSearchTool queries the configured providers in priority order, first
// success wins. Results cache briefly per query.
type webSearchTool struct {
	providers []searchProvider
	cache     *webCache
}

// NewWebSearchTool builds the search tool, or nil when no provider is
// enabled.
func NewWebSearchTool(cfg config.WebToolsConfig) Tool {
	var providers []searchProvider
	if cfg.Brave.Enabled && cfg.Brave.APIKey != "" {
		providers = append(providers, newBraveProvider(cfg.Brave.APIKey))
	}
	if cfg.DuckDuckGo.Enabled {
		providers = append(providers, newDuckDuckGoProvider())
	}
	if len(providers) == 0 {
		return nil
	}
	return &webSearchTool{
		providers: providers,
		cache:     newWebCache(defaultCacheMaxEntries, defaultCacheTTL),
	}
}

func (t *webSearchTool) Name() string { return "web_search" }
func (t *webSearchTool) Description() string {
	return "Search the web. Returns titles, URLs, and snippets."
}
func (t *webSearchTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query": prop("string", "Search query."),
		"count": map[string]any{
			"type":        "number",
			"description": "Number of results (1-10).",
			"minimum":     1.0,
			"maximum":     float64(maxSearchCount),
		},
	})
}

func (t *webSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return "", err
	}
	count := intArg(args, "count", defaultSearchCount)
	if count < 1 || count > maxSearchCount {
		count = defaultSearchCount
	}

	cacheKey := fmt.Sprintf("search:%s:%d", query, count)
	if cached, ok := t.cache.get(cacheKey); ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeoutSeconds*time.Second)
	defer cancel()

	var lastErr error
	for _, p := range t.providers {
		results, err := p.Search(ctx, query, count)
		if err != nil {
			slog.Warn("tools.search_provider_failed", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		out := wrapExternalContent(formatSearchResults(query, results, p.Name()), "web_search", false)
		t.cache.set(cacheKey, out)
		return out, nil
	}
	return "", errs.Wrap(errs.KindInternal, lastErr, "all search providers failed")
}

func formatSearchResults(query string, results []searchResult, provider string) string {
	if len(results) == 0 {
		return "no results for: " + query
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "results for %q via %s:\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
