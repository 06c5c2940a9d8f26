package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultSearchEndpoint is the Brave web search API.
const DefaultSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

// WebConfig configures the web tools.
type WebConfig struct {
	BraveAPIKey      string
	SearchEndpoint   string
	MaxResults       int
	MaxResponseBytes int
	Timeout          time.Duration
}

func (c WebConfig) withDefaults() WebConfig {
	if c.SearchEndpoint == "" {
		c.SearchEndpoint = DefaultSearchEndpoint
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 100_000
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

func newWebClient(cfg WebConfig) *resty.Client {
	return resty.New().
		SetTimeout(cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("User-Agent", "soulbot/1.0")
}

// NewWebTools returns web_search, scrape_url and http_request sharing one
// HTTP client.
func NewWebTools(cfg WebConfig) []Tool {
	cfg = cfg.withDefaults()
	client := newWebClient(cfg)
	return []Tool{
		&WebSearchTool{cfg: cfg, client: client},
		&ScrapeURLTool{cfg: cfg, client: client},
		&HTTPRequestTool{cfg: cfg, client: client},
	}
}

// WebSearchTool searches the web via the Brave API.
type WebSearchTool struct {
	cfg    WebConfig
	client *resty.Client
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Tier() int    { return TierReadOnly }

func (t *WebSearchTool) Description() string {
	return "Search the web for information on a topic."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string",
			},
		},
		"required": []string{"query"},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "Error: query is required", nil
	}
	if t.cfg.BraveAPIKey == "" {
		return "Web search is not configured. Set BRAVE_API_KEY.", nil
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("X-Subscription-Token", t.cfg.BraveAPIKey).
		SetQueryParam("q", query).
		SetQueryParam("count", strconv.Itoa(t.cfg.MaxResults)).
		Get(t.cfg.SearchEndpoint)
	if err != nil {
		return fmt.Sprintf("Search failed: %v", err), nil
	}
	if resp.IsError() {
		return fmt.Sprintf("Search failed: HTTP %d", resp.StatusCode()), nil
	}

	var parsed braveResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return fmt.Sprintf("Search failed: %v", err), nil
	}
	if len(parsed.Web.Results) == 0 {
		return "No search results found.", nil
	}
	lines := make([]string, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		lines = append(lines, fmt.Sprintf("**%s** (%s)\n%s", title, r.URL, r.Description))
	}
	return GuardWebContent(truncate(strings.Join(lines, "\n\n"), t.cfg.MaxResponseBytes), t.cfg.SearchEndpoint), nil
}

// ScrapeURLTool fetches a page and returns its readable text.
type ScrapeURLTool struct {
	cfg    WebConfig
	client *resty.Client
}

func (t *ScrapeURLTool) Name() string { return "scrape_url" }
func (t *ScrapeURLTool) Tier() int    { return TierReadOnly }

func (t *ScrapeURLTool) Description() string {
	return "Fetch a URL and return its content as plain text. Must be http or https."
}

func (t *ScrapeURLTool) Parameters() map[string]any {
	return urlParameters("The URL to scrape")
}

func (t *ScrapeURLTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	target, err := SanitizeURL(GetString(params, "url", ""))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	resp, err := t.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return fmt.Sprintf("Scrape failed: %v", err), nil
	}
	if resp.IsError() {
		return fmt.Sprintf("Scrape failed: HTTP %d", resp.StatusCode()), nil
	}
	text := HTMLToText(resp.String())
	if text == "" {
		return "No content could be extracted from this page.", nil
	}
	return GuardWebContent(truncate(text, t.cfg.MaxResponseBytes), target), nil
}

// HTTPRequestTool fetches raw content from a URL.
type HTTPRequestTool struct {
	cfg    WebConfig
	client *resty.Client
}

func (t *HTTPRequestTool) Name() string { return "http_request" }
func (t *HTTPRequestTool) Tier() int    { return TierReadOnly }

func (t *HTTPRequestTool) Description() string {
	return "Fetch raw content from a URL (no rendering). Use scrape_url for clean content."
}

func (t *HTTPRequestTool) Parameters() map[string]any {
	return urlParameters("The URL to fetch")
}

func (t *HTTPRequestTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	target, err := SanitizeURL(GetString(params, "url", ""))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	resp, err := t.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return fmt.Sprintf("Request failed: %v", err), nil
	}
	body := truncate(resp.String(), t.cfg.MaxResponseBytes)
	if resp.IsError() {
		body = fmt.Sprintf("HTTP %d\n%s", resp.StatusCode(), body)
	}
	return GuardWebContent(body, target), nil
}

func urlParameters(desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": desc,
			},
		},
		"required": []string{"url"},
	}
}
