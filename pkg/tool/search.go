package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atriumhq/atrium/pkg/httpclient"
)

// SearchConfig configures the web-search tool's backing service.
type SearchConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    int // seconds
	MaxResults int
}

func (c *SearchConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 15
	}
	if c.MaxResults == 0 {
		c.MaxResults = 5
	}
}

// SearchTool queries an external search service and returns snippets the
// model can cite.
type SearchTool struct {
	config     SearchConfig
	httpClient *httpclient.Client
}

func NewSearchTool(cfg SearchConfig) *SearchTool {
	cfg.SetDefaults()
	return &SearchTool{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(time.Second),
		),
	}
}

func (t *SearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        NameSearch,
		Description: "Search the web. Returns result titles, URLs and snippets.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The search query",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
				},
			},
			"required": []string{"query"},
		},
	}
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return errorResult("search requires a non-empty query"), nil
	}

	maxResults := t.config.MaxResults
	if n, ok := args["max_results"].(float64); ok && int(n) > 0 && int(n) < maxResults {
		maxResults = int(n)
	}

	body, err := json.Marshal(searchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.config.Endpoint+"/search", bytes.NewReader(body))
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to create search request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if t.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return errorResult(fmt.Sprintf("search service unavailable: %v", err)), nil
	}
	if resp.StatusCode != http.StatusOK {
		return errorResult(fmt.Sprintf("search service returned status %d", resp.StatusCode)), nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errorResult(fmt.Sprintf("failed to decode search response: %v", err)), nil
	}

	audit := map[string]interface{}{"result_count": len(parsed.Results)}
	if len(parsed.Results) == 0 {
		return ToolResult{Success: true, Content: "No results found.", Audit: audit}, nil
	}

	var b strings.Builder
	for i, r := range parsed.Results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return ToolResult{Success: true, Content: strings.TrimSpace(b.String()), Audit: audit}, nil
}
