package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inkwell/api/internal/retrieval"
	"inkwell/api/internal/store"
)

// SourceSearcher answers lookups against the retrieval index.
type SourceSearcher interface {
	Search(q retrieval.Query) ([]retrieval.Hit, error)
}

// SourceLister lists the sources attached to a document.
type SourceLister interface {
	ListSources(ctx context.Context, documentID string) ([]store.Source, error)
}

// Toolbox builds the tool set for one generation based on the
// document's settings.
type Toolbox struct {
	retrieval       SourceSearcher
	sources         SourceLister
	webSearchAPIKey string
	client          *http.Client
}

func NewToolbox(retrievalSvc SourceSearcher, sources SourceLister, webSearchAPIKey string) *Toolbox {
	return &Toolbox{
		retrieval:       retrievalSvc,
		sources:         sources,
		webSearchAPIKey: webSearchAPIKey,
		client:          &http.Client{Timeout: 15 * time.Second},
	}
}

// Build returns the tools enabled by settings, each bound to the given
// document so lookups cannot cross into other documents.
func (tb *Toolbox) Build(documentID string, settings store.DocumentSettings) []Tool {
	var tools []Tool
	if settings.ToolSources && tb.retrieval != nil {
		tools = append(tools, tb.searchSourcesTool(documentID))
	}
	if settings.ToolWebSearch {
		tools = append(tools, tb.webSearchTool())
	}
	if settings.ToolCitations && tb.sources != nil {
		tools = append(tools, tb.listSourcesTool(documentID))
	}
	return tools
}

func stringInput(input map[string]any, key string) string {
	value, _ := input[key].(string)
	return strings.TrimSpace(value)
}

func (tb *Toolbox) searchSourcesTool(documentID string) Tool {
	return Tool{
		Name:        "search_sources",
		Description: "Search the reference material the author attached to this document. Returns the most relevant passages.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for in the attached sources",
				},
			},
			"required": []string{"query"},
		},
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			query := stringInput(input, "query")
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			hits, err := tb.retrieval.Search(retrieval.Query{
				Text:       query,
				DocumentID: documentID,
				Limit:      5,
			})
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return "No matching passages in the attached sources.", nil
			}
			var b strings.Builder
			for _, hit := range hits {
				fmt.Fprintf(&b, "[%s] (source %s)\n%s\n\n", hit.Title, hit.SourceID, hit.Snippet)
			}
			return strings.TrimSpace(b.String()), nil
		},
	}
}

func (tb *Toolbox) webSearchTool() Tool {
	return Tool{
		Name:        "web_search",
		Description: "Search the public web for current information.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			query := stringInput(input, "query")
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			// Missing key degrades to a message instead of failing the
			// whole generation.
			if tb.webSearchAPIKey == "" {
				return "Web search is not configured on this server.", nil
			}
			return tb.braveSearch(ctx, query)
		},
	}
}

func (tb *Toolbox) braveSearch(ctx context.Context, query string) (string, error) {
	endpoint := "https://api.search.brave.com/res/v1/web/search?count=5&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build web search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", tb.webSearchAPIKey)

	resp, err := tb.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web search: status %d", resp.StatusCode)
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("web search: decode response: %w", err)
	}
	if len(parsed.Web.Results) == 0 {
		return "No web results found.", nil
	}

	var b strings.Builder
	for _, r := range parsed.Web.Results {
		fmt.Fprintf(&b, "%s\n%s\n%s\n\n", r.Title, r.URL, r.Description)
	}
	return strings.TrimSpace(b.String()), nil
}

func (tb *Toolbox) listSourcesTool(documentID string) Tool {
	return Tool{
		Name:        "list_sources",
		Description: "List the sources attached to this document so passages can be cited by title.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			sources, err := tb.sources.ListSources(ctx, documentID)
			if err != nil {
				return "", err
			}
			var b strings.Builder
			for _, src := range sources {
				if src.Status != store.SourceIndexed {
					continue
				}
				fmt.Fprintf(&b, "%s: %s", src.ID, src.Title)
				if src.URL != "" {
					fmt.Fprintf(&b, " (%s)", src.URL)
				}
				b.WriteString("\n")
			}
			if b.Len() == 0 {
				return "This document has no indexed sources.", nil
			}
			return strings.TrimSpace(b.String()), nil
		},
	}
}
