package search

import (
	"context"
	"encoding/json"
	"fmt"
)

// toolMaxCount bounds the count argument the model may pass. Providers
// have their own API limits; this one keeps tool results small enough
// to stay useful as model context.
const toolMaxCount = 10

// ToolHandler adapts a Manager to the tools registry handler
// signature. The returned string is a JSON array of [Result].
func ToolHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search: query is required")
		}

		var opts Options
		if count, ok := args["count"].(float64); ok && count > 0 {
			opts.Count = int(count)
			if opts.Count > toolMaxCount {
				opts.Count = toolMaxCount
			}
		}
		if lang, ok := args["language"].(string); ok {
			opts.Language = lang
		}

		provider, _ := args["provider"].(string)

		var (
			results []Result
			err     error
		)
		if provider != "" {
			results, err = mgr.SearchWith(ctx, provider, query, opts)
		} else {
			results, err = mgr.Search(ctx, query, opts)
		}
		if err != nil {
			return "", err
		}

		// The model reads this directly; an empty array beats "null".
		if results == nil {
			results = []Result{}
		}
		out, err := json.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("web_search: encode results: %w", err)
		}
		return string(out), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the web_search
// tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (1-10). Default: 5.",
			},
			"language": map[string]any{
				"type":        "string",
				"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
			},
			"provider": map[string]any{
				"type":        "string",
				"description": "Search provider to use. Omit for default.",
			},
		},
		"required": []string{"query"},
	}
}
