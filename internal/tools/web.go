package tools

import (
	"context"
	"fmt"

	"github.com/nugget/tollgate/internal/fetch"
)

// RegisterFetch adds the web_fetch tool backed by f.
func (r *Registry) RegisterFetch(f *fetch.Fetcher) {
	r.Register(&Tool{
		Name:        "web_fetch",
		Description: "Fetch a web page and return its readable text content. Use for questions about a specific URL.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum characters to return. Default: %d.", fetch.DefaultMaxChars),
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var p struct {
				URL      string `json:"url"`
				MaxChars int    `json:"max_chars"`
			}
			if err := decodeArgs("web_fetch", args, &p); err != nil {
				return "", err
			}
			if p.URL == "" {
				return "", fmt.Errorf("web_fetch: url is required")
			}
			page, err := f.Fetch(ctx, p.URL, p.MaxChars)
			if err != nil {
				return "", fmt.Errorf("web_fetch: %w", err)
			}
			return page.Text(), nil
		},
	})
}
