package tools

import (
	"github.com/mwortham/reeve/internal/fetch"
)

// SetFetcher adds the web_fetch tool to the registry.
func (r *Registry) SetFetcher(f *fetch.Fetcher) {
	r.fetcher = f
	r.registerFetchTools()
}

func (r *Registry) registerFetchTools() {
	if r.fetcher == nil {
		return
	}

	r.Register(&Tool{
		Name: "web_fetch",
		Description: "Fetch a web page and extract its readable text content. " +
			"Use this to read an article or page a search result points to.",
		Parameters: fetch.ToolDefinition(),
		Handler:    fetch.ToolHandler(r.fetcher),
	})
}
