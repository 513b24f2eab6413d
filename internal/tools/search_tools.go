package tools

import (
	"github.com/mwortham/reeve/internal/search"
)

// SetSearchManager adds the web_search tool to the registry.
func (r *Registry) SetSearchManager(mgr *search.Manager) {
	r.searchMgr = mgr
	r.registerSearchTools()
}

func (r *Registry) registerSearchTools() {
	if r.searchMgr == nil {
		return
	}

	r.Register(&Tool{
		Name: "web_search",
		Description: "Search the web. Use this for current events, facts you are " +
			"unsure about, or anything that may have changed since your training. " +
			"Returns a JSON list of results with title, url, and snippet.",
		Parameters: search.ToolDefinition(),
		Handler:    search.ToolHandler(r.searchMgr),
	})
}
