package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templateFiles embed.FS

// pageTemplates are the page files layered over layout.html. Each one
// overrides the layout's content block.
var pageTemplates = []string{
	"dashboard.html",
	"sessions.html",
	"session_detail.html",
	"tasks.html",
}

// templateFuncs are the helpers available in every template.
var templateFuncs = template.FuncMap{
	"formatDuration": formatDuration,
	"formatTokens":   formatTokens,
	"timeAgo":        timeAgo,
	"truncate":       truncate,
}

// loadTemplates parses the layout once and clones it per page so each
// page's block overrides stay isolated. Panics on syntax errors;
// broken templates should kill startup, not the first request.
func loadTemplates() map[string]*template.Template {
	layout := template.Must(
		template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/layout.html"),
	)

	set := make(map[string]*template.Template, len(pageTemplates))
	for _, page := range pageTemplates {
		t := template.Must(layout.Clone())
		set[page] = template.Must(t.ParseFS(templateFiles, "templates/"+page))
	}
	return set
}

// render executes a page template. htmx requests (HX-Request header)
// get just the content block for in-place swaps; plain requests get
// the full layout.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	t, ok := s.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	target := "layout.html"
	if r.Header.Get("HX-Request") == "true" {
		target = "content"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, target, data); err != nil {
		s.logger.Error("template render failed", "template", name, "block", target, "error", err)
	}
}

// formatDuration renders a duration the way a person would say it.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

// formatTokens renders a token count with a compact magnitude suffix.
func formatTokens(n int64) string {
	switch {
	case n < 1_000:
		return fmt.Sprintf("%d", n)
	case n < 1_000_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
}
