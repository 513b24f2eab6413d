package web

import (
	"net/http"
	"time"

	"github.com/mwortham/reeve/internal/buildinfo"
)

// DashboardData is the template context for the runtime overview page.
type DashboardData struct {
	ActiveNav string
	Stats     StatsSnapshot
	Providers []ProviderInfo
	Uptime    time.Duration
}

// handleDashboard renders the runtime overview at "/". The root
// pattern matches every path, so anything but exactly "/" is a 404.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.render(w, r, "dashboard.html", s.dashboardData())
}

// dashboardData collects the overview snapshot from the wired
// callbacks. Unwired callbacks leave zero values, which the template
// renders as empty sections.
func (s *Server) dashboardData() DashboardData {
	data := DashboardData{
		ActiveNav: "overview",
		Uptime:    buildinfo.Uptime(),
	}
	if s.statsFunc != nil {
		data.Stats = s.statsFunc()
	}
	if s.chainFunc != nil {
		data.Providers = s.chainFunc()
	}
	return data
}
