package web

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"

	"github.com/mwortham/reeve/internal/scheduler"
)

// truncate shortens s to at most n runes, replacing the tail with an
// ellipsis when anything was cut. For n of 3 or less there is no room
// for the ellipsis, so the string is simply cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// timeAgo renders a timestamp as a coarse relative age.
func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours())/24)
	}
}

// describeSchedule renders a schedule as a short human-readable phrase
// for listings.
func describeSchedule(sch scheduler.Schedule) string {
	switch sch.Kind {
	case scheduler.ScheduleAt:
		if sch.At == nil {
			return "once (no time set)"
		}
		return "once at " + sch.At.Format("2006-01-02 15:04")
	case scheduler.ScheduleEvery:
		if sch.Every == nil {
			return "recurring (no interval set)"
		}
		return "every " + sch.Every.Duration.String()
	default:
		return string(sch.Kind)
	}
}

// renderMarkdown converts markdown to HTML for transcript display.
// goldmark's default renderer drops raw HTML from the input, so model
// output cannot inject markup. On a parse failure the text is shown
// escaped rather than lost.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML("<p>" + template.HTMLEscapeString(md) + "</p>")
	}
	return template.HTML(buf.String())
}
