package web

import (
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/mwortham/reeve/internal/llm"
)

// SessionsData is the template context for the sessions list page.
type SessionsData struct {
	ActiveNav string
	Sessions  []sessionRow
	LoadError string
}

// sessionRow is a display-friendly wrapper around a session summary.
type sessionRow struct {
	UserID   int64
	Model    string
	Messages int
	Updated  string
}

// handleSessions renders the stored session list, newest first.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	data := SessionsData{ActiveNav: "sessions"}

	if s.sessions != nil {
		summaries, err := s.sessions.List(r.Context())
		if err != nil {
			s.logger.Error("session list failed", "error", err)
			data.LoadError = "session store unavailable"
		}
		for _, sum := range summaries {
			model := sum.SelectedModel
			if model == "" {
				model = "default"
			}
			data.Sessions = append(data.Sessions, sessionRow{
				UserID:   sum.UserID,
				Model:    model,
				Messages: sum.Messages,
				Updated:  timeAgo(sum.UpdatedAt),
			})
		}
	}

	s.render(w, r, "sessions.html", data)
}

// SessionDetailData is the template context for the transcript page.
type SessionDetailData struct {
	ActiveNav string
	UserID    int64
	Model     string
	Updated   string
	Entries   []transcriptEntry
}

// transcriptEntry is one rendered message of a conversation. Calls
// lists the tool invocations an assistant message requested; tool
// results render preformatted rather than as markdown.
type transcriptEntry struct {
	Role  string
	HTML  template.HTML
	Calls []string
}

// handleSessionDetail renders one user's full transcript.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if s.sessions == nil {
		http.NotFound(w, r)
		return
	}
	sess, err := s.sessions.Load(r.Context(), userID)
	if err != nil {
		s.logger.Error("session load failed", "user", userID, "error", err)
		http.Error(w, "session store unavailable", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.NotFound(w, r)
		return
	}

	model := sess.SelectedModel
	if model == "" {
		model = "default"
	}
	data := SessionDetailData{
		ActiveNav: "sessions",
		UserID:    userID,
		Model:     model,
		Updated:   timeAgo(sess.UpdatedAt),
		Entries:   buildTranscript(sess.Messages),
	}

	s.render(w, r, "session_detail.html", data)
}

// buildTranscript converts stored messages into rendered entries.
func buildTranscript(msgs []llm.Message) []transcriptEntry {
	entries := make([]transcriptEntry, 0, len(msgs))
	for _, m := range msgs {
		e := transcriptEntry{Role: m.Role}
		switch m.Role {
		case llm.RoleTool:
			e.HTML = template.HTML("<pre>" + template.HTMLEscapeString(m.Content) + "</pre>")
		default:
			if m.Content != "" {
				e.HTML = renderMarkdown(m.Content)
			}
		}
		for _, call := range m.ToolCalls {
			e.Calls = append(e.Calls, describeCall(call))
		}
		entries = append(entries, e)
	}
	return entries
}

// describeCall renders a tool call as "name(k=v, k=v)" with argument
// keys sorted and values trimmed to keep rows single-line.
func describeCall(call llm.ToolCall) string {
	keys := make([]string, 0, len(call.Function.Arguments))
	for k := range call.Function.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(call.Function.Name)
	b.WriteString("(")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprintf("%v", call.Function.Arguments[k]), 40))
	}
	b.WriteString(")")
	return b.String()
}
