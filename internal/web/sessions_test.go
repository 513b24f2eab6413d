package web

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/mwortham/reeve/internal/llm"
	"github.com/mwortham/reeve/internal/session"
)

// seedSession stores a conversation for userID directly through the
// session store.
func seedSession(t *testing.T, store *session.SQLiteStore, userID int64, model string, msgs ...llm.Message) {
	t.Helper()
	sess := session.New(userID)
	sess.SelectedModel = model
	sess.Append(msgs...)
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed session %d: %v", userID, err)
	}
}

func TestSessions_ListsStored(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, 42, "claude",
		llm.Message{Role: llm.RoleUser, Content: "hello"},
		llm.Message{Role: llm.RoleAssistant, Content: "hi"},
	)
	seedSession(t, store, 7, "",
		llm.Message{Role: llm.RoleUser, Content: "ping"},
	)

	s := newTestServer(t, func(cfg *Config) { cfg.Sessions = store })
	w := get(s, "/sessions", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /sessions status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	for _, want := range []string{`/sessions/42`, `/sessions/7`, "claude", "default"} {
		if !strings.Contains(body, want) {
			t.Errorf("GET /sessions response missing %q", want)
		}
	}
}

func TestSessions_EmptyStore(t *testing.T) {
	s := newTestServer(t)
	w := get(s, "/sessions", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /sessions status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "No stored sessions yet") {
		t.Error("empty store should render the placeholder")
	}
}

func TestSessionDetail_RendersMarkdown(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, 42, "",
		llm.Message{Role: llm.RoleUser, Content: "Hello **there**"},
		llm.Message{Role: llm.RoleAssistant, Content: "I can *help* with that."},
	)

	s := newTestServer(t, func(cfg *Config) { cfg.Sessions = store })
	w := get(s, "/sessions/42", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /sessions/42 status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if !strings.Contains(body, "<strong>there</strong>") {
		t.Error("user markdown should render bold text")
	}
	if !strings.Contains(body, "<em>help</em>") {
		t.Error("assistant markdown should render emphasis")
	}
}

func TestSessionDetail_ShowsToolActivity(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, 42, "",
		llm.Message{Role: llm.RoleUser, Content: "search for something"},
		llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID: "call_1",
				Function: llm.FunctionCall{
					Name:      "web_search",
					Arguments: map[string]any{"query": "weather"},
				},
			}},
		},
		llm.Message{Role: llm.RoleTool, Content: `{"success": true}`, ToolCallID: "call_1"},
		llm.Message{Role: llm.RoleAssistant, Content: "Found it."},
	)

	s := newTestServer(t, func(cfg *Config) { cfg.Sessions = store })
	w := get(s, "/sessions/42", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /sessions/42 status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if !strings.Contains(body, "web_search(query=weather)") {
		t.Error("transcript should list the tool call")
	}
	if !strings.Contains(body, "<pre>") {
		t.Error("tool result should render preformatted")
	}
}

func TestSessionDetail_UnknownUser(t *testing.T) {
	s := newTestServer(t)
	w := get(s, "/sessions/999", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("GET /sessions/999 status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSessionDetail_BadID(t *testing.T) {
	s := newTestServer(t)
	w := get(s, "/sessions/abc", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("GET /sessions/abc status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDescribeCall(t *testing.T) {
	tests := []struct {
		name string
		call llm.ToolCall
		want string
	}{
		{
			"no arguments",
			llm.ToolCall{Function: llm.FunctionCall{Name: "remind_list"}},
			"remind_list()",
		},
		{
			"single argument",
			llm.ToolCall{Function: llm.FunctionCall{
				Name:      "web_search",
				Arguments: map[string]any{"query": "weather"},
			}},
			"web_search(query=weather)",
		},
		{
			"arguments sorted by key",
			llm.ToolCall{Function: llm.FunctionCall{
				Name:      "web_search",
				Arguments: map[string]any{"query": "tides", "count": 3},
			}},
			"web_search(count=3, query=tides)",
		},
		{
			"long value trimmed",
			llm.ToolCall{Function: llm.FunctionCall{
				Name:      "web_fetch",
				Arguments: map[string]any{"url": strings.Repeat("x", 60)},
			}},
			"web_fetch(url=" + strings.Repeat("x", 37) + "...)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeCall(tt.call); got != tt.want {
				t.Errorf("describeCall() = %q, want %q", got, tt.want)
			}
		})
	}
}
