package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testOllamaSettings(baseURL string) ProviderSettings {
	return ProviderSettings{
		Name:        "ollama",
		BaseURL:     baseURL,
		Model:       "qwen3:8b",
		Temperature: 0.6,
		MaxTokens:   2048,
	}
}

func TestOllamaChat_WireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}

		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "qwen3:8b" {
			t.Errorf("model = %q, want the settings default", req.Model)
		}
		if req.Stream {
			t.Error("stream must be false")
		}
		if req.Options == nil || req.Options.Temperature != 0.6 || req.Options.NumPredict != 2048 {
			t.Errorf("options = %+v", req.Options)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(req.Messages))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "qwen3:8b",
			"created_at": "2026-08-24T10:15:00Z",
			"message": {"role": "assistant", "content": "All quiet today."},
			"done": true,
			"total_duration": 1200000000,
			"prompt_eval_count": 42,
			"eval_count": 17
		}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(testOllamaSettings(srv.URL), nil)
	resp, err := client.Chat(context.Background(), "", []Message{
		{Role: RoleSystem, Content: "You are reeve."},
		{Role: RoleUser, Content: "Anything new?"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "All quiet today." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.Message.Role != RoleAssistant {
		t.Errorf("role = %q, want assistant", resp.Message.Role)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 17 {
		t.Errorf("usage = %d/%d, want 42/17", resp.InputTokens, resp.OutputTokens)
	}
	if resp.TotalDuration != 1200*time.Millisecond {
		t.Errorf("total duration = %v", resp.TotalDuration)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("created_at should parse")
	}
}

func TestOllamaChat_BlankCreatedAtTolerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"model": "m", "created_at": "", "message": {"role": "assistant", "content": "ok"}, "done": true}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(testOllamaSettings(srv.URL), nil)
	resp, err := client.Chat(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}}, nil)
	if err != nil {
		t.Fatalf("blank created_at must not fail the call: %v", err)
	}
	if !resp.CreatedAt.IsZero() {
		t.Errorf("created_at = %v, want zero", resp.CreatedAt)
	}
}

func TestOllamaChat_TextToolCallPromoted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// The model wrote its tool call into content instead of the
		// native tool_calls field.
		w.Write([]byte(`{
			"model": "m",
			"message": {"role": "assistant", "content": "{\"name\": \"web_search\", \"arguments\": {\"query\": \"tide times\"}}"},
			"done": true
		}`))
	}))
	defer srv.Close()

	tools := []map[string]any{
		{"type": "function", "function": map[string]any{"name": "web_search"}},
	}

	client := NewOllamaClient(testOllamaSettings(srv.URL), nil)
	resp, err := client.Chat(context.Background(), "", []Message{{Role: RoleUser, Content: "tides?"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1 promoted from content", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].Function.Name != "web_search" {
		t.Errorf("name = %q", resp.Message.ToolCalls[0].Function.Name)
	}
	if resp.Message.Content != "" {
		t.Errorf("content should be cleared after promotion, got %q", resp.Message.Content)
	}
}

func TestOllamaChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "model not found"}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(testOllamaSettings(srv.URL), nil)
	_, err := client.Chat(context.Background(), "", []Message{{Role: RoleUser, Content: "x"}}, nil)
	if err == nil {
		t.Fatal("expected error for 500")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want *APIError, got %T: %v", err, err)
	}
	if apiErr.Provider != "ollama" || apiErr.Status != http.StatusInternalServerError {
		t.Errorf("APIError = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Body, "model not found") {
		t.Errorf("body = %q", apiErr.Body)
	}
}

func TestOllamaPing(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{"models": []}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(testOllamaSettings(srv.URL), nil)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if path != "/api/tags" {
		t.Errorf("path = %q, want /api/tags", path)
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"models": [{"name": "qwen3:8b"}, {"name": "llama3.2:3b"}]}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(testOllamaSettings(srv.URL), nil)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "qwen3:8b" || models[1] != "llama3.2:3b" {
		t.Errorf("models = %v", models)
	}
}

func TestParseTextToolCalls_NoCall(t *testing.T) {
	// None of these should produce a call: the content is either not a
	// tool call at all or too broken to trust.
	inputs := map[string]string{
		"empty":          "",
		"whitespace":     "   \n\t  ",
		"prose":          "You have two reminders set for today.",
		"truncated json": `{"name": "web_search", "arguments": {`,
		"no name field":  `{"foo": "bar", "arguments": {}}`,
		"empty name":     `{"name": "", "arguments": {}}`,
	}

	for name, content := range inputs {
		t.Run(name, func(t *testing.T) {
			if got := parseTextToolCalls(content, nil); len(got) != 0 {
				t.Errorf("parseTextToolCalls(%q) = %v, want none", content, got)
			}
		})
	}
}

func TestParseTextToolCalls_SingleCall(t *testing.T) {
	// Each content variant wraps the same call a different way; all of
	// them should decode to one web_search with the query intact.
	variants := map[string]string{
		"bare object":     `{"name": "web_search", "arguments": {"query": "ferry schedule"}}`,
		"padded":          `  {"name": "web_search", "arguments": {"query": "ferry schedule"}}  `,
		"tagged":          `<tool_call>{"name": "web_search", "arguments": {"query": "ferry schedule"}}</tool_call>`,
		"tag not closed":  `<tool_call>{"name": "web_search", "arguments": {"query": "ferry schedule"}}`,
		"prose then tag":  `Let me look that up. <tool_call>{"name": "web_search", "arguments": {"query": "ferry schedule"}}</tool_call>`,
		"name prefix":     `web_search {"query": "ferry schedule"}`,
		"prefix and tail": `web_search {"query": "ferry schedule"} I will check that for you.`,
	}

	for name, content := range variants {
		t.Run(name, func(t *testing.T) {
			calls := parseTextToolCalls(content, []string{"web_search", "web_fetch"})
			if len(calls) != 1 {
				t.Fatalf("got %d calls, want 1", len(calls))
			}
			if calls[0].Function.Name != "web_search" {
				t.Errorf("name = %q", calls[0].Function.Name)
			}
			if calls[0].Function.Arguments["query"] != "ferry schedule" {
				t.Errorf("query = %v", calls[0].Function.Arguments["query"])
			}
		})
	}
}

func TestParseTextToolCalls_MultipleCalls(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "json array",
			content: `[{"name": "web_search", "arguments": {"query": "a"}}, {"name": "remind_list", "arguments": {}}]`,
			want:    []string{"web_search", "remind_list"},
		},
		{
			name:    "concatenated objects",
			content: `{"name": "web_search", "arguments": {"query": "a"}}{"name": "web_search", "arguments": {"query": "b"}}{"name": "web_fetch", "arguments": {"url": "https://example.org"}}`,
			want:    []string{"web_search", "web_search", "web_fetch"},
		},
		{
			name:    "concatenated with trailing prose",
			content: `{"name": "web_search", "arguments": {"query": "a"}}{"name": "web_fetch", "arguments": {"url": "https://yr.no"}}Here is what I found`,
			want:    []string{"web_search", "web_fetch"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := parseTextToolCalls(tt.content, []string{"web_search", "web_fetch", "remind_list"})
			var got []string
			for _, c := range calls {
				got = append(got, c.Function.Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTextToolCalls_Validation(t *testing.T) {
	known := []string{"web_search", "remind_set"}

	// An unknown name is dropped when a tool list is given.
	if got := parseTextToolCalls(`{"name": "hack_the_planet", "arguments": {}}`, known); len(got) != 0 {
		t.Errorf("unknown tool should be dropped, got %v", got)
	}

	// In a mixed array only the known call survives.
	mixed := `[{"name": "web_search", "arguments": {}}, {"name": "invented_tool", "arguments": {}}]`
	got := parseTextToolCalls(mixed, known)
	if len(got) != 1 || got[0].Function.Name != "web_search" {
		t.Errorf("mixed array filtered wrong: %v", got)
	}

	// Without a tool list any name passes. Validation happens later in
	// the registry; this parser only cleans up formats.
	for _, list := range [][]string{nil, {}} {
		if got := parseTextToolCalls(`{"name": "anything_goes", "arguments": {}}`, list); len(got) != 1 {
			t.Errorf("validTools=%v: got %v, want the call to pass", list, got)
		}
	}

	// With a tool list, an unknown prefixed name reads as prose
	// followed by JSON, not as a call.
	if got := parseTextToolCalls(`made_up_tool {"foo": "bar"}`, known); len(got) != 0 {
		t.Errorf("unknown prefixed tool should be dropped, got %v", got)
	}
}

func TestParseTextToolCalls_ArgumentTypes(t *testing.T) {
	content := `{"name": "remind_set", "arguments": {"message": "water the plants", "count": 3, "repeat": {"every": "24h"}}}`

	calls := parseTextToolCalls(content, nil)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}

	args := calls[0].Function.Arguments
	if args["message"] != "water the plants" {
		t.Errorf("message = %v", args["message"])
	}
	if args["count"] != float64(3) {
		t.Errorf("count = %v (%T), want float64 3", args["count"], args["count"])
	}
	repeat, ok := args["repeat"].(map[string]any)
	if !ok || repeat["every"] != "24h" {
		t.Errorf("repeat = %v", args["repeat"])
	}
}

func TestExtractToolNames(t *testing.T) {
	tests := []struct {
		name  string
		tools []map[string]any
		want  string
	}{
		{name: "nil", tools: nil, want: ""},
		{name: "empty", tools: []map[string]any{}, want: ""},
		{
			name: "well formed",
			tools: []map[string]any{
				{"function": map[string]any{"name": "web_search"}},
				{"function": map[string]any{"name": "remind_set"}},
			},
			want: "web_search,remind_set",
		},
		{
			name: "malformed entries skipped",
			tools: []map[string]any{
				{"function": map[string]any{"name": "web_search"}},
				{"name": "orphan"},
				{"function": "not a map"},
				{"function": map[string]any{"name": "remind_list"}},
			},
			want: "web_search,remind_list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(extractToolNames(tt.tools), ","); got != tt.want {
				t.Errorf("extractToolNames = %q, want %q", got, tt.want)
			}
		})
	}
}
