package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/mwortham/reeve/internal/config"
	"github.com/mwortham/reeve/internal/httpkit"
)

// OllamaClient is a client for the Ollama API. This is the guaranteed
// last resort in the provider chain: no credential, local socket.
type OllamaClient struct {
	settings   ProviderSettings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(settings ProviderSettings, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.BaseURL == "" {
		settings.BaseURL = "http://localhost:11434"
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute // Large models with tools need time
	}
	return &OllamaClient{
		settings:   settings,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger.With("provider", settings.Name),
	}
}

// ollamaChatRequest is the request format for the Ollama chat API.
// Canonical messages serialize directly; Ollama ignores the id fields
// it does not use.
type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

// ollamaOptions are model parameters.
type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaWireResponse is the raw /api/chat payload. created_at stays a
// string here because Ollama sometimes sends "" where a timestamp
// belongs; toChatResponse parses it leniently.
type ollamaWireResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`

	// Usage stats (when done=true), durations in nanoseconds
	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

func (w *ollamaWireResponse) toChatResponse() *ChatResponse {
	var created time.Time
	if w.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
			created = t
		}
	}
	return &ChatResponse{
		Model:         w.Model,
		CreatedAt:     created,
		Message:       w.Message,
		Done:          w.Done,
		InputTokens:   w.PromptEvalCount,
		OutputTokens:  w.EvalCount,
		TotalDuration: time.Duration(w.TotalDuration),
		LoadDuration:  time.Duration(w.LoadDuration),
		EvalDuration:  time.Duration(w.EvalDuration),
	}
}

// Chat implements Client.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	if model == "" {
		model = c.settings.Model
	}

	req := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Tools:    tools,
	}
	if c.settings.Temperature != 0 || c.settings.MaxTokens != 0 {
		req.Options = &ollamaOptions{
			Temperature: c.settings.Temperature,
			NumPredict:  c.settings.MaxTokens,
		}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.settings.BaseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Provider: c.settings.Name,
			Status:   resp.StatusCode,
			Body:     httpkit.ReadErrorBody(resp.Body, 4096),
		}
	}

	var wire ollamaWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	chatResp := wire.toChatResponse()

	// Try to parse text-based tool calls if no native tool_calls
	if len(chatResp.Message.ToolCalls) == 0 && chatResp.Message.Content != "" {
		if parsed := parseTextToolCalls(chatResp.Message.Content, extractToolNames(tools)); len(parsed) > 0 {
			chatResp.Message.ToolCalls = parsed
			chatResp.Message.Content = "" // Clear content since it was a tool call
		}
	}

	chatResp.Message.Role = RoleAssistant
	return chatResp, nil
}

// textToolCall is the shape models emit when they write tool calls as
// JSON text instead of using the native tool_calls field.
type textToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls attempts to extract tool calls from content text.
// Many models output tool calls as JSON in the content rather than using
// the native tool_calls field. This function handles common formats:
// - Raw JSON object: {"name": "...", "arguments": {...}}
// - JSON array: [{"name": "...", "arguments": {...}}]
// - Concatenated objects: {...}{...}{...}
// - Tagged: <tool_call>...</tool_call>
// - Name-prefixed: tool_name {"arg": ...}
// When validTools is non-empty, calls naming anything else are dropped.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	// Try to extract from <tool_call> tags
	if strings.Contains(content, "<tool_call>") {
		start := strings.Index(content, "<tool_call>")
		end := strings.Index(content, "</tool_call>")
		if start != -1 && end > start {
			content = strings.TrimSpace(content[start+len("<tool_call>") : end])
		} else if start != -1 {
			// No closing tag, take rest of content
			content = strings.TrimSpace(content[start+len("<tool_call>"):])
		}
	}

	valid := func(name string) bool {
		if name == "" {
			return false
		}
		return len(validTools) == 0 || slices.Contains(validTools, name)
	}

	// Try parsing as array of tool calls
	var arr []textToolCall
	if err := json.Unmarshal([]byte(content), &arr); err == nil && len(arr) > 0 {
		return collectTextToolCalls(arr, valid)
	}

	// Single object, or several concatenated back to back. A decoder
	// reads as many complete objects as are there and stops at the
	// first thing that is not JSON, which drops trailing prose.
	if strings.HasPrefix(content, "{") {
		dec := json.NewDecoder(strings.NewReader(content))
		var seq []textToolCall
		for {
			var one textToolCall
			if err := dec.Decode(&one); err != nil {
				break
			}
			seq = append(seq, one)
		}
		return collectTextToolCalls(seq, valid)
	}

	// "tool_name {json}" format some models fall into
	if i := strings.Index(content, "{"); i > 0 {
		name := strings.TrimSpace(content[:i])
		if !strings.ContainsAny(name, " \t\n") && valid(name) {
			dec := json.NewDecoder(strings.NewReader(content[i:]))
			var args map[string]any
			if err := dec.Decode(&args); err == nil {
				return []ToolCall{{Function: FunctionCall{Name: name, Arguments: args}}}
			}
		}
	}

	return nil
}

func collectTextToolCalls(calls []textToolCall, valid func(string) bool) []ToolCall {
	var result []ToolCall
	for _, c := range calls {
		if !valid(c.Name) {
			continue
		}
		result = append(result, ToolCall{
			Function: FunctionCall{Name: c.Name, Arguments: c.Arguments},
		})
	}
	return result
}

// extractToolNames pulls function names out of OpenAI-format tool
// definitions, for validating text-parsed tool calls.
func extractToolNames(tools []map[string]any) []string {
	if len(tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, _ := fn["name"].(string); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.settings.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}

// ListModels returns the models the local daemon has pulled.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.settings.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}
