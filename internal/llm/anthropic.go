package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mwortham/reeve/internal/config"
	"github.com/mwortham/reeve/internal/httpkit"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	settings   ProviderSettings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient builds a client from provider settings, filling in
// API defaults for anything the config leaves blank.
func NewAnthropicClient(settings ProviderSettings, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.BaseURL == "" {
		settings.BaseURL = anthropicDefaultBaseURL
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = anthropicMaxTokens
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	// Long prompts can sit in the queue for a while before the first
	// response byte, so the header window is wider than usual.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		settings: settings,
		logger:   logger.With("provider", settings.Name),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithTransport(t),
		),
	}
}

// Messages API wire types. Message content is polymorphic: a plain
// string for simple turns, a block list once tool use is involved.

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicBlock
}

// anthropicBlock is one content block. Which fields are set depends on
// Type: text, tool_use, or tool_result.
type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chat implements Client.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	if model == "" {
		model = c.settings.Model
	}
	msgs, system := encodeAnthropicMessages(messages)
	defs := anthropicToolDefs(tools)

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(msgs),
		"tools", len(defs),
		"system_len", len(system),
	)

	resp, err := c.post(ctx, anthropicRequest{
		Model:       model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   c.settings.MaxTokens,
		Temperature: c.settings.Temperature,
		Tools:       defs,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &APIError{Provider: c.settings.Name, Status: resp.StatusCode, Body: errBody}
	}

	var wire anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	result := wire.toChatResponse()

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", wire.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// Ping verifies the API is reachable and the key is accepted. There is
// no health endpoint, so a one-token request stands in for one.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	resp, err := c.post(ctx, anthropicRequest{
		Model:     c.settings.Model,
		Messages:  []anthropicMessage{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("invalid API key")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status from Anthropic API: %d", resp.StatusCode)
	}
	return nil
}

// post marshals body and sends it to the messages endpoint with auth
// and version headers set.
func (c *AnthropicClient) post(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.settings.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// encodeAnthropicMessages converts canonical messages to the Messages
// API shape. System turns are folded into the returned system string,
// and tool results ride as tool_result blocks inside user messages.
func encodeAnthropicMessages(messages []Message) ([]anthropicMessage, string) {
	var (
		out    []anthropicMessage
		system []string
	)
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleUser:
			out = append(out, anthropicMessage{Role: RoleUser, Content: msg.Content})
		case RoleAssistant:
			content := any(msg.Content)
			if len(msg.ToolCalls) > 0 {
				content = assistantBlocks(msg)
			}
			out = append(out, anthropicMessage{Role: RoleAssistant, Content: content})
		case RoleTool:
			out = append(out, anthropicMessage{
				Role: RoleUser,
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		}
	}
	return out, strings.Join(system, "\n\n")
}

// assistantBlocks renders an assistant turn that carries tool calls:
// optional leading text, then one tool_use block per call. Calls parsed
// out of model text have no id; a synthetic one keeps the use/result
// pairing intact.
func assistantBlocks(msg Message) []anthropicBlock {
	var blocks []anthropicBlock
	if msg.Content != "" {
		blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
	}
	for i, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("toolu_%s_%d", tc.Function.Name, i)
		}
		blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: id, Name: tc.Function.Name, Input: args})
	}
	return blocks
}

// anthropicToolDefs converts OpenAI-style tool definitions to the
// input_schema form the Messages API expects.
func anthropicToolDefs(tools []map[string]any) []anthropicTool {
	var defs []anthropicTool
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		schema := fn["parameters"]
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, anthropicTool{Name: name, Description: desc, InputSchema: schema})
	}
	return defs
}

// toChatResponse flattens the block list into the canonical response:
// text blocks concatenate into Content, tool_use blocks become calls.
func (r *anthropicResponse) toChatResponse() *ChatResponse {
	var text strings.Builder
	var calls []ToolCall
	for _, block := range r.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			calls = append(calls, ToolCall{
				ID:       block.ID,
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}
	return &ChatResponse{
		Model: r.Model,
		Message: Message{
			Role:      RoleAssistant,
			Content:   text.String(),
			ToolCalls: calls,
		},
		Done:         true,
		InputTokens:  r.Usage.InputTokens,
		OutputTokens: r.Usage.OutputTokens,
	}
}
