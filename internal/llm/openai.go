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

// OpenAIClient speaks the OpenAI chat-completions wire format. It
// covers api.openai.com and every compatible gateway (OpenRouter,
// Groq, local servers exposing /v1).
type OpenAIClient struct {
	settings ProviderSettings
	client   *http.Client
	logger   *slog.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(settings ProviderSettings, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIClient{
		settings: settings,
		client:   httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:   logger.With("provider", settings.Name),
	}
}

// OpenAI wire format. Tool-call arguments travel as a JSON-encoded
// string, unlike our map form.
type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat implements Client.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	if model == "" {
		model = c.settings.Model
	}
	req := openaiRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Tools:       tools,
		Temperature: c.settings.Temperature,
		MaxTokens:   c.settings.MaxTokens,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "openai request", "model", model, "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.settings.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Provider: c.settings.Name,
			Status:   resp.StatusCode,
			Body:     httpkit.ReadErrorBody(resp.Body, 4096),
		}
	}

	var apiResp openaiResponse
	err = json.NewDecoder(resp.Body).Decode(&apiResp)
	httpkit.DrainAndClose(resp.Body, 4096)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "openai response", "id", apiResp.ID, "choices", len(apiResp.Choices))

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", c.settings.Name)
	}
	choice := apiResp.Choices[0]

	msg := Message{
		Role:    RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID: tc.ID,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: c.decodeArguments(ctx, tc.Function.Name, tc.Function.Arguments),
			},
		})
	}

	return &ChatResponse{
		Model:        apiResp.Model,
		CreatedAt:    time.Unix(apiResp.Created, 0),
		Message:      msg,
		Done:         true,
		InputTokens:  apiResp.Usage.PromptTokens,
		OutputTokens: apiResp.Usage.CompletionTokens,
	}, nil
}

// decodeArguments parses the wire argument string. Malformed JSON
// becomes an empty argument object rather than a failed turn; the
// tool sees no arguments and reports what is missing.
func (c *OpenAIClient) decodeArguments(ctx context.Context, tool, raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		c.logger.WarnContext(ctx, "malformed tool arguments, using empty object", "tool", tool, "raw", raw)
		return map[string]any{}
	}
	return args
}

// Ping implements Client.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.settings.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.settings.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pinging %s: %w", c.settings.Name, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s ping returned status %d", c.settings.Name, resp.StatusCode)
	}
	return nil
}

// toOpenAIMessages converts canonical messages to the wire shape.
func toOpenAIMessages(messages []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		om := openaiMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wire := openaiToolCall{ID: tc.ID, Type: "function"}
			wire.Function.Name = tc.Function.Name
			wire.Function.Arguments = encodeArguments(tc.Function.Arguments)
			om.ToolCalls = append(om.ToolCalls, wire)
		}
		out = append(out, om)
	}
	return out
}

func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
