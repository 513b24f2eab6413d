// Package llm provides chat-completion clients for the provider
// families reeve can talk to, plus the fallback-chain resolver that
// picks one for a turn. Wire-format conversion happens at provider
// boundaries (openai.go, anthropic.go, ollama.go); everything above
// this package works with the neutral types here.
package llm

import (
	"time"
)

// Message roles. Providers that lack one of these remap it in their
// adapter, not here.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call id. Required for correlating a
	// tool result back to its call; ids are only meaningful within the
	// turn that produced them.
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is the name/arguments pair inside a tool call.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens in the per-provider clients.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Timing, populated by backends that report it
	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}

// ProviderSettings carries the per-provider knobs a client bakes in at
// construction. Loaded once from configuration, never mutated at
// runtime.
type ProviderSettings struct {
	Name        string // provider id, used in logs and error text
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}
