package llm

import "context"

// Client is the interface that all chat-completion backends implement.
type Client interface {
	// Chat sends a chat completion request and returns the full
	// response. Tools are passed in the OpenAI function-calling
	// schema; clients for other wire formats convert them.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}
