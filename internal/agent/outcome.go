package agent

// Request is one inbound user message, the unit of work Run accepts.
type Request struct {
	// UserID is the Telegram user the turn belongs to.
	UserID int64
	// Text is the raw message text.
	Text string
}

// Outcome classifies how a turn ended. Every turn ends in exactly one
// outcome.
type Outcome string

const (
	// OutcomeDone means the model produced a plain-text reply.
	OutcomeDone Outcome = "done"
	// OutcomeToolLoop means a tool crossed its per-turn call cap and
	// the turn was aborted before the over-cap round dispatched.
	OutcomeToolLoop Outcome = "tool_loop"
	// OutcomeRoundLimit means the turn used every allowed round
	// without the model ever stopping on its own.
	OutcomeRoundLimit Outcome = "round_limit"
	// OutcomeProviderError means a provider failed non-transiently, or
	// every provider in the chain was rate limited.
	OutcomeProviderError Outcome = "provider_error"
)

// Response is the result of one turn. Content is the single
// user-visible reply; on abort outcomes it is a diagnostic rather than
// model output.
type Response struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	Outcome      Outcome `json:"outcome"`
	Rounds       int     `json:"rounds"`
	ToolCalls    int     `json:"tool_calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}
