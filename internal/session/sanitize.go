package session

import (
	"github.com/mwortham/reeve/internal/llm"
	"github.com/mwortham/reeve/internal/prompts"
)

// SanitizeHistory makes persisted history safe to replay against any
// provider. Tool-call ids are scoped to the turn that minted them, so
// reloaded history must not carry them: tool results are dropped, and
// an assistant message that requested tools keeps only its text (or a
// placeholder when it had none).
//
// Applied only when history comes back from the store at activation.
// Messages produced within a live turn keep full tool-call linkage.
func SanitizeHistory(msgs []llm.Message) []llm.Message {
	if len(msgs) == 0 {
		return msgs
	}

	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Role == llm.RoleTool:
			continue
		case m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0:
			content := m.Content
			if content == "" {
				content = prompts.ToolUsePlaceholder
			}
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: content})
		default:
			out = append(out, m)
		}
	}
	return out
}
