package llm

import (
	"strings"

	"github.com/mwortham/reeve/internal/config"
)

// Adapter reshapes traffic for providers with wire quirks. Every
// outbound message list passes through PrepareMessages before the
// client call, and every assistant reply passes through Postprocess
// before anyone else sees it.
type Adapter interface {
	// PrepareMessages returns the message list the provider should
	// receive. The input slice is never mutated.
	PrepareMessages(msgs []Message) []Message

	// Postprocess cleans assistant text received from the provider.
	Postprocess(content string) string
}

// NewAdapter builds an adapter from a provider's configured quirks.
func NewAdapter(q config.QuirksConfig) Adapter {
	return &quirkAdapter{
		noSystemRole: q.NoSystemRole,
		reasoningTag: q.ReasoningTag,
	}
}

type quirkAdapter struct {
	noSystemRole bool
	reasoningTag string
}

func (a *quirkAdapter) PrepareMessages(msgs []Message) []Message {
	if !a.noSystemRole {
		return msgs
	}
	return foldSystemIntoUser(msgs)
}

func (a *quirkAdapter) Postprocess(content string) string {
	if a.reasoningTag == "" {
		return content
	}
	return stripReasoning(content, a.reasoningTag)
}

// foldSystemIntoUser removes system messages and prepends their
// content to the first user message, for backends that reject the
// system role outright.
func foldSystemIntoUser(msgs []Message) []Message {
	var system []string
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		out = append(out, m)
	}
	if len(system) == 0 {
		return out
	}
	prefix := strings.Join(system, "\n\n")
	for i := range out {
		if out[i].Role == RoleUser {
			out[i].Content = prefix + "\n\n" + out[i].Content
			return out
		}
	}
	// No user message to fold into; carry the system text as one.
	return append([]Message{{Role: RoleUser, Content: prefix}}, out...)
}

// stripReasoning removes <tag>...</tag> blocks from content. An
// opening tag with no close drops everything after it, since the
// model was still mid-reasoning when output ended.
func stripReasoning(content, tag string) string {
	open := "<" + tag + ">"
	end := "</" + tag + ">"
	for {
		i := strings.Index(content, open)
		if i < 0 {
			break
		}
		j := strings.Index(content[i:], end)
		if j < 0 {
			content = content[:i]
			break
		}
		content = content[:i] + content[i+j+len(end):]
	}
	return strings.TrimSpace(content)
}
