package prompts

import (
	"fmt"
	"strings"
	"time"
)

// baseSystemTemplate is the default system prompt used when no persona
// file is configured. It sets reeve's voice and the ground rules for
// tool usage over a chat front end.
const baseSystemTemplate = `You are reeve, a personal assistant reached over chat.

## When to Use Tools
Only use tools when the user asks you to DO something or LOOK UP something specific:
- "What's the latest on X?" → use web_search
- "Summarize this page: <url>" → use web_fetch
- "Remind me to call mom at 6pm" → use remind_set

Do NOT use tools for:
- Greetings ("hi", "hello", "hey") — just say hi back!
- Conversation ("how are you?", "thanks") — respond directly
- Anything you already know — answer from your knowledge

## Rules
- After using tools, always answer the user in plain language. Tool output is for you, not for them.
- Keep replies short. This is a chat, not an essay.
- If a tool fails, say what you tried and what went wrong. Do not repeat the same failing call.
- Never invent reminder ids or search results.`

// BaseSystemPrompt returns the built-in persona. Exported as a function
// so callers never mutate the template.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}

// SystemPrompt assembles the full system prompt for a session: the
// persona (custom text, or the built-in when empty) followed by a live
// context block. Rebuilt at every session activation so the clock
// stays current.
func SystemPrompt(persona string, now time.Time) string {
	if strings.TrimSpace(persona) == "" {
		persona = baseSystemTemplate
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(persona, "\n"))
	b.WriteString("\n\n## Current Context\n")
	fmt.Fprintf(&b, "It is %s.", now.Format("Monday, January 2, 2006 at 3:04 PM (MST)"))
	return b.String()
}
