// Package session owns per-user conversation state: the durable
// message history, the user's model selection, and the registry that
// restores sessions and serializes turns.
package session

import (
	"time"

	"github.com/mwortham/reeve/internal/llm"
)

// Session is one user's conversation. Messages is the durable history
// in conversation order. SystemPrompt, LiveContext, and ContextLoaded
// are rebuilt at activation and never persisted; the system prompt and
// live context ride along as a synthetic leading message on outgoing
// requests only.
type Session struct {
	UserID        int64
	Messages      []llm.Message
	SelectedModel string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	SystemPrompt  string
	LiveContext   string
	ContextLoaded bool
}

// New returns an empty session for userID.
func New(userID int64) *Session {
	now := time.Now().UTC()
	return &Session{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the history in order.
func (s *Session) Append(msgs ...llm.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// Trim drops the oldest messages until at most max remain. Tool
// results stranded at the new head are dropped too: a tool message is
// only meaningful after the assistant message that requested it.
func (s *Session) Trim(max int) {
	if max <= 0 || len(s.Messages) <= max {
		return
	}
	s.Messages = s.Messages[len(s.Messages)-max:]
	for len(s.Messages) > 0 && s.Messages[0].Role == llm.RoleTool {
		s.Messages = s.Messages[1:]
	}
}
