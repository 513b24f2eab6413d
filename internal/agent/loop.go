// Package agent implements the bounded tool-use loop at the core of
// reeve. One inbound message becomes one turn; a turn runs one or more
// chat-completion rounds against the resolved provider chain, dispatches
// any tool calls between rounds, and always ends in exactly one terminal
// outcome with the session persisted, even when it ends badly.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwortham/reeve/internal/config"
	"github.com/mwortham/reeve/internal/events"
	"github.com/mwortham/reeve/internal/llm"
	"github.com/mwortham/reeve/internal/prompts"
	"github.com/mwortham/reeve/internal/session"
	"github.com/mwortham/reeve/internal/tools"
)

// Sessions is the slice of the session registry the loop needs: it
// activates a session at turn start and persists it at every terminal
// state. Serializing turns per user (TurnLock) is the caller's job.
type Sessions interface {
	Activate(ctx context.Context, userID int64) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
}

// Providers yields the ordered provider chain for a turn. The first
// candidate is the active provider; the rest are fallbacks tried only
// on transient failures.
type Providers interface {
	Candidates(selected string) []*llm.Active
}

// Tools is the tool surface the loop exposes to the model: the
// catalogue sent with every request and the executor for returned
// calls. Execute never fails; tool errors come back as result
// envelopes the model can read.
type Tools interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any) string
}

// ContextProvider supplies a live context block appended to the system
// prompt. It is consulted once per session activation, not once per
// turn.
type ContextProvider interface {
	LiveContext(ctx context.Context, userID int64) (string, error)
}

// TokenObserver is notified of token usage after each successful
// chat-completion round.
type TokenObserver interface {
	OnTokens(input, output int)
}

// Loop runs agent turns. Safe for concurrent use across users; callers
// serialize turns for the same user via the registry's TurnLock.
type Loop struct {
	logger    *slog.Logger
	cfg       config.AgentConfig
	sessions  Sessions
	providers Providers
	tools     Tools
	bus       *events.Bus

	context  ContextProvider
	observer TokenObserver

	mu          sync.Mutex
	lastRequest time.Time
}

// NewLoop creates an agent loop. bus may be nil.
func NewLoop(logger *slog.Logger, cfg config.AgentConfig, sessions Sessions, providers Providers, toolset Tools, bus *events.Bus) *Loop {
	return &Loop{
		logger:    logger,
		cfg:       cfg,
		sessions:  sessions,
		providers: providers,
		tools:     toolset,
		bus:       bus,
	}
}

// SetContextProvider installs an optional source of live context for
// the system prompt.
func (l *Loop) SetContextProvider(p ContextProvider) {
	l.context = p
}

// SetTokenObserver installs an optional token usage observer.
func (l *Loop) SetTokenObserver(o TokenObserver) {
	l.observer = o
}

// LastRequest reports when the most recent turn started. Zero when no
// turn has run yet.
func (l *Loop) LastRequest() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRequest
}

// turn carries the state of one Run invocation through its rounds.
type turn struct {
	requestID  string
	req        *Request
	sess       *session.Session
	logger     *slog.Logger
	candidates []*llm.Active
	idx        int

	// directives are loop-injected wire messages. They ride on every
	// subsequent outgoing request in this turn but never enter the
	// session.
	directives []llm.Message

	rounds     int
	toolCalls  int
	callCounts map[string]int
	sinceText  int
	lastText   string
	tokensIn   int
	tokensOut  int
}

func (t *turn) active() *llm.Active {
	return t.candidates[t.idx]
}

// finish builds the terminal Response. It does not persist; Run owns
// the save so every exit path shares it.
func (t *turn) finish(outcome Outcome, content string) *Response {
	r := &Response{
		Content:      content,
		Outcome:      outcome,
		Rounds:       t.rounds,
		ToolCalls:    t.toolCalls,
		InputTokens:  t.tokensIn,
		OutputTokens: t.tokensOut,
	}
	if len(t.candidates) > 0 {
		r.Provider = t.active().ID
		r.Model = t.active().Model
	}
	return r
}

// Run executes one turn: append the user message, run rounds until a
// terminal outcome, persist the session, and return the single
// user-visible reply. The error return is reserved for infrastructure
// faults (session store I/O); provider and loop failures are reported
// in the Response so the bridge always has something to say.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	requestID := generateRequestID()
	logger := l.logger.With("request_id", requestID, "user", req.UserID)

	l.mu.Lock()
	l.lastRequest = start
	l.mu.Unlock()

	sess, err := l.sessions.Activate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}
	l.loadLiveContext(ctx, sess, logger)

	sess.Append(llm.Message{Role: llm.RoleUser, Content: req.Text})

	l.bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceAgent,
		Kind:      events.KindRequestStart,
		Data: map[string]any{
			"request_id": requestID,
			"user":       req.UserID,
			"text_len":   len(req.Text),
		},
	})

	t := &turn{
		requestID:  requestID,
		req:        req,
		sess:       sess,
		logger:     logger,
		candidates: l.providers.Candidates(sess.SelectedModel),
		callCounts: make(map[string]int),
	}

	resp := l.runRounds(ctx, t)

	if err := l.sessions.Save(ctx, sess); err != nil {
		// The reply still goes out; the next activation rebuilds from
		// the last good save.
		logger.Error("session save failed", "error", err)
	}

	elapsed := time.Since(start)
	logger.Info("turn complete",
		"outcome", string(resp.Outcome),
		"rounds", resp.Rounds,
		"tool_calls", resp.ToolCalls,
		"provider", resp.Provider,
		"model", resp.Model,
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRequestComplete,
		Data: map[string]any{
			"request_id": requestID,
			"outcome":    string(resp.Outcome),
			"rounds":     resp.Rounds,
			"tool_calls": resp.ToolCalls,
			"tokens_in":  resp.InputTokens,
			"tokens_out": resp.OutputTokens,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
	return resp, nil
}

// runRounds drives the chat/dispatch cycle to one of the four terminal
// outcomes.
func (l *Loop) runRounds(ctx context.Context, t *turn) *Response {
	if len(t.candidates) == 0 {
		t.logger.Error("no usable provider in chain")
		return t.finish(OutcomeProviderError,
			prompts.ProviderFailedMessage("no provider is configured with credentials"))
	}

	for round := 1; ; round++ {
		t.rounds = round

		resp, err := l.chatWithFallback(ctx, t, round)
		if err != nil {
			return t.finish(OutcomeProviderError, prompts.ProviderFailedMessage(err.Error()))
		}

		msg := resp.Message
		if msg.Role == "" {
			msg.Role = llm.RoleAssistant
		}
		msg.Content = t.active().Adapter.Postprocess(msg.Content)
		fillCallIDs(msg.ToolCalls, round)
		t.sess.Append(msg)

		if msg.Content != "" {
			t.lastText = msg.Content
		}

		if len(msg.ToolCalls) == 0 {
			reply := msg.Content
			if reply == "" {
				t.logger.Warn("model ended turn with empty content", "round", round)
				reply = prompts.EmptyResponseFallback
			}
			return t.finish(OutcomeDone, reply)
		}

		// Count the whole round against the per-tool cap before any
		// dispatch. A round that crosses the cap executes nothing.
		for _, call := range msg.ToolCalls {
			t.callCounts[call.Function.Name]++
		}
		if name, n := t.overCap(l.cfg.MaxCallsPerTool); name != "" {
			t.logger.Warn("tool loop detected", "tool", name, "calls", n, "round", round)
			t.stripPendingCalls()
			return t.finish(OutcomeToolLoop, prompts.StuckInLoopMessage)
		}

		l.dispatch(ctx, t, msg.ToolCalls)

		if round >= l.cfg.MaxToolRounds {
			t.logger.Warn("round limit reached", "rounds", round)
			reply := t.lastText
			if reply == "" {
				reply = prompts.RoundLimitMessage
			}
			return t.finish(OutcomeRoundLimit, reply)
		}

		t.sinceText++
		if t.sinceText >= l.cfg.RequireTextEvery {
			t.logger.Debug("injecting respond-in-text directive", "round", round)
			t.directives = append(t.directives, llm.Message{
				Role:    llm.RoleUser,
				Content: prompts.RespondInTextDirective,
			})
			t.sinceText = 0
		}
	}
}

// chatWithFallback issues one chat-completion round, walking the
// remaining provider chain only on transient failures. The first
// fallback that answers becomes the active provider for the rest of
// the turn. A non-transient failure aborts immediately wherever in the
// chain it occurs. When the chain is exhausted the original failure is
// returned, since that is the one the user's selected provider
// produced.
func (l *Loop) chatWithFallback(ctx context.Context, t *turn, round int) (*llm.ChatResponse, error) {
	wire := t.wireMessages()
	catalogue := l.tools.List()

	var firstErr error
	for {
		active := t.active()
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindLLMCall,
			Data: map[string]any{
				"request_id": t.requestID,
				"round":      round,
				"provider":   active.ID,
				"model":      active.Model,
			},
		})

		resp, err := active.Client.Chat(ctx, active.Model, active.Adapter.PrepareMessages(wire), catalogue)
		if err == nil {
			t.tokensIn += resp.InputTokens
			t.tokensOut += resp.OutputTokens
			if l.observer != nil {
				l.observer.OnTokens(resp.InputTokens, resp.OutputTokens)
			}
			l.bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceAgent,
				Kind:      events.KindLLMResponse,
				Data: map[string]any{
					"request_id": t.requestID,
					"round":      round,
					"model":      resp.Model,
					"tokens_in":  resp.InputTokens,
					"tokens_out": resp.OutputTokens,
					"tool_calls": len(resp.Message.ToolCalls),
				},
			})
			return resp, nil
		}

		if !llm.IsTransient(err) {
			t.logger.Error("provider request failed",
				"provider", active.ID, "round", round, "error", err)
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
		if t.idx+1 >= len(t.candidates) {
			t.logger.Error("provider chain exhausted", "round", round, "error", firstErr)
			return nil, firstErr
		}

		next := t.candidates[t.idx+1]
		t.logger.Warn("provider rate limited, falling back",
			"from", active.ID, "to", next.ID, "error", err)
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindProviderFallback,
			Data: map[string]any{
				"request_id": t.requestID,
				"from":       active.ID,
				"to":         next.ID,
			},
		})
		t.idx++
	}
}

// dispatch executes the round's tool calls sequentially, in request
// order, appending one tool-result message per call.
func (l *Loop) dispatch(ctx context.Context, t *turn, calls []llm.ToolCall) {
	toolCtx := tools.WithUserID(ctx, t.req.UserID)
	for _, call := range calls {
		t.toolCalls++
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindToolCall,
			Data: map[string]any{
				"request_id": t.requestID,
				"tool":       call.Function.Name,
			},
		})
		started := time.Now()
		result := l.tools.Execute(toolCtx, call.Function.Name, call.Function.Arguments)
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindToolDone,
			Data: map[string]any{
				"request_id":  t.requestID,
				"tool":        call.Function.Name,
				"duration_ms": time.Since(started).Milliseconds(),
			},
		})
		t.sess.Append(llm.Message{
			Role:       llm.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
		})
	}
}

// wireMessages assembles the outgoing message list: system prompt
// first, then durable history, then any loop-injected directives.
func (t *turn) wireMessages() []llm.Message {
	msgs := make([]llm.Message, 0, len(t.sess.Messages)+len(t.directives)+1)
	system := t.sess.SystemPrompt
	if t.sess.LiveContext != "" {
		system += "\n\n" + t.sess.LiveContext
	}
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, t.sess.Messages...)
	msgs = append(msgs, t.directives...)
	return msgs
}

// overCap reports the first tool past the per-turn call cap, if any.
func (t *turn) overCap(max int) (string, int) {
	for name, n := range t.callCounts {
		if n > max {
			return name, n
		}
	}
	return "", 0
}

// stripPendingCalls rewrites the final assistant message so the
// history does not end with tool calls that were never answered. A
// dangling tool call is a wire error when the history is replayed.
func (t *turn) stripPendingCalls() {
	last := &t.sess.Messages[len(t.sess.Messages)-1]
	last.ToolCalls = nil
	if last.Content == "" {
		last.Content = prompts.ToolUsePlaceholder
	}
}

// loadLiveContext refreshes the session's live context block once per
// activation. The registry clears ContextLoaded when a session is
// restored from the store.
func (l *Loop) loadLiveContext(ctx context.Context, sess *session.Session, logger *slog.Logger) {
	if sess.ContextLoaded {
		return
	}
	sess.ContextLoaded = true
	if l.context == nil {
		return
	}
	extra, err := l.context.LiveContext(ctx, sess.UserID)
	if err != nil {
		logger.Warn("live context load failed", "error", err)
		return
	}
	sess.LiveContext = extra
}

// fillCallIDs assigns deterministic ids to tool calls the provider
// left unlabelled. Ids only need to be unique within the turn; the
// sanitizer strips them before any cross-turn replay. The index keeps
// two same-named calls in one round distinguishable.
func fillCallIDs(calls []llm.ToolCall, round int) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("call_%s_%d_%d", calls[i].Function.Name, round, i)
		}
	}
}

// generateRequestID mints the short correlation id carried through
// logs and events for one turn.
func generateRequestID() string {
	return "r_" + uuid.New().String()[:8]
}
