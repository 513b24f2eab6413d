// Package tools defines the tools available to the agent.
//
// The registry's Execute contract is the one the loop relies on: it
// always returns a result string and never propagates an error or a
// panic. Failures come back as a JSON envelope the model can read,
// so a broken tool call becomes something to talk about rather than
// something that kills the turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mwortham/reeve/internal/fetch"
	"github.com/mwortham/reeve/internal/scheduler"
	"github.com/mwortham/reeve/internal/search"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	logger *slog.Logger
	tools  map[string]*Tool

	searchMgr *search.Manager
	fetcher   *fetch.Fetcher
	sched     *scheduler.Scheduler
}

// NewRegistry creates an empty tool registry. Tools appear as their
// backing dependencies are wired in through the Set methods.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "tools"),
		tools:  make(map[string]*Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the tool schema catalogue in the shape chat-completion
// requests expect. The order is stable so identical requests stay
// byte-identical across rounds.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with already-decoded arguments. It
// always returns a result string: handler errors, unknown tools, and
// even handler panics are encoded as error envelopes for the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", rec)
			result = ErrorResult(fmt.Sprintf("the %s tool crashed; its result is unavailable", name))
		}
	}()

	tool := r.tools[name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return ErrorResult((&ErrToolUnavailable{ToolName: name}).Error())
	}

	if args == nil {
		args = map[string]any{}
	}

	out, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed",
			"tool", name,
			"duration", time.Since(start),
			"error", err,
		)
		return ErrorResult(err.Error())
	}

	r.logger.Debug("tool executed", "tool", name, "duration", time.Since(start))
	return out
}

// ErrorResult encodes a failure message as the JSON envelope tool
// results use.
func ErrorResult(msg string) string {
	out, err := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
	})
	if err != nil {
		return `{"success": false, "error": "internal error"}`
	}
	return string(out)
}
