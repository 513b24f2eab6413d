package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwortham/reeve/internal/agent"
	"github.com/mwortham/reeve/internal/events"
	"github.com/mwortham/reeve/internal/prompts"
	"github.com/mwortham/reeve/internal/scheduler"
	"github.com/mwortham/reeve/internal/session"
)

// agentRunner abstracts the agent loop for reminder delivery testing.
type agentRunner interface {
	Run(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// reminderNotifier delivers text to a user outside an agent turn.
// Implemented by *telegram.Bridge.
type reminderNotifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// reminderDeps holds everything reminder delivery needs. A struct
// keeps the scheduler's execute closure in serve.go to one line and
// lets tests swap in fakes.
type reminderDeps struct {
	runner   agentRunner
	sessions *session.Registry
	notifier reminderNotifier // nil when no delivery channel is configured
	bus      *events.Bus
	logger   *slog.Logger
}

// deliverReminder handles one due reminder: it runs the stored text
// through the agent loop as a synthetic turn, so the delivered message
// is phrased by the model with full conversation context, then pushes
// the reply out through the notifier.
//
// The turn holds the same per-user lock as interactive messages, so a
// reminder firing mid-conversation queues instead of interleaving
// histories. Without a notifier the turn still runs; the reply then
// lives only in the session transcript.
func deliverReminder(ctx context.Context, task *scheduler.Task, exec *scheduler.Execution, deps reminderDeps) error {
	userID := task.Payload.UserID
	if userID == 0 {
		deps.logger.Warn("reminder has no user to deliver to; dropping",
			"task_id", task.ID, "task_name", task.Name)
		return nil
	}

	deps.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceScheduler,
		Kind:      events.KindTaskFired,
		Data:      map[string]any{"task": task.Name, "user": userID},
	})

	lock := deps.sessions.TurnLock(userID)
	lock.Lock()
	defer lock.Unlock()

	resp, err := deps.runner.Run(ctx, &agent.Request{
		UserID: userID,
		Text:   prompts.ReminderFiredPrompt(task.Payload.Message),
	})
	if err != nil {
		return fmt.Errorf("reminder turn: %w", err)
	}

	reply := resp.Content
	if reply == "" {
		// Whatever went wrong in the turn, the user still gets the
		// stored text.
		reply = "Reminder: " + task.Payload.Message
	}

	if deps.notifier == nil {
		deps.logger.Warn("no delivery channel; reminder reply kept in session only",
			"task_id", task.ID, "user", userID)
	} else if err := deps.notifier.Notify(ctx, userID, reply); err != nil {
		return fmt.Errorf("deliver reminder: %w", err)
	}

	deps.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceScheduler,
		Kind:      events.KindTaskComplete,
		Data: map[string]any{
			"task":    task.Name,
			"user":    userID,
			"outcome": string(resp.Outcome),
		},
	})

	return nil
}
