package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mwortham/reeve/internal/scheduler"
)

// SetScheduler adds the remind_set, remind_list, and remind_cancel
// tools to the registry.
func (r *Registry) SetScheduler(sched *scheduler.Scheduler) {
	r.sched = sched
	r.registerRemindTools()
}

func (r *Registry) registerRemindTools() {
	if r.sched == nil {
		return
	}

	r.Register(&Tool{
		Name: "remind_set",
		Description: "Set a reminder for the user. One-shot reminders fire once at " +
			"the given time; pass repeat instead for a recurring reminder.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "What to remind the user about, phrased as a note to them",
				},
				"when": map[string]any{
					"type":        "string",
					"description": "When to fire a one-shot reminder: a duration ('30m', '2h'), 'in 20 minutes', a time ('15:04', '3:04pm'), or a timestamp ('2006-01-02 15:04', RFC3339)",
				},
				"repeat": map[string]any{
					"type":        "string",
					"description": "Repeat interval for a recurring reminder ('1h', 'daily', 'weekly'). The first delivery is one interval from now; 'when' is ignored",
				},
			},
			"required": []string{"message"},
		},
		Handler: r.handleRemindSet,
	})

	r.Register(&Tool{
		Name:        "remind_list",
		Description: "List the user's reminders with their ids and next delivery times.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"include_past": map[string]any{
					"type":        "boolean",
					"description": "Also show reminders that have already been delivered (default: false)",
				},
			},
		},
		Handler: r.handleRemindList,
	})

	r.Register(&Tool{
		Name:        "remind_cancel",
		Description: "Cancel one of the user's reminders by id (full id or the short prefix shown by remind_list).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "The reminder id to cancel",
				},
			},
			"required": []string{"id"},
		},
		Handler: r.handleRemindCancel,
	})
}

func (r *Registry) handleRemindSet(ctx context.Context, args map[string]any) (string, error) {
	userID := UserIDFromContext(ctx)
	if userID == 0 {
		return "", fmt.Errorf("reminders need a chat session to deliver to")
	}

	message, _ := args["message"].(string)
	if message == "" {
		return "", fmt.Errorf("message is required")
	}
	when, _ := args["when"].(string)
	repeat, _ := args["repeat"].(string)
	if when == "" && repeat == "" {
		return "", fmt.Errorf("when or repeat is required")
	}

	now := time.Now()
	var schedule scheduler.Schedule
	if repeat != "" {
		dur, err := parseDuration(repeat)
		if err != nil {
			return "", fmt.Errorf("invalid repeat: %w", err)
		}
		if dur < time.Minute {
			return "", fmt.Errorf("repeat interval must be at least a minute")
		}
		schedule = scheduler.Schedule{
			Kind:  scheduler.ScheduleEvery,
			Every: &scheduler.Duration{Duration: dur},
		}
	} else {
		at, err := parseWhen(when, now)
		if err != nil {
			return "", fmt.Errorf("invalid time: %w", err)
		}
		if !at.After(now) {
			return "", fmt.Errorf("%q is in the past", when)
		}
		schedule = scheduler.Schedule{
			Kind: scheduler.ScheduleAt,
			At:   &at,
		}
	}

	task := &scheduler.Task{
		Name:     shortLabel(message),
		Schedule: schedule,
		Payload:  scheduler.Payload{UserID: userID, Message: message},
		Enabled:  true,
	}
	if err := r.sched.CreateTask(task); err != nil {
		return "", fmt.Errorf("save reminder: %w", err)
	}

	next, _ := task.NextRun(now)
	if schedule.Kind == scheduler.ScheduleEvery {
		return fmt.Sprintf("Repeating reminder set (id %s), every %s, next at %s.",
			task.ID[:8], schedule.Every.Duration, next.Format("2006-01-02 15:04")), nil
	}
	return fmt.Sprintf("Reminder set (id %s) for %s.",
		task.ID[:8], next.Format("2006-01-02 15:04")), nil
}

func (r *Registry) handleRemindList(ctx context.Context, args map[string]any) (string, error) {
	userID := UserIDFromContext(ctx)
	if userID == 0 {
		return "", fmt.Errorf("reminders need a chat session")
	}

	includePast := false
	if v, ok := args["include_past"].(bool); ok {
		includePast = v
	}

	tasks, err := r.sched.ListTasksForUser(userID, !includePast)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No reminders set.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d reminder(s):\n", len(tasks))
	now := time.Now()
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s (id %s)", t.Name, t.ID[:8])
		if next, ok := t.NextRun(now); ok {
			fmt.Fprintf(&b, ", next: %s", next.Format("2006-01-02 15:04"))
		} else if !t.Enabled {
			b.WriteString(", delivered")
		}
		if t.Schedule.Kind == scheduler.ScheduleEvery && t.Schedule.Every != nil {
			fmt.Fprintf(&b, ", every %s", t.Schedule.Every.Duration)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (r *Registry) handleRemindCancel(ctx context.Context, args map[string]any) (string, error) {
	userID := UserIDFromContext(ctx)
	if userID == 0 {
		return "", fmt.Errorf("reminders need a chat session")
	}

	id, _ := args["id"].(string)
	if id == "" {
		return "", fmt.Errorf("id is required")
	}

	// Match full id or prefix, scoped to the caller's own reminders so
	// one user cannot cancel another's.
	tasks, err := r.sched.ListTasksForUser(userID, false)
	if err != nil {
		return "", err
	}
	var found *scheduler.Task
	for _, t := range tasks {
		if t.ID == id || strings.HasPrefix(t.ID, id) {
			found = t
			break
		}
	}
	if found == nil {
		return "", fmt.Errorf("no reminder with id %s", id)
	}

	if err := r.sched.DeleteTask(found.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder %q cancelled.", found.Name), nil
}

// shortLabel derives a listing label from the reminder text.
func shortLabel(s string) string {
	const max = 40
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-1]) + "…"
}

// parseWhen converts a human-friendly time specification into the
// one-shot delivery time.
func parseWhen(when string, now time.Time) (time.Time, error) {
	// Plain duration first (e.g., "30m", "2h").
	if dur, err := time.ParseDuration(when); err == nil {
		return now.Add(dur), nil
	}

	// "in X minutes/hours" phrasing.
	if strings.HasPrefix(strings.ToLower(when), "in ") {
		durStr := strings.TrimPrefix(strings.ToLower(when), "in ")
		if dur, err := parseHumanDuration(durStr); err == nil {
			return now.Add(dur), nil
		}
	}

	if t, err := time.Parse(time.RFC3339, when); err == nil {
		return t, nil
	}

	// Common date and clock formats, read in the user's location.
	formats := []string{
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"15:04",
		"3:04pm",
		"3:04 pm",
	}
	for _, format := range formats {
		t, err := time.ParseInLocation(format, when, now.Location())
		if err != nil {
			continue
		}
		// Clock-only formats mean today, or tomorrow if that has passed.
		if format == "15:04" || format == "3:04pm" || format == "3:04 pm" {
			t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
			if t.Before(now) {
				t = t.Add(24 * time.Hour)
			}
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("could not parse time: %s", when)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	// Handle "daily", "hourly" etc
	switch s {
	case "daily":
		return 24 * time.Hour, nil
	case "hourly":
		return time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

func parseHumanDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	parts := strings.Fields(s)

	if len(parts) < 2 {
		return 0, fmt.Errorf("expected '<number> <unit>'")
	}

	var num int
	_, err := fmt.Sscanf(parts[0], "%d", &num)
	if err != nil {
		return 0, err
	}

	unit := strings.ToLower(parts[1])
	switch {
	case strings.HasPrefix(unit, "second"):
		return time.Duration(num) * time.Second, nil
	case strings.HasPrefix(unit, "minute"):
		return time.Duration(num) * time.Minute, nil
	case strings.HasPrefix(unit, "hour"):
		return time.Duration(num) * time.Hour, nil
	case strings.HasPrefix(unit, "day"):
		return time.Duration(num) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}
