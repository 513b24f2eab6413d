// Package scheduler persists reminders and fires them at their
// scheduled times. A Task owns a Schedule (one-shot or repeating) and
// a Payload naming the user to notify and the text to deliver; each
// firing is recorded as an Execution so runs missed while the process
// was down can be caught up on the next start.
package scheduler

import (
	"time"
)

// Task is a scheduled reminder.
type Task struct {
	ID        string    `json:"id"`       // UUIDv7
	Name      string    `json:"name"`     // Short label shown in listings
	Schedule  Schedule  `json:"schedule"` // When to fire
	Payload   Payload   `json:"payload"`  // Who to notify, and with what
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedule defines when a task should fire.
type Schedule struct {
	Kind  ScheduleKind `json:"kind"`
	At    *time.Time   `json:"at,omitempty"`    // For "at" kind
	Every *Duration    `json:"every,omitempty"` // For "every" kind
}

// ScheduleKind identifies the schedule type.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"    // One-shot at a specific time
	ScheduleEvery ScheduleKind = "every" // Recurring interval
)

// Duration wraps time.Duration for JSON serialization.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Payload is what a firing delivers: the owning user's chat id and the
// reminder text handed to the agent turn that announces it.
type Payload struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

// Execution records a single firing of a task. A pending execution is
// written when the task is scheduled; firing transitions it through
// running to completed or failed. Pending rows left behind by a dead
// process are how startup catch-up finds missed reminders.
type Execution struct {
	ID          string          `json:"id"`      // UUIDv7
	TaskID      string          `json:"task_id"` // FK to Task
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"` // Outcome or error text
}

// ExecutionStatus indicates the state of an execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped" // Missed window, not caught up
)

// NextRun calculates the next firing time strictly after the given
// instant. ok is false when the task will never fire again.
func (t *Task) NextRun(after time.Time) (time.Time, bool) {
	switch t.Schedule.Kind {
	case ScheduleAt:
		if t.Schedule.At != nil && t.Schedule.At.After(after) {
			return *t.Schedule.At, true
		}
		return time.Time{}, false // One-shot already passed

	case ScheduleEvery:
		if t.Schedule.Every == nil || t.Schedule.Every.Duration <= 0 {
			return time.Time{}, false
		}
		interval := t.Schedule.Every.Duration
		base := t.CreatedAt
		if base.IsZero() {
			base = after
		}
		elapsed := after.Sub(base)
		if elapsed < 0 {
			return base, true
		}
		intervals := int64(elapsed/interval) + 1
		return base.Add(time.Duration(intervals) * interval), true

	default:
		return time.Time{}, false
	}
}
