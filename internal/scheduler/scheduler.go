package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// missedWindow is how far past its scheduled time a pending execution
// may be and still be caught up on startup. Older ones are skipped; a
// reminder about yesterday's meeting helps nobody.
const missedWindow = 24 * time.Hour

// executeTimeout bounds a single delivery, including the agent turn it
// triggers.
const executeTimeout = 5 * time.Minute

// ExecuteFunc is called when a task fires.
type ExecuteFunc func(ctx context.Context, task *Task, execution *Execution) error

// Scheduler manages task timers and firing.
type Scheduler struct {
	logger  *slog.Logger
	store   *Store
	execute ExecuteFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer // taskID -> timer
	running bool
	wg      sync.WaitGroup
}

// New creates a scheduler over the given store. The execute callback
// performs the actual delivery when a task fires.
func New(logger *slog.Logger, store *Store, execute ExecuteFunc) *Scheduler {
	return &Scheduler{
		logger:  logger.With("component", "scheduler"),
		store:   store,
		execute: execute,
		timers:  make(map[string]*time.Timer),
	}
}

// Start loads enabled tasks, arms their timers, and catches up any
// deliveries missed while the process was down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	tasks, err := s.store.ListTasks(true)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		s.scheduleTask(task)
	}

	s.logger.Debug("scheduler started", "tasks", len(tasks))

	s.checkMissedExecutions(ctx)

	return nil
}

// Stop halts the scheduler and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// CreateTask adds a new task and arms its timer.
func (s *Scheduler) CreateTask(task *Task) error {
	if err := s.store.CreateTask(task); err != nil {
		return err
	}

	if task.Enabled {
		s.scheduleTask(task)
	}

	s.logger.Info("reminder created",
		"id", task.ID,
		"name", task.Name,
		"user_id", task.Payload.UserID,
		"schedule", task.Schedule.Kind,
	)

	return nil
}

// DeleteTask removes a task and cancels its timer.
func (s *Scheduler) DeleteTask(id string) error {
	s.cancelTimer(id)

	if err := s.store.DeleteTask(id); err != nil {
		return err
	}

	s.logger.Info("reminder deleted", "id", id)
	return nil
}

// GetTask retrieves a task by ID.
func (s *Scheduler) GetTask(id string) (*Task, error) {
	return s.store.GetTask(id)
}

// ListTasks returns all tasks.
func (s *Scheduler) ListTasks(enabledOnly bool) ([]*Task, error) {
	return s.store.ListTasks(enabledOnly)
}

// ListTasksForUser returns one user's tasks.
func (s *Scheduler) ListTasksForUser(userID int64, enabledOnly bool) ([]*Task, error) {
	return s.store.ListTasksForUser(userID, enabledOnly)
}

// ListExecutions returns recent executions for a task.
func (s *Scheduler) ListExecutions(taskID string, limit int) ([]*Execution, error) {
	return s.store.ListExecutions(taskID, limit)
}

// scheduleTask arms a timer for the task's next run and queues the
// pending execution record that startup catch-up relies on.
func (s *Scheduler) scheduleTask(task *Task) {
	next, ok := task.NextRun(time.Now())
	if !ok {
		s.logger.Debug("task has no future runs", "id", task.ID, "name", task.Name)
		return
	}

	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if timer, exists := s.timers[task.ID]; exists {
		timer.Stop()
	}
	s.timers[task.ID] = time.AfterFunc(delay, func() {
		s.onTaskFire(task.ID)
	})
	s.mu.Unlock()

	s.ensurePendingExecution(task.ID, next)

	s.logger.Debug("task scheduled",
		"id", task.ID,
		"name", task.Name,
		"next", next,
		"delay", delay,
	)
}

// ensurePendingExecution queues an execution record for the next run
// unless one is already waiting.
func (s *Scheduler) ensurePendingExecution(taskID string, next time.Time) {
	exec, err := s.store.PendingExecutionForTask(taskID)
	if err != nil {
		s.logger.Error("failed to check pending execution", "task_id", taskID, "error", err)
		return
	}
	if exec != nil {
		return
	}

	exec = &Execution{
		ID:          NewID(),
		TaskID:      taskID,
		ScheduledAt: next.UTC(),
		Status:      StatusPending,
	}
	if err := s.store.CreateExecution(exec); err != nil {
		s.logger.Error("failed to queue execution", "task_id", taskID, "error", err)
	}
}

// onTaskFire is called when a task's timer fires.
func (s *Scheduler) onTaskFire(taskID string) {
	// Join the in-flight group under the same lock as the running
	// check, so Stop's Wait cannot pass between a timer firing and
	// its delivery registering.
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	delete(s.timers, taskID)
	s.mu.Unlock()
	defer s.wg.Done()

	// Get fresh task data; it may have been deleted since scheduling.
	task, err := s.store.GetTask(taskID)
	if err != nil {
		s.logger.Error("failed to load task for delivery", "id", taskID, "error", err)
		return
	}
	if !task.Enabled {
		return
	}

	exec, err := s.store.PendingExecutionForTask(taskID)
	if err != nil {
		s.logger.Error("failed to load pending execution", "task_id", taskID, "error", err)
	}
	if exec == nil {
		exec = &Execution{
			ID:          NewID(),
			TaskID:      taskID,
			ScheduledAt: time.Now().UTC(),
			Status:      StatusPending,
		}
		if err := s.store.CreateExecution(exec); err != nil {
			s.logger.Error("failed to record execution", "task_id", taskID, "error", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()

	s.deliver(ctx, task, exec)
}

// deliver runs one execution and advances the task past it: one-shots
// are retired, repeating tasks are rearmed.
func (s *Scheduler) deliver(ctx context.Context, task *Task, exec *Execution) {
	if err := s.executeTask(ctx, task, exec); err != nil {
		s.logger.Error("reminder delivery failed", "task_id", task.ID, "error", err)
	}

	if task.Schedule.Kind == ScheduleAt {
		task.Enabled = false
		if err := s.store.UpdateTask(task); err != nil {
			s.logger.Error("failed to retire one-shot reminder", "task_id", task.ID, "error", err)
		}
		return
	}

	s.scheduleTask(task)
}

// executeTask transitions an execution through running to its final
// status while invoking the delivery callback.
func (s *Scheduler) executeTask(ctx context.Context, task *Task, exec *Execution) error {
	now := time.Now().UTC()
	exec.StartedAt = &now
	exec.Status = StatusRunning
	if err := s.store.UpdateExecution(exec); err != nil {
		return err
	}

	s.logger.Info("delivering reminder",
		"task_id", task.ID,
		"task_name", task.Name,
		"execution_id", exec.ID,
	)

	var execErr error
	if s.execute != nil {
		execErr = s.execute(ctx, task, exec)
	}

	completed := time.Now().UTC()
	exec.CompletedAt = &completed

	if execErr != nil {
		exec.Status = StatusFailed
		exec.Result = execErr.Error()
	} else {
		exec.Status = StatusCompleted
		exec.Result = "delivered"
	}

	if err := s.store.UpdateExecution(exec); err != nil {
		s.logger.Error("failed to update execution", "id", exec.ID, "error", err)
	}

	s.logger.Info("reminder delivered",
		"task_id", task.ID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"duration", completed.Sub(now),
	)

	return execErr
}

// cancelTimer stops and removes a task's timer.
func (s *Scheduler) cancelTimer(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, exists := s.timers[taskID]; exists {
		timer.Stop()
		delete(s.timers, taskID)
	}
}

// checkMissedExecutions handles deliveries that should have happened
// while the process was down. Recent misses fire immediately; anything
// older than the catch-up window is marked skipped.
func (s *Scheduler) checkMissedExecutions(ctx context.Context) {
	pending, err := s.store.GetPendingExecutions()
	if err != nil {
		s.logger.Error("failed to get pending executions", "error", err)
		return
	}

	now := time.Now()
	for _, exec := range pending {
		if exec.ScheduledAt.After(now) {
			continue // Not due yet; its timer is armed.
		}

		if now.Sub(exec.ScheduledAt) > missedWindow {
			exec.Status = StatusSkipped
			exec.Result = "missed delivery window (>24h)"
			_ = s.store.UpdateExecution(exec)
			s.logger.Info("skipped stale reminder", "execution_id", exec.ID, "scheduled", exec.ScheduledAt)
			continue
		}

		task, err := s.store.GetTask(exec.TaskID)
		if err != nil {
			s.logger.Error("failed to load task for catch-up", "task_id", exec.TaskID, "error", err)
			continue
		}
		if !task.Enabled {
			continue
		}

		s.logger.Info("catching up missed reminder", "task", task.Name, "scheduled", exec.ScheduledAt)
		s.deliver(ctx, task, exec)
	}
}

// Stats returns scheduler statistics for the ops surfaces.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, _ := s.store.ListTasks(false)
	enabled := 0
	for _, t := range tasks {
		if t.Enabled {
			enabled++
		}
	}

	return map[string]any{
		"running":       s.running,
		"total_tasks":   len(tasks),
		"enabled_tasks": enabled,
		"active_timers": len(s.timers),
	}
}
