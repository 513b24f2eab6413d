package web

import (
	"net/http"
	"time"
)

// TasksData is the template context for the reminders page.
type TasksData struct {
	ActiveNav string
	Tasks     []taskRow
	LoadError string
}

// taskRow is a display-friendly wrapper around a scheduled reminder.
type taskRow struct {
	Name     string
	UserID   int64
	Message  string
	Schedule string
	NextFire string
	Enabled  bool
}

// handleTasks renders the reminder list, disabled tasks included.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	data := TasksData{ActiveNav: "tasks"}

	if s.tasks != nil {
		tasks, err := s.tasks.ListTasks(false)
		if err != nil {
			s.logger.Error("task list failed", "error", err)
			data.LoadError = "task store unavailable"
		}
		now := time.Now()
		for _, t := range tasks {
			row := taskRow{
				Name:     t.Name,
				UserID:   t.Payload.UserID,
				Message:  truncate(t.Payload.Message, 60),
				Schedule: describeSchedule(t.Schedule),
				Enabled:  t.Enabled,
			}
			if next, ok := t.NextRun(now); ok {
				row.NextFire = next.Format("2006-01-02 15:04")
			} else {
				row.NextFire = "never"
			}
			data.Tasks = append(data.Tasks, row)
		}
	}

	s.render(w, r, "tasks.html", data)
}
