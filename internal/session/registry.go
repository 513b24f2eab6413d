package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mwortham/reeve/internal/prompts"
)

// Store is the persistence backend behind the registry. Load returns
// (nil, nil) when no session exists for the user.
type Store interface {
	Load(ctx context.Context, userID int64) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]Summary, error)
}

// Summary describes a persisted session without its messages.
type Summary struct {
	UserID        int64
	SelectedModel string
	Messages      int
	UpdatedAt     time.Time
}

// Registry hands out live sessions backed by a Store. It owns the
// in-memory copies and the per-user locks that serialize turns.
type Registry struct {
	store      Store
	logger     *slog.Logger
	maxHistory int
	persona    string
	loc        *time.Location

	mu    sync.RWMutex
	live  map[int64]*Session
	locks map[int64]*sync.Mutex
}

// NewRegistry creates a registry over store. persona may be empty to
// use the built-in system prompt; loc fixes the timezone the prompt's
// clock renders in.
func NewRegistry(store Store, maxHistory int, persona string, loc *time.Location, logger *slog.Logger) *Registry {
	if loc == nil {
		loc = time.Local
	}
	return &Registry{
		store:      store,
		logger:     logger.With("component", "sessions"),
		maxHistory: maxHistory,
		persona:    persona,
		loc:        loc,
		live:       make(map[int64]*Session),
		locks:      make(map[int64]*sync.Mutex),
	}
}

// TurnLock returns the mutex serializing turns for userID. The caller
// holds it for the whole turn, so near-simultaneous messages from the
// same user queue instead of racing on load and save.
func (r *Registry) TurnLock(userID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	return l
}

// Activate returns the live session for userID, restoring it from the
// store or creating it fresh. Restored history is sanitized for
// replay, and the system prompt is rebuilt on every call so its clock
// stays current.
func (r *Registry) Activate(ctx context.Context, userID int64) (*Session, error) {
	r.mu.RLock()
	s, ok := r.live[userID]
	r.mu.RUnlock()

	if !ok {
		loaded, err := r.store.Load(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load session %d: %w", userID, err)
		}
		if loaded == nil {
			s = New(userID)
			r.logger.Debug("session created", "user", userID)
		} else {
			s = loaded
			s.Messages = SanitizeHistory(s.Messages)
			s.ContextLoaded = false
			r.logger.Debug("session restored", "user", userID, "messages", len(s.Messages))
		}
		r.mu.Lock()
		r.live[userID] = s
		r.mu.Unlock()
	}

	s.SystemPrompt = prompts.SystemPrompt(r.persona, time.Now().In(r.loc))
	return s, nil
}

// Save trims the history to the configured bound and persists.
func (r *Registry) Save(ctx context.Context, s *Session) error {
	s.Trim(r.maxHistory)
	s.UpdatedAt = time.Now().UTC()
	if err := r.store.Save(ctx, s); err != nil {
		return fmt.Errorf("save session %d: %w", s.UserID, err)
	}
	return nil
}

// Reset drops the live copy and the persisted record.
func (r *Registry) Reset(ctx context.Context, userID int64) error {
	r.mu.Lock()
	delete(r.live, userID)
	r.mu.Unlock()

	if err := r.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete session %d: %w", userID, err)
	}
	r.logger.Info("session reset", "user", userID)
	return nil
}

// ActiveCount reports how many sessions are live in memory.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
