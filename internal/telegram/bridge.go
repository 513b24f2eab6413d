package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mwortham/reeve/internal/agent"
	"github.com/mwortham/reeve/internal/events"
	"github.com/mwortham/reeve/internal/llm"
	"github.com/mwortham/reeve/internal/session"
)

// AgentRunner abstracts the agent loop for testability. The real
// implementation is *agent.Loop.
type AgentRunner interface {
	Run(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// handleTimeout bounds how long a single inbound message may be
// processed (agent turn plus reply delivery).
const handleTimeout = 5 * time.Minute

// rateWindow is the sliding window for per-user rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// typingRefresh re-sends the typing action before Telegram's roughly
// five-second indicator expires.
const typingRefresh = 4 * time.Second

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client   *Client
	Runner   AgentRunner
	Sessions *session.Registry
	Resolver *llm.Resolver
	Bus      *events.Bus
	Logger   *slog.Logger

	// AllowedUserIDs is the closed set of accounts the bridge serves.
	// Messages from anyone else are dropped.
	AllowedUserIDs []int64
	// RateLimit is messages per user per minute; 0 = unlimited.
	RateLimit int
}

// Bridge receives Telegram updates, screens them, and routes message
// text through the agent loop, sending replies back to the chat.
type Bridge struct {
	client   *Client
	runner   AgentRunner
	sessions *session.Registry
	resolver *llm.Resolver
	bus      *events.Bus
	logger   *slog.Logger

	allowed   map[int64]bool
	rateLimit int

	mu          sync.Mutex
	userTimes   map[int64][]time.Time
	lastCleanup time.Time
}

// NewBridge creates a Telegram message bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[int64]bool, len(cfg.AllowedUserIDs))
	for _, id := range cfg.AllowedUserIDs {
		allowed[id] = true
	}
	return &Bridge{
		client:    cfg.Client,
		runner:    cfg.Runner,
		sessions:  cfg.Sessions,
		resolver:  cfg.Resolver,
		bus:       cfg.Bus,
		logger:    logger,
		allowed:   allowed,
		rateLimit: cfg.RateLimit,
		userTimes: make(map[int64][]time.Time),
	}
}

// Start consumes updates from the client and routes them until ctx is
// cancelled.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("telegram bridge started", "allowed_users", len(b.allowed))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram bridge shutting down")
			return
		case u, ok := <-b.client.Updates():
			if !ok {
				b.logger.Info("telegram update channel closed, bridge stopping")
				return
			}
			b.handleUpdate(ctx, u)
		}
	}
}

// handleUpdate screens one update and dispatches it. Commands run
// inline; agent turns run in their own goroutine so one user's slow
// turn does not block another's.
func (b *Bridge) handleUpdate(ctx context.Context, u Update) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}

	userID := msg.From.ID
	if !b.allowed[userID] {
		b.logger.Warn("telegram message from unlisted user dropped",
			"user", userID,
			"username", msg.From.Username,
		)
		return
	}

	if msg.Text == "" {
		// Photos, stickers, voice notes. Only text goes through.
		b.reply(ctx, msg.Chat.ID, "I can only read text messages right now.")
		return
	}

	if !b.allowUser(userID) {
		b.logger.Warn("telegram message rate-limited", "user", userID)
		b.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceTelegram,
			Kind:      events.KindRateLimited,
			Data:      map[string]any{"user": userID},
		})
		return
	}

	b.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTelegram,
		Kind:      events.KindMessageReceived,
		Data:      map[string]any{"user": userID, "text_len": len(msg.Text)},
	})

	if name, args, ok := parseCommand(msg.Text); ok {
		b.handleCommand(ctx, msg.Chat.ID, userID, name, args)
		return
	}

	go b.handleTurn(ctx, msg.Chat.ID, userID, msg.Text)
}

// handleTurn runs one agent turn and sends the reply. Turns for the
// same user are serialized on the session turn lock; a second message
// waits rather than interleaving histories.
func (b *Bridge) handleTurn(ctx context.Context, chatID, userID int64, text string) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	lock := b.sessions.TurnLock(userID)
	lock.Lock()
	defer lock.Unlock()

	b.logger.Info("telegram message received", "user", userID, "text_len", len(text))

	stopTyping := b.startTyping(ctx, chatID)
	resp, err := b.runner.Run(ctx, &agent.Request{UserID: userID, Text: text})
	stopTyping()

	if err != nil {
		b.logger.Error("telegram agent run failed", "user", userID, "error", err)
		b.reply(ctx, chatID, "Something went wrong on my side. Please try again.")
		return
	}

	b.logger.Info("telegram turn handled",
		"user", userID,
		"outcome", string(resp.Outcome),
		"response_len", len(resp.Content),
	)
	b.reply(ctx, chatID, resp.Content)
}

// startTyping shows the typing indicator and refreshes it until the
// returned stop function is called.
func (b *Bridge) startTyping(ctx context.Context, chatID int64) func() {
	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(typingRefresh)
		defer ticker.Stop()
		for {
			if err := b.client.SendChatAction(tctx, chatID, "typing"); err != nil {
				b.logger.Debug("telegram typing indicator failed", "error", err)
			}
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// reply sends text to the chat, split into API-sized chunks.
func (b *Bridge) reply(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	parts := splitMessage(text, MaxMessageLen)
	for i, part := range parts {
		if err := b.client.SendMessage(ctx, chatID, part); err != nil {
			b.logger.Error("telegram send failed",
				"chat", chatID,
				"part", i+1,
				"parts", len(parts),
				"error", err,
			)
			return
		}
	}
	b.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTelegram,
		Kind:      events.KindReplySent,
		Data:      map[string]any{"user": chatID, "chunks": len(parts)},
	})
}

// Notify delivers text straight to a user outside any agent turn. The
// scheduler uses this for reminder delivery.
func (b *Bridge) Notify(ctx context.Context, userID int64, text string) error {
	for _, part := range splitMessage(text, MaxMessageLen) {
		if err := b.client.SendMessage(ctx, userID, part); err != nil {
			return err
		}
	}
	return nil
}

// allowUser checks whether the user is within the per-minute rate
// limit. Returns true if the message should be processed.
func (b *Bridge) allowUser(userID int64) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	timestamps := b.userTimes[userID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.userTimes[userID] = valid
		return false
	}

	b.userTimes[userID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts stale rate-limit entries. Must be called
// with b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for user, timestamps := range b.userTimes {
		if len(timestamps) == 0 {
			delete(b.userTimes, user)
			continue
		}
		if timestamps[len(timestamps)-1].Before(cutoff) {
			delete(b.userTimes, user)
		}
	}
}

// splitMessage cuts text into chunks of at most limit bytes,
// preferring newline boundaries, then spaces, then a hard cut on a
// rune boundary.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut < limit/2 {
			if sp := strings.LastIndex(text[:limit], " "); sp >= limit/2 {
				cut = sp
			} else {
				cut = limit
				for cut > 0 && !utf8.RuneStart(text[cut]) {
					cut--
				}
				if cut == 0 {
					cut = limit
				}
			}
		}
		part := strings.TrimRight(text[:cut], " \n")
		if part != "" {
			parts = append(parts, part)
		}
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
