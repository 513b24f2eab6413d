package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwortham/reeve/internal/buildinfo"
)

const welcomeMessage = `Hi, I'm reeve, your personal assistant.

Send me a message and I'll do my best to help. I can search the web, fetch pages, remember things you tell me, and set reminders.

` + commandList

const helpMessage = `Here's what I respond to:

` + commandList

const commandList = `/help - show this help
/reset - clear our conversation and start fresh
/model - show providers, or /model <id> to switch
/status - show what I'm running`

// parseCommand splits a bot command into its lowercased name and
// argument tail. Returns ok=false for ordinary text. Telegram
// suffixes commands with @botname in group chats; the suffix is
// discarded.
func parseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	rest := text[1:]
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		name, args = rest[:i], strings.TrimSpace(rest[i+1:])
	} else {
		name = rest
	}
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), args, true
}

func (b *Bridge) handleCommand(ctx context.Context, chatID, userID int64, name, args string) {
	b.logger.Info("telegram command", "user", userID, "command", name)

	switch name {
	case "start":
		b.reply(ctx, chatID, welcomeMessage)
	case "help":
		b.reply(ctx, chatID, helpMessage)
	case "reset":
		b.handleReset(ctx, chatID, userID)
	case "model":
		b.handleModel(ctx, chatID, userID, args)
	case "status":
		b.handleStatus(ctx, chatID, userID)
	default:
		b.reply(ctx, chatID, "I don't know that command. Try /help.")
	}
}

func (b *Bridge) handleReset(ctx context.Context, chatID, userID int64) {
	// Wait out any in-flight turn; resetting mid-turn would be undone
	// by that turn's save.
	lock := b.sessions.TurnLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := b.sessions.Reset(ctx, userID); err != nil {
		b.logger.Error("session reset failed", "user", userID, "error", err)
		b.reply(ctx, chatID, "I couldn't clear the conversation. Please try again.")
		return
	}
	b.reply(ctx, chatID, "Conversation cleared. We're starting fresh.")
}

// handleModel lists the provider chain, or switches the session's
// selection when an id is given. The selection must resolve now;
// pointing a session at a provider with no credentials would only
// fail later, mid-conversation.
func (b *Bridge) handleModel(ctx context.Context, chatID, userID int64, args string) {
	// Turns for this user mutate the same session object.
	lock := b.sessions.TurnLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := b.sessions.Activate(ctx, userID)
	if err != nil {
		b.logger.Error("session activate failed", "user", userID, "error", err)
		b.reply(ctx, chatID, "I couldn't look up your session. Please try again.")
		return
	}

	if args == "" {
		order := b.resolver.Order()
		current := sess.SelectedModel
		if current == "" && len(order) > 0 {
			current = order[0]
		}
		var sb strings.Builder
		sb.WriteString("Providers, in fallback order:\n")
		for _, id := range order {
			marker := "  "
			if id == current {
				marker = "* "
			}
			if p, known := b.resolver.Lookup(id); known {
				fmt.Fprintf(&sb, "%s%s (%s)\n", marker, id, p.Model)
			} else {
				fmt.Fprintf(&sb, "%s%s\n", marker, id)
			}
		}
		sb.WriteString("\nUse /model <id> to switch.")
		b.reply(ctx, chatID, sb.String())
		return
	}

	selected := args
	p, known := b.resolver.Lookup(selected)
	if !known {
		b.reply(ctx, chatID, fmt.Sprintf("I don't know %q. Use /model to see the list.", selected))
		return
	}
	// Resolve falls through to the rest of the chain, so check that
	// the provider we got is the one that was asked for.
	active, err := b.resolver.Resolve(selected)
	if err != nil || active.ID != p.ID {
		b.logger.Warn("model switch rejected", "user", userID, "selected", selected)
		b.reply(ctx, chatID, fmt.Sprintf("I can't use %s right now, its credentials are not set. Use /model to see the list.", p.ID))
		return
	}
	sess.SelectedModel = selected
	if err := b.sessions.Save(ctx, sess); err != nil {
		b.logger.Error("session save failed", "user", userID, "error", err)
		b.reply(ctx, chatID, "I couldn't save that choice. Please try again.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Switched to %s.", selected))
}

func (b *Bridge) handleStatus(ctx context.Context, chatID, userID int64) {
	lock := b.sessions.TurnLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := b.sessions.Activate(ctx, userID)
	if err != nil {
		b.logger.Error("session activate failed", "user", userID, "error", err)
		b.reply(ctx, chatID, "I couldn't look up your session. Please try again.")
		return
	}

	order := b.resolver.Order()
	selected := sess.SelectedModel
	if selected == "" {
		if len(order) > 0 {
			selected = order[0] + " (default)"
		} else {
			selected = "none"
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "reeve %s, up %s\n", buildinfo.Version, buildinfo.Uptime())
	fmt.Fprintf(&sb, "Provider: %s\n", selected)
	fmt.Fprintf(&sb, "Chain: %s\n", strings.Join(order, " then "))
	fmt.Fprintf(&sb, "History: %d messages\n", len(sess.Messages))
	fmt.Fprintf(&sb, "Active sessions: %d", b.sessions.ActiveCount())
	b.reply(ctx, chatID, sb.String())
}
