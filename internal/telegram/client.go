// Package telegram connects reeve to the Telegram Bot API: a
// long-polling client for inbound updates and a bridge that turns
// allowed users' messages into agent turns.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mwortham/reeve/internal/httpkit"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// defaultPollTimeout is the long-poll hold time in seconds when
	// the config does not set one.
	defaultPollTimeout = 50

	// pollBackoffMax caps the retry delay when getUpdates keeps
	// failing.
	pollBackoffMax = 30 * time.Second

	// MaxMessageLen is the Bot API limit for a single sendMessage
	// call. Longer replies are split by the bridge.
	MaxMessageLen = 4096
)

// Update is one entry from getUpdates. Only message updates are
// requested; everything else stays nil.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound Telegram message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// User identifies a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat identifies where a message was sent. For the direct chats
// reeve serves, the chat id equals the user id.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// APIError is a non-ok response from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// apiEnvelope is the uniform Bot API response wrapper.
type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// ClientConfig holds the settings for a Client.
type ClientConfig struct {
	// Token is the bot token from @BotFather.
	Token string
	// PollTimeoutSec is the getUpdates hold time. 0 means 50.
	PollTimeoutSec int
	Logger         *slog.Logger
}

// Client is a minimal Bot API client covering what the bridge needs:
// getMe, getUpdates long-polling, sendMessage, and sendChatAction.
type Client struct {
	token   string
	baseURL string
	pollSec int
	logger  *slog.Logger

	// api serves short calls; poll holds getUpdates open for the full
	// long-poll window, so it needs looser timeouts.
	api  *http.Client
	poll *http.Client

	updates chan Update
}

// NewClient creates a Bot API client. It does not touch the network;
// Start performs the first call.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollSec := cfg.PollTimeoutSec
	if pollSec <= 0 {
		pollSec = defaultPollTimeout
	}
	hold := time.Duration(pollSec) * time.Second
	return &Client{
		token:   cfg.Token,
		baseURL: defaultBaseURL,
		pollSec: pollSec,
		logger:  logger,
		api:     httpkit.NewClient(),
		poll: httpkit.NewClient(
			httpkit.WithTimeout(hold+15*time.Second),
			httpkit.WithResponseHeaderTimeout(hold+10*time.Second),
		),
		updates: make(chan Update, 16),
	}, nil
}

// Start verifies the token with getMe and begins long-polling in a
// background goroutine. The Updates channel closes when ctx ends.
func (c *Client) Start(ctx context.Context) error {
	me, err := c.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram token check failed: %w", err)
	}
	c.logger.Info("telegram connected", "bot", me.Username, "bot_id", me.ID)
	go c.pollLoop(ctx)
	return nil
}

// Updates returns the channel of inbound updates.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// pollLoop fetches updates until ctx is cancelled, acknowledging each
// batch by advancing the offset. Failures back off exponentially so a
// Telegram outage does not turn into a request storm.
func (c *Client) pollLoop(ctx context.Context) {
	defer close(c.updates)

	var offset int64
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("telegram poll failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, pollBackoffMax)
			continue
		}
		backoff = time.Second

		for _, u := range batch {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			select {
			case c.updates <- u:
			case <-ctx.Done():
				return
			}
		}
	}
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

func (c *Client) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         offset,
		Timeout:        c.pollSec,
		AllowedUpdates: []string{"message"},
	}
	var batch []Update
	if err := c.call(ctx, c.poll, "getUpdates", req, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// GetMe returns the bot's own account, proving the token works.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, c.api, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// SendMessage delivers text as Markdown, retrying as plain text when
// Telegram rejects the formatting. Models routinely emit Markdown
// that is not valid in Telegram's dialect, and a mangled reply beats
// a lost one.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	err := c.call(ctx, c.api, "sendMessage", sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	}, nil)
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return err
	}
	c.logger.Debug("telegram markdown rejected, sending plain", "error", err)
	return c.call(ctx, c.api, "sendMessage", sendMessageRequest{
		ChatID: chatID,
		Text:   text,
	}, nil)
}

// SendChatAction shows an activity indicator in the chat. Telegram
// clears it after about five seconds, so long turns refresh it.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.call(ctx, c.api, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

// call posts one Bot API method and decodes the response envelope
// into result when it is non-nil.
func (c *Client) call(ctx context.Context, hc *http.Client, method string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", method, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+c.token+"/"+method, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}

	var envelope apiEnvelope
	err = json.NewDecoder(resp.Body).Decode(&envelope)
	httpkit.DrainAndClose(resp.Body, 4096)
	if err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !envelope.OK {
		return &APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}
