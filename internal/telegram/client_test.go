package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// botServer fakes the Bot API surface the client touches and records
// what it was sent.
type botServer struct {
	mu          sync.Mutex
	sends       []sendMessageRequest
	actions     []map[string]any
	polls       []getUpdatesRequest
	rejectParse bool // reject sendMessage calls that carry parse_mode
	srv         *httptest.Server
}

func newBotServer(t *testing.T) *botServer {
	t.Helper()
	bs := &botServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/getMe", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"reeve","username":"reeve_bot"}}`)
	})
	mux.HandleFunc("/bottest-token/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		var req getUpdatesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode getUpdates body: %v", err)
		}
		bs.mu.Lock()
		bs.polls = append(bs.polls, req)
		bs.mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	})
	mux.HandleFunc("/bottest-token/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode sendMessage body: %v", err)
		}
		bs.mu.Lock()
		bs.sends = append(bs.sends, req)
		reject := bs.rejectParse && req.ParseMode != ""
		bs.mu.Unlock()
		if reject {
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":1}}`)
	})
	mux.HandleFunc("/bottest-token/sendChatAction", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode sendChatAction body: %v", err)
		}
		bs.mu.Lock()
		bs.actions = append(bs.actions, req)
		bs.mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	})

	bs.srv = httptest.NewServer(mux)
	t.Cleanup(bs.srv.Close)
	return bs
}

func (bs *botServer) sentMessages() []sendMessageRequest {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make([]sendMessageRequest, len(bs.sends))
	copy(out, bs.sends)
	return out
}

func (bs *botServer) actionCount() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.actions)
}

func newTestClient(t *testing.T, bs *botServer) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Token:          "test-token",
		PollTimeoutSec: 1,
		Logger:         slog.Default(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.baseURL = bs.srv.URL
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("NewClient() accepted an empty token")
	}
}

func TestGetMe(t *testing.T) {
	bs := newBotServer(t)
	c := newTestClient(t, bs)

	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe() error = %v", err)
	}
	if me.ID != 99 || me.Username != "reeve_bot" {
		t.Errorf("GetMe() = %+v, want id 99 username reeve_bot", me)
	}
}

func TestGetUpdatesSendsOffsetAndTimeout(t *testing.T) {
	bs := newBotServer(t)
	c := newTestClient(t, bs)

	if _, err := c.getUpdates(context.Background(), 42); err != nil {
		t.Fatalf("getUpdates() error = %v", err)
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if len(bs.polls) != 1 {
		t.Fatalf("server saw %d polls, want 1", len(bs.polls))
	}
	poll := bs.polls[0]
	if poll.Offset != 42 {
		t.Errorf("offset = %d, want 42", poll.Offset)
	}
	if poll.Timeout != 1 {
		t.Errorf("timeout = %d, want 1", poll.Timeout)
	}
	if len(poll.AllowedUpdates) != 1 || poll.AllowedUpdates[0] != "message" {
		t.Errorf("allowed_updates = %v, want [message]", poll.AllowedUpdates)
	}
}

func TestSendMessageUsesMarkdown(t *testing.T) {
	bs := newBotServer(t)
	c := newTestClient(t, bs)

	if err := c.SendMessage(context.Background(), 7, "*hello*"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	sends := bs.sentMessages()
	if len(sends) != 1 {
		t.Fatalf("server saw %d sends, want 1", len(sends))
	}
	if sends[0].ChatID != 7 || sends[0].Text != "*hello*" {
		t.Errorf("send = %+v", sends[0])
	}
	if sends[0].ParseMode != "Markdown" {
		t.Errorf("parse_mode = %q, want Markdown", sends[0].ParseMode)
	}
}

func TestSendMessageFallsBackToPlainOn400(t *testing.T) {
	bs := newBotServer(t)
	bs.rejectParse = true
	c := newTestClient(t, bs)

	if err := c.SendMessage(context.Background(), 7, "broken _markdown"); err != nil {
		t.Fatalf("SendMessage() error = %v, want plain-text fallback to succeed", err)
	}

	sends := bs.sentMessages()
	if len(sends) != 2 {
		t.Fatalf("server saw %d sends, want 2", len(sends))
	}
	if sends[0].ParseMode != "Markdown" {
		t.Errorf("first attempt parse_mode = %q, want Markdown", sends[0].ParseMode)
	}
	if sends[1].ParseMode != "" {
		t.Errorf("retry parse_mode = %q, want empty", sends[1].ParseMode)
	}
	if sends[1].Text != "broken _markdown" {
		t.Errorf("retry text = %q, want original text", sends[1].Text)
	}
}

func TestSendMessageNon400NotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/bottest-token/sendMessage", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	})
	blocked := httptest.NewServer(mux)
	defer blocked.Close()

	c, err := NewClient(ClientConfig{Token: "test-token", Logger: slog.Default()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.baseURL = blocked.URL

	err = c.SendMessage(context.Background(), 7, "hello")
	if err == nil {
		t.Fatal("SendMessage() succeeded against a 403")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v, want the code surfaced", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("server saw %d sends, want 1 (no retry on 403)", calls)
	}
}

func TestSendChatAction(t *testing.T) {
	bs := newBotServer(t)
	c := newTestClient(t, bs)

	if err := c.SendChatAction(context.Background(), 7, "typing"); err != nil {
		t.Fatalf("SendChatAction() error = %v", err)
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if len(bs.actions) != 1 {
		t.Fatalf("server saw %d actions, want 1", len(bs.actions))
	}
	if bs.actions[0]["action"] != "typing" {
		t.Errorf("action = %v, want typing", bs.actions[0]["action"])
	}
}
