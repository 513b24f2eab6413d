package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mwortham/reeve/internal/events"
)

func TestEventsWS_StreamsBusEvents(t *testing.T) {
	bus := events.New()
	s := newTestServer(t, func(cfg *Config) { cfg.Bus = bus })

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	// The handler subscribes after the handshake; wait for it before
	// publishing so the event cannot be missed.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bus.SubscriberCount() == 0 {
		t.Fatal("handler never subscribed to the bus")
	}

	bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindToolCall,
		Data:      map[string]any{"tool": "web_search"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Source != events.SourceAgent {
		t.Errorf("source = %q, want %q", got.Source, events.SourceAgent)
	}
	if got.Kind != events.KindToolCall {
		t.Errorf("kind = %q, want %q", got.Kind, events.KindToolCall)
	}
	if got.Data["tool"] != "web_search" {
		t.Errorf("data tool = %v, want web_search", got.Data["tool"])
	}
}

func TestEventsWS_UnsubscribesOnDisconnect(t *testing.T) {
	bus := events.New()
	s := newTestServer(t, func(cfg *Config) { cfg.Bus = bus })

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bus.SubscriberCount() == 0 {
		t.Fatal("handler never subscribed to the bus")
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count after disconnect = %d, want 0", n)
	}
}

func TestEventsWS_NoBus(t *testing.T) {
	s := newTestServer(t)
	w := get(s, "/ws", nil)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /ws without bus status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
