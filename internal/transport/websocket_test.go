package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/event"
)

var upgrader = websocket.Upgrader{}

// testServer runs a websocket endpoint that records the auth header and
// hands the raw connection to the given session func.
func testServer(t *testing.T, session func(*websocket.Conn)) (*Socket, *string) {
	t.Helper()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		session(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	logger, _ := zap.NewDevelopment()
	s := NewSocket(url, logger)
	t.Cleanup(func() { _ = s.Close() })
	return s, &gotAuth
}

func TestDialSendsCredential(t *testing.T) {
	s, gotAuth := testServer(t, func(conn *websocket.Conn) {
		_ = conn.Close()
	})

	if err := s.Dial(context.Background(), "tok-123"); err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if *gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", *gotAuth)
	}
}

func TestInboundEventsAreDecoded(t *testing.T) {
	s, _ := testServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{
			"event": "typing",
			"data":  map[string]any{"threadId": "t1", "userId": "u2", "isTyping": true},
		})
	})

	if err := s.Dial(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-s.Events():
		ty, ok := evt.(event.Typing)
		if !ok {
			t.Fatalf("event type = %T, want Typing", evt)
		}
		if ty.ThreadID != "t1" || !ty.IsTyping {
			t.Errorf("decoded = %+v", ty)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestUnknownEventsAreDropped(t *testing.T) {
	s, _ := testServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"event": "reel_posted"})
		_ = conn.WriteJSON(map[string]any{
			"event": "call_ended",
			"data":  map[string]any{"callId": "c1"},
		})
	})

	if err := s.Dial(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	// Only the call_ended event should surface.
	select {
	case evt := <-s.Events():
		if _, ok := evt.(event.CallEnded); !ok {
			t.Errorf("event type = %T, want CallEnded", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestSendWritesEnvelope(t *testing.T) {
	got := make(chan event.Envelope, 1)
	s, _ := testServer(t, func(conn *websocket.Conn) {
		var env event.Envelope
		if err := conn.ReadJSON(&env); err == nil {
			got <- env
		}
	})

	if err := s.Dial(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if err := s.Send("typing", map[string]any{"threadId": "t1", "isTyping": true}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case env := <-got:
		if env.Event != "typing" {
			t.Errorf("event = %q, want typing", env.Event)
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatal(err)
		}
		if data["threadId"] != "t1" {
			t.Errorf("data = %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	s := NewSocket("ws://127.0.0.1:1", logger)
	if err := s.Send("typing", nil); err == nil {
		t.Error("Send() on closed transport should fail")
	}
}

func TestReadFailureSurfacesError(t *testing.T) {
	s, _ := testServer(t, func(conn *websocket.Conn) {
		// Drop the connection without a close handshake.
		_ = conn.UnderlyingConn().Close()
	})

	if err := s.Dial(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-s.Errors():
		if err == nil {
			t.Error("expected non-nil read error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for read error")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _ := testServer(t, func(conn *websocket.Conn) {
		time.Sleep(100 * time.Millisecond)
		_ = conn.Close()
	})
	if err := s.Dial(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
