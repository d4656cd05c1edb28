package ui

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestIndexServed(t *testing.T) {
	s := NewServer(testLogger(), nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Sage") {
		t.Error("index page missing")
	}
}

func TestCommandReachesCallback(t *testing.T) {
	got := make(chan Command, 1)
	s := NewServer(testLogger(), func(c Command) { got <- c })
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	if err := conn.WriteJSON(Command{Cmd: "ask", Text: "what is a mutex"}); err != nil {
		t.Fatal(err)
	}

	select {
	case cmd := <-got:
		if cmd.Cmd != "ask" || cmd.Text != "what is a mutex" {
			t.Errorf("command = %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached callback")
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	s := NewServer(testLogger(), nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)

	// The connection registers asynchronously after the upgrade.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.ClientCount() != 1 {
		t.Fatal("client never registered")
	}

	s.Broadcast(map[string]string{"phase": "processing"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]string
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg["phase"] != "processing" {
		t.Errorf("broadcast = %v", msg)
	}
}

func TestNewClientGetsLastSnapshot(t *testing.T) {
	s := NewServer(testLogger(), nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	s.Broadcast(map[string]string{"phase": "completed"})

	conn := dial(t, ts)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]string
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg["phase"] != "completed" {
		t.Errorf("replayed snapshot = %v", msg)
	}
}
