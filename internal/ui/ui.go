// Package ui serves the browser front-end: a single embedded page and a
// websocket feed of pipeline snapshots, with commands flowing back.
package ui

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

//go:embed index.html
var indexPage []byte

// Command is one inbound UI action.
type Command struct {
	Cmd  string `json:"cmd"` // ask | record | speech | stop
	Text string `json:"text,omitempty"`
}

// Server pushes state to every connected browser and funnels their
// commands into a single callback.
type Server struct {
	log       *slog.Logger
	onCommand func(Command)
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	last  []byte // most recent broadcast, replayed to new clients
}

func NewServer(log *slog.Logger, onCommand func(Command)) *Server {
	return &Server{
		log:       log,
		onCommand: onCommand,
		upgrader: websocket.Upgrader{
			// The daemon binds to loopback; cross-origin pages on the
			// same host are fine.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(indexPage)
	})
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start serves the UI in the background.
func (s *Server) Start(addr string) {
	go func() {
		if err := http.ListenAndServe(addr, s.Handler()); err != nil {
			s.log.Error("ui server stopped", "err", err)
		}
	}()
}

// Broadcast sends v as JSON to every connected client. Clients whose
// connection errors are dropped.
func (s *Server) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal broadcast", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = data
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.log.Debug("dropping ui client", "err", err)
			conn.Close()
			delete(s.conns, conn)
		}
	}
}

// ClientCount reports connected browsers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "err", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	if s.last != nil {
		conn.WriteMessage(websocket.TextMessage, s.last)
	}
	s.mu.Unlock()

	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Warn("bad ui command", "err", err)
			continue
		}
		if s.onCommand != nil {
			s.onCommand(cmd)
		}
	}
}
