package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"widget-studio/internal/editor"
)

// Session event types pushed to /ws clients.
const (
	EventSessionOpened      = "session_opened"
	EventSessionUpdated     = "session_updated"
	EventSessionClosed      = "session_closed"
	EventNotification       = "notification"
	EventNotificationHidden = "notification_hidden"
	EventCommitFailed       = "commit_failed"
)

// sessionEvent is pushed to /ws clients following Session.
type sessionEvent struct {
	Type         string               `json:"type"`
	Session      string               `json:"session"`
	Notification *editor.Notification `json:"notification,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// lifecycle events also reach clients that follow no session.
func (ev sessionEvent) lifecycle() bool {
	return ev.Type == EventSessionOpened || ev.Type == EventSessionClosed
}

// sessionHub routes session events to editor UIs. A client connected with
// /ws?session=<id> follows that session only; a client without a session
// sees the open/close lifecycle of every session and nothing else.
type sessionHub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[*hubClient]struct{}

	join   chan *hubClient
	leave  chan *hubClient
	events chan sessionEvent

	done     chan struct{}
	stopOnce sync.Once
}

type hubClient struct {
	session string
	conn    *websocket.Conn
	send    chan []byte
}

func newSessionHub(logger *slog.Logger) *sessionHub {
	return &sessionHub{
		logger: logger.With("component", "ws"),
		subs:   make(map[string]map[*hubClient]struct{}),
		join:   make(chan *hubClient),
		leave:  make(chan *hubClient),
		events: make(chan sessionEvent, 256),
		done:   make(chan struct{}),
	}
}

// Run delivers events until Stop.
func (h *sessionHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for session, clients := range h.subs {
				for c := range clients {
					close(c.send)
				}
				delete(h.subs, session)
			}
			h.mu.Unlock()
			return

		case c := <-h.join:
			h.mu.Lock()
			if h.subs[c.session] == nil {
				h.subs[c.session] = make(map[*hubClient]struct{})
			}
			h.subs[c.session][c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("ws client joined", "session", c.session)

		case c := <-h.leave:
			h.mu.Lock()
			h.dropLocked(c)
			h.mu.Unlock()

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *sessionHub) deliver(ev sessionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("ws marshal", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	recipients := make([]*hubClient, 0, len(h.subs[ev.Session]))
	for c := range h.subs[ev.Session] {
		recipients = append(recipients, c)
	}
	if ev.Session != "" && ev.lifecycle() {
		for c := range h.subs[""] {
			recipients = append(recipients, c)
		}
	}

	for _, c := range recipients {
		select {
		case c.send <- data:
		default:
			h.dropLocked(c)
			h.logger.Warn("ws client evicted (too slow)", "session", c.session)
		}
	}

	// Followers of a closed session have nothing left to watch.
	if ev.Type == EventSessionClosed {
		for c := range h.subs[ev.Session] {
			h.dropLocked(c)
		}
	}
}

func (h *sessionHub) dropLocked(c *hubClient) {
	clients := h.subs[c.session]
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.subs, c.session)
	}
}

// Publish queues ev without blocking. Events are dropped when the queue is
// full.
func (h *sessionHub) Publish(ev sessionEvent) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("ws event queue full, dropping event", "type", ev.Type, "session", ev.Session)
	}
}

// Followers returns the number of clients following session. The empty
// session counts lifecycle-only clients.
func (h *sessionHub) Followers(session string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[session])
}

// Stop shuts the hub down and closes every client. Safe to call more than
// once.
func (h *sessionHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session != "" {
		s.mu.Lock()
		_, ok := s.sessions[session]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// If no allowedOrigins configured, nhooyr defaults to same-origin check.

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	c := &hubClient{session: session, conn: conn, send: make(chan []byte, 64)}
	select {
	case s.hub.join <- c:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(c)
	s.wsReadPump(c)
}

func (s *Server) wsWritePump(c *hubClient) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Dropped by the hub: the session closed, the client was too slow or
	// the server is stopping.
	c.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(c *hubClient) {
	defer func() {
		select {
		case s.hub.leave <- c:
		case <-s.hub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.hub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		// Editor UIs only listen; commands go through the HTTP API.
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// hubNotifier shows the notifications of one session to its followers.
type hubNotifier struct {
	hub     *sessionHub
	session string
}

func (n *hubNotifier) Show(note editor.Notification) {
	n.hub.Publish(sessionEvent{Type: EventNotification, Session: n.session, Notification: &note})
}

func (n *hubNotifier) Hide() {
	n.hub.Publish(sessionEvent{Type: EventNotificationHidden, Session: n.session})
}

// handlePreviewWS connects a browser preview harness to a remote session.
func (s *Server) handlePreviewWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entry := s.sessions[r.PathValue("id")]
	s.mu.Unlock()
	if entry == nil || entry.remote == nil {
		http.Error(w, "preview session not found", http.StatusNotFound)
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("preview ws accept", "err", err)
		return
	}
	entry.remote.serve(r.Context(), conn)
}
