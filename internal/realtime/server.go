package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"agentwatch/internal/detect"
	"agentwatch/internal/logging"
	"agentwatch/internal/protocol"
	"agentwatch/internal/session"
)

var rtLog = logging.ForComponent(logging.CompRealtime)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	clientSendBuf = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local tooling connects from arbitrary origins.
	},
}

// Options tunes the server. Zero values take defaults.
type Options struct {
	// HookRate is the sustained number of hook posts accepted per second.
	HookRate rate.Limit
	// HookBurst is how many hook posts may arrive at once.
	HookBurst int
}

// Server exposes the tracker over websocket and REST, and receives hook
// posts from the agent.
type Server struct {
	tracker *session.Tracker
	limiter *rate.Limiter

	subID  string
	events <-chan session.StateEvent

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// owned tracks the sessions each terminal-owner connection registered;
	// they are destroyed when the connection goes away.
	owned   map[*client]map[string]bool
	ownedMu sync.Mutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a server backed by tracker.
func New(tracker *session.Tracker, opts Options) *Server {
	if opts.HookRate <= 0 {
		opts.HookRate = 50
	}
	if opts.HookBurst <= 0 {
		opts.HookBurst = 100
	}
	subID, events, _ := tracker.SubscribeAll()
	return &Server{
		tracker: tracker,
		limiter: rate.NewLimiter(opts.HookRate, opts.HookBurst),
		subID:   subID,
		events:  events,
		clients: make(map[*client]bool),
		owned:   make(map[*client]map[string]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Hook receiver.
	mux.HandleFunc("POST /hook", s.handleHook)

	// REST API endpoints.
	mux.HandleFunc("POST /sessions", s.handleRegisterSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/output", s.handleOutput)
	mux.HandleFunc("POST /sessions/{id}/input", s.handleInput)
	mux.HandleFunc("PUT /sessions/{id}/cwd", s.handleCwd)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run forwards tracker transitions to every connected client until ctx is
// cancelled, then disconnects all clients. Transitions that happen before
// Run starts are queued.
func (s *Server) Run(ctx context.Context) error {
	defer s.tracker.Unsubscribe(s.subID)
	defer s.closeClients()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}
			msg, err := protocol.NewMessage(protocol.TypeStateUpdate, updatePayload(ev))
			if err != nil {
				continue
			}
			s.broadcast(msg)
		}
	}
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rtLog.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuf),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.ownedMu.Lock()
	s.owned[c] = make(map[string]bool)
	s.ownedMu.Unlock()

	s.sendSnapshot(c)

	go c.writePump()
	go c.readPump()
}

// sendSnapshot sends the current state of every session to a client.
func (s *Server) sendSnapshot(c *client) {
	sessions := s.tracker.List()
	payload := protocol.StateSnapshotPayload{
		Sessions: make([]protocol.SessionState, 0, len(sessions)),
	}
	for _, info := range sessions {
		payload.Sessions = append(payload.Sessions, sessionState(info))
	}
	for _, ev := range s.tracker.History() {
		payload.Recent = append(payload.Recent, updatePayload(ev))
	}

	msg, err := protocol.NewMessage(protocol.TypeStateSnapshot, payload)
	if err != nil {
		return
	}
	c.sendMessage(msg)
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rtLog.Debug("websocket_read_error", slog.String("error", err.Error()))
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage queues msg for the client, dropping it if the client is slow.
func (c *client) sendMessage(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// removeClient cleans up a disconnected client and the panes it owned.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	close(c.send)
	s.clientsMu.Unlock()

	s.ownedMu.Lock()
	owned := s.owned[c]
	delete(s.owned, c)
	s.ownedMu.Unlock()

	for id := range owned {
		s.tracker.Destroy(id)
	}
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeSessionRegister:
		s.handleWSRegister(c, msg)
	case protocol.TypeSessionOutput:
		s.handleWSOutput(c, msg)
	case protocol.TypeSessionInput:
		s.handleWSInput(c, msg)
	case protocol.TypeSessionCwd:
		s.handleWSCwd(c, msg)
	case protocol.TypeSessionClose:
		s.handleWSClose(c, msg)
	}
}

func (s *Server) handleWSRegister(c *client, msg *protocol.Message) {
	var payload protocol.SessionRegisterPayload
	json.Unmarshal(msg.Payload, &payload)

	info, err := s.register(payload.SessionID, payload.Cwd)
	if err != nil {
		s.sendError(c, registerErrorCode(err), err.Error())
		return
	}

	s.ownedMu.Lock()
	if s.owned[c] != nil {
		s.owned[c][info.SessionID] = true
	}
	s.ownedMu.Unlock()

	resp, err := protocol.NewMessage(protocol.TypeSessionRegistered, protocol.SessionRegisteredPayload{
		Session: sessionState(info),
	})
	if err != nil {
		return
	}
	s.broadcast(resp)
}

func (s *Server) handleWSOutput(c *client, msg *protocol.Message) {
	var payload protocol.SessionDataPayload
	json.Unmarshal(msg.Payload, &payload)

	if !s.feedOutput(payload.SessionID, payload.Data) {
		s.sendError(c, protocol.ErrSessionNotFound, "session not found: "+payload.SessionID)
	}
}

func (s *Server) handleWSInput(c *client, msg *protocol.Message) {
	var payload protocol.SessionDataPayload
	json.Unmarshal(msg.Payload, &payload)

	if !s.tracker.Exists(payload.SessionID) {
		s.sendError(c, protocol.ErrSessionNotFound, "session not found: "+payload.SessionID)
		return
	}
	s.tracker.NotifyInput(payload.SessionID, payload.Data)
}

func (s *Server) handleWSCwd(c *client, msg *protocol.Message) {
	var payload protocol.SessionCwdPayload
	json.Unmarshal(msg.Payload, &payload)

	if !s.tracker.UpdateWorkingDirectory(payload.SessionID, payload.Cwd) {
		s.sendError(c, protocol.ErrSessionNotFound, "session not found: "+payload.SessionID)
	}
}

func (s *Server) handleWSClose(c *client, msg *protocol.Message) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	s.ownedMu.Lock()
	delete(s.owned[c], payload.SessionID)
	s.ownedMu.Unlock()

	if !s.tracker.Destroy(payload.SessionID) {
		s.sendError(c, protocol.ErrSessionNotFound, "session not found: "+payload.SessionID)
	}
}

// register adds a session, generating an id when none is given.
func (s *Server) register(id, cwd string) (session.Info, error) {
	if id == "" {
		id = uuid.New().String()
	}
	return s.tracker.Register(id, cwd)
}

// feedOutput passes a chunk to the tracker and picks up directory changes
// the shell reports inline. It reports whether the session exists.
func (s *Server) feedOutput(id, data string) bool {
	if !s.tracker.Exists(id) {
		return false
	}
	if cwd, ok := detect.WorkingDirectory(data); ok {
		s.tracker.UpdateWorkingDirectory(id, cwd)
	}
	s.tracker.ProcessOutput(id, data)
	return true
}

func registerErrorCode(err error) string {
	if errors.Is(err, session.ErrLimit) {
		return protocol.ErrMaxSessions
	}
	return protocol.ErrRegisterFailed
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	c.sendMessage(msg)
}

func sessionState(info session.Info) protocol.SessionState {
	return protocol.SessionState{
		SessionID:       info.SessionID,
		State:           string(info.State),
		AgentActive:     info.AgentActive,
		DetectionSource: string(info.Source),
		Cwd:             info.WorkingDirectory,
	}
}

func updatePayload(ev session.StateEvent) protocol.StateUpdatePayload {
	return protocol.StateUpdatePayload{
		SessionID:       ev.SessionID,
		State:           string(ev.State),
		AgentActive:     ev.AgentActive,
		DetectionSource: string(ev.Source),
		At:              ev.At.UTC().Format(time.RFC3339Nano),
	}
}
