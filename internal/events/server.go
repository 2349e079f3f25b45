// Package events provides a real-time WebSocket feed of capture
// activity.
//
// The server broadcasts store changes, sync completions, and queue depth
// to connected clients, so a desktop widget or browser tab can mirror
// the local state without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

// MessageType defines the type of broadcast message.
type MessageType string

const (
	// MessageTypeEntityChange indicates a store row changed.
	MessageTypeEntityChange MessageType = "entity_change"
	// MessageTypeSyncComplete indicates a push or pull finished.
	MessageTypeSyncComplete MessageType = "sync_complete"
	// MessageTypeQueueDepth indicates the pending-sync count changed.
	MessageTypeQueueDepth MessageType = "queue_depth"
)

// Message is one broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EntityChangeData describes a store mutation.
type EntityChangeData struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"` // created, updated, deleted
}

// SyncCompleteData describes a finished sync operation.
type SyncCompleteData struct {
	Operation string `json:"operation"` // push, pull
	Pushed    int    `json:"pushed,omitempty"`
	Pulled    int    `json:"pulled,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// QueueDepthData carries the pending-sync indicator value.
type QueueDepthData struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Server manages WebSocket connections and broadcasts event messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewServer creates an events server listening on the given port.
func NewServer(port int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf("127.0.0.1:%d", port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// AttachStore wires the server to the store's change hook so every
// committed mutation reaches connected clients.
func (s *Server) AttachStore(db *store.DB) {
	db.SetChangeFunc(func(entityType, id string, action store.ChangeAction) {
		s.BroadcastEntityChange(entityType, id, string(action))
	})
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("events server listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("events server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("events server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// BroadcastEntityChange publishes a store mutation.
func (s *Server) BroadcastEntityChange(entityType, id, action string) {
	data, err := json.Marshal(EntityChangeData{
		EntityType: entityType,
		EntityID:   id,
		Action:     action,
	})
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeEntityChange, Data: data})
}

// BroadcastSyncComplete publishes a finished sync result.
func (s *Server) BroadcastSyncComplete(operation string, result *model.SyncResult) {
	data, err := json.Marshal(SyncCompleteData{
		Operation: operation,
		Pushed:    result.Pushed,
		Pulled:    result.Pulled,
		Skipped:   result.Skipped,
	})
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncComplete, Data: data})
}

// BroadcastQueueDepth publishes the pending-sync indicator.
func (s *Server) BroadcastQueueDepth(pending, failed int) {
	data, err := json.Marshal(QueueDepthData{Pending: pending, Failed: failed})
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeQueueDepth, Data: data})
}

// Broadcast sends a message to all connected clients. Non-blocking; a
// full channel drops the message rather than stalling the caller.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message",
			zap.String("type", string(msg.Type)))
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to marshal message", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the lock so a slow client cannot
			// stall new connections.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Debug("client connected", zap.Int("total", count))
	go s.readLoop(conn)
}

// readLoop keeps the connection alive and notices disconnects. Client
// messages are ignored; the feed is one-way.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("client disconnected", zap.Int("total", count))
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": count,
	})
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
