// Package feed serves live sync status to external UIs.
//
// Connected websocket clients receive sync state changes, completed and
// failed cycles, and collection statistics. A client can send
// {"type":"refresh_stats"} to get current statistics on demand. The same
// server exposes /health and, when configured, /metrics.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of feed message.
type MessageType string

const (
	// MessageTypeSyncState reports a sync state transition.
	MessageTypeSyncState MessageType = "sync_state"

	// MessageTypeSyncComplete reports a successful sync cycle.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeSyncFailed reports a failed sync cycle.
	MessageTypeSyncFailed MessageType = "sync_failed"

	// MessageTypeCollectionStats carries document and image counts.
	MessageTypeCollectionStats MessageType = "collection_stats"

	// MessageTypeRefreshStats is sent by clients to ask for fresh stats.
	MessageTypeRefreshStats MessageType = "refresh_stats"
)

// Message represents a feed broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server manages websocket connections and broadcasts feed messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	metrics  http.Handler
	stats    func() StatsData

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8787). Port 0 picks a free port.
	Addr string

	// Metrics is served at /metrics when set.
	Metrics http.Handler

	// Stats supplies the collection stats sent to new clients and /health.
	Stats func() StatsData

	Logger *slog.Logger
}

// DefaultAddr is the default listen address.
const DefaultAddr = "127.0.0.1:8787"

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   DefaultAddr,
		Logger: slog.Default(),
	}
}

// NewServer creates a new feed server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      addr,
		metrics:   config.Metrics,
		stats:     config.Stats,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("component", "feed"),
	}
}

// Handler returns the HTTP routes of the feed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start begins serving and broadcasting. It returns once listening.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("feed server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("feed server error", "error", err)
		}
	}()

	return nil
}

// Stop closes every client and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping feed server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	return nil
}

// Broadcast queues msg for all clients. Messages are dropped when the
// queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast queue full, dropping message", "type", msg.Type)
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
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("failed to marshal message", "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Greet before registering so the first frame is always the stats.
	if err := s.sendStats(r.Context(), conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info("client connected", "clients", clientCount)

	go s.readLoop(conn)
}

// sendStats writes the current collection stats to one client. It is a
// no-op without a stats source.
func (s *Server) sendStats(ctx context.Context, conn *websocket.Conn) error {
	if s.stats == nil {
		return nil
	}
	msg, err := newMessage(MessageTypeCollectionStats, s.stats())
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop serves client requests until the connection closes. Frames
// other than refresh_stats are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		var req struct {
			Type MessageType `json:"type"`
		}
		if json.Unmarshal(data, &req) != nil || req.Type != MessageTypeRefreshStats {
			continue
		}
		if err := s.sendStats(s.ctx, conn); err != nil {
			s.logger.Debug("failed to send stats", "error", err)
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("client disconnected", "clients", clientCount)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	}
	if s.stats != nil {
		body["collection"] = s.stats()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Document Gallery Feed</title>
</head>
<body>
    <h1>Document Gallery Feed</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the listening address.
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
