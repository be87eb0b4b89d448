// Package gateway exposes the orchestration core to external clients: a
// WebSocket stream of events and approval requests, the approve/deny
// control path back in, and a small REST surface for status queries.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alekspetrov/warden/internal/approval"
	"github.com/alekspetrov/warden/internal/logging"
	"github.com/alekspetrov/warden/internal/supervisor"
)

// Config holds gateway server configuration.
type Config struct {
	// Host is the network interface to bind to.
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
}

// DefaultConfig returns sensible gateway defaults.
func DefaultConfig() *Config {
	return &Config{Host: "127.0.0.1", Port: 8765}
}

// Server relays core events to WebSocket clients and human approval
// decisions back to the gate. Safe for concurrent use.
type Server struct {
	config   *Config
	gate     *approval.Gate
	sup      *supervisor.Supervisor
	hub      *Hub
	upgrader websocket.Upgrader
	server   *http.Server
	log      *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewServer creates a gateway over the given gate and supervisor. The
// server is not started until Start is called.
func NewServer(config *Config, gate *approval.Gate, sup *supervisor.Supervisor) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config: config,
		gate:   gate,
		sup:    sup,
		hub:    NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
		log: logging.WithComponent("gateway"),
	}
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/approvals", s.handleApprovals)
	return mux
}

// Start starts the gateway and blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Unlock()

	s.log.Info("gateway starting", slog.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server with a 30-second timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleWebSocket upgrades the connection, adds it to the broadcast hub,
// and processes inbound approval decisions until disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade error", slog.Any("error", err))
		return
	}

	s.hub.Add(conn)
	defer func() {
		s.hub.Remove(conn)
		_ = conn.Close()
	}()

	s.log.Info("websocket client connected", slog.String("remote", r.RemoteAddr))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket read error", slog.Any("error", err))
			}
			return
		}
		s.handleDecision(conn, message)
	}
}

// handleDecision applies one approve/deny message and acks it back to the
// deciding client. The resolution is also broadcast to all clients.
func (s *Server) handleDecision(conn *websocket.Conn, raw []byte) {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		s.ack(conn, "", fmt.Errorf("invalid message: %w", err))
		return
	}

	id, err := uuid.Parse(d.ID)
	if err != nil {
		s.ack(conn, d.ID, fmt.Errorf("invalid approval id: %w", err))
		return
	}

	switch d.Action {
	case "approve":
		err = s.gate.Approve(id)
	case "deny":
		err = s.gate.Deny(id)
	default:
		err = fmt.Errorf("unknown action: %q", d.Action)
	}
	s.ack(conn, d.ID, err)

	if err == nil {
		if p, err := s.gate.Get(id); err == nil {
			s.hub.Broadcast(&Message{
				Type:      MsgApprovalResolved,
				Timestamp: time.Now().UTC(),
				AgentID:   p.AgentID.String(),
				Approval:  approvalInfo(p),
			})
		}
	}
}

func (s *Server) ack(conn *websocket.Conn, id string, err error) {
	ack := decisionAck{Type: "decision_ack", ID: id, OK: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	_ = conn.WriteJSON(ack)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"clients": s.hub.Count(),
	})
}

// handleAgents returns the supervisor's current agent roster.
func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	type agentView struct {
		ID            string    `json:"id"`
		Name          string    `json:"name"`
		Role          string    `json:"role"`
		CLI           string    `json:"cli"`
		State         string    `json:"state"`
		LastHeartbeat time.Time `json:"last_heartbeat"`
	}

	var out []agentView
	if s.sup != nil {
		for _, a := range s.sup.Agents() {
			out = append(out, agentView{
				ID:            a.ID.String(),
				Name:          a.Name,
				Role:          string(a.Role),
				CLI:           string(a.CLI),
				State:         string(a.State()),
				LastHeartbeat: a.LastHeartbeat,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"agents": out})
}

// handleApprovals returns requests still awaiting a decision.
func (s *Server) handleApprovals(w http.ResponseWriter, _ *http.Request) {
	var out []*ApprovalInfo
	for _, p := range s.gate.Pending() {
		out = append(out, approvalInfo(p))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"approvals": out})
}
