// Package wsapi implements the client-facing WebSocket surface (§6.1):
// a multi-session hub where each connected client gets its own send
// queue and read/write pumps, fanning inbound frames through the
// Session Dispatcher and outbound replies back out per-session or
// broadcast to every session.
package wsapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"log/slog"

	"github.com/pdg-labs/rl-ble-gateway/internal/config"
	"github.com/pdg-labs/rl-ble-gateway/internal/dispatch"
	"github.com/pdg-labs/rl-ble-gateway/internal/metrics"
)

// EndSessionNotifier is the narrow slice of Dispatcher behavior the hub
// needs on disconnect (§4.5 step 6: a session ending releases every car
// it owns).
type EndSessionNotifier interface {
	Dispatch(ctx context.Context, sessionID string, raw []byte)
	EndSession(sessionID string)
}

// Server is the WebSocket hub: one upgraded connection per client
// session, each tracked by a generated session id (§4.5: "sessionID" is
// the dispatcher's only notion of a client).
type Server struct {
	mu       sync.RWMutex
	cfg      config.WSConfig
	dispatch EndSessionNotifier
	log      *slog.Logger
	upgrader websocket.Upgrader
	sessions map[string]*clientSession
	srv      *http.Server
}

// NewServer constructs a Server bound to the Dispatcher. The caller
// still needs to call dispatcher.SetTransport(server) to complete the
// two-step wiring (§9), since the Dispatcher is constructed before its
// transport exists.
func NewServer(cfg config.WSConfig, d EndSessionNotifier, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		dispatch: d,
		log:      log,
		sessions: make(map[string]*clientSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// clientSession tracks one upgraded connection's send queue.
type clientSession struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Start begins listening and serving upgrades on cfg.Address/cfg.Path.
// Non-blocking: the HTTP server runs on its own goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)

	s.srv = &http.Server{Addr: s.cfg.Address, Handler: mux}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("websocket server stopped", "error", err)
		}
	}()

	s.log.Info("websocket server listening", "address", s.cfg.Address, "path", s.cfg.Path)
	return nil
}

// Stop gracefully shuts the HTTP server down and closes every live
// session.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, cs := range s.sessions {
		cs.conn.Close()
	}
	s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	cs := &clientSession{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.mu.Lock()
	s.sessions[cs.id] = cs
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	s.log.Info("client session connected", "session", cs.id)

	go s.writePump(cs)
	s.readPump(cs)
}

// readPump owns conn.ReadMessage; it runs on the goroutine that called
// handleUpgrade and returns (tearing the session down) once the
// connection closes or errors.
func (s *Server) readPump(cs *clientSession) {
	defer s.removeSession(cs)

	for {
		_, message, err := cs.conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch.Dispatch(context.Background(), cs.id, message)
	}
}

// writePump is the only goroutine that ever calls conn.WriteMessage for
// this session, per gorilla/websocket's single-writer requirement. It
// also drives the keepalive ping on cfg.PingInterval.
func (s *Server) writePump(cs *clientSession) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cs.conn.Close()
	}()

	for {
		select {
		case message, ok := <-cs.send:
			cs.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				cs.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cs.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			cs.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := cs.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeSession(cs *clientSession) {
	s.mu.Lock()
	_, ok := s.sessions[cs.id]
	if ok {
		delete(s.sessions, cs.id)
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if !ok {
		return
	}
	close(cs.send)
	s.log.Info("client session disconnected", "session", cs.id)
	s.dispatch.EndSession(cs.id)
}

// Send implements dispatch.Transport: encode payload as JSON and queue
// it on sessionID's send channel. Returns an error if the session is no
// longer live or its queue is full.
func (s *Server) Send(sessionID string, payload any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		return errSessionGone
	}

	data, err := marshal(payload)
	if err != nil {
		return err
	}

	select {
	case cs.send <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

// Broadcast implements dispatch.Transport: fan payload out to every
// live session (§6.1, broadcastActions).
func (s *Server) Broadcast(payload any) {
	data, err := marshal(payload)
	if err != nil {
		s.log.Warn("broadcast marshal failed", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cs := range s.sessions {
		select {
		case cs.send <- data:
		default:
			s.log.Warn("dropping broadcast, session send queue full", "session", cs.id)
		}
	}
}

var (
	_ dispatch.Transport = (*Server)(nil)
)
