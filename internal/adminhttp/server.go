// Package adminhttp implements the operator-facing HTTP surface: a
// liveness probe, a registry dump for troubleshooting, and a Prometheus
// scrape endpoint, kept entirely
// separate from the client-facing WebSocket port so it can be bound to
// a different network interface in deployment.
package adminhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdg-labs/rl-ble-gateway/internal/blesvc"
	"github.com/pdg-labs/rl-ble-gateway/internal/config"
	"github.com/pdg-labs/rl-ble-gateway/internal/game"
	"github.com/pdg-labs/rl-ble-gateway/internal/registry"
)

// Server is the admin HTTP server: /healthz, /debug/cars, and the
// configured metrics path.
type Server struct {
	cfg   config.AdminConfig
	cars  *registry.Registry
	coord *blesvc.Coordinator
	match *game.Game
	log   *slog.Logger
	srv   *http.Server
}

// NewServer constructs an admin Server. cars/coord/match back the
// /healthz summary; metrics are served from the global Prometheus
// registry regardless of which collaborators are wired in.
func NewServer(cfg config.AdminConfig, cars *registry.Registry, coord *blesvc.Coordinator, match *game.Game, log *slog.Logger) *Server {
	return &Server{cfg: cfg, cars: cars, coord: coord, match: match, log: log}
}

// Start begins listening on cfg.Address. Non-blocking.
func (s *Server) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/debug/cars", s.handleDebugCars).Methods(http.MethodGet)
	r.Handle(s.cfg.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)

	s.srv = &http.Server{Addr: s.cfg.Address, Handler: r}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin http server stopped", "error", err)
		}
	}()

	s.log.Info("admin http server listening", "address", s.cfg.Address, "metrics_path", s.cfg.MetricsPath)
	return nil
}

// Stop gracefully shuts the admin server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"phase":  s.coord.Phase().String(),
		"cars":   len(s.cars.List()),
		"game":   string(s.match.Snapshot().State),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

// handleDebugCars dumps the full Car Registry for operator troubleshooting
// (owner, last-seen RSSI, connection state per car).
func (s *Server) handleDebugCars(w http.ResponseWriter, r *http.Request) {
	cars := s.cars.List()
	out := make([]map[string]any, 0, len(cars))
	for _, c := range cars {
		out = append(out, map[string]any{
			"car_id":    c.ID,
			"name":      c.DisplayName,
			"ble_name":  c.BLEName,
			"address":   c.BLEAddress,
			"rssi":      c.RSSI,
			"last_seen": c.LastSeen,
			"owner":     c.Owner,
			"connected": c.Session != nil && c.Session.IsConnected(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"cars": out})
}
