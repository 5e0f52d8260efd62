// Package debugsrv exposes a read-only HTTP surface for observing a running
// coordinator or node: never on the algorithm's critical path, so it can
// never perturb timing or correctness, matching the teacher's
// handleHealthCheck endpoints.
package debugsrv

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sincronizacion-distribuida/renraku/internal/cs"
	"github.com/sincronizacion-distribuida/renraku/internal/ricart"
)

// Server wraps an http.Server bound to an ephemeral port.
type Server struct {
	listener net.Listener
	http     *http.Server
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks, serving requests until the listener is closed.
func (s *Server) Serve() error {
	err := s.http.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.http.Close()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// NewCoordinator builds a debug server exposing only /health, bound to an
// ephemeral loopback port.
func NewCoordinator(role string, log zerolog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status": "healthy",
			"role":   role,
			"time":   time.Now(),
		})
	}).Methods("GET")

	log.Info().Str("addr", listener.Addr().String()).Msg("debug server listening")
	return &Server{listener: listener, http: &http.Server{Handler: r}}, nil
}

// NewNode builds a debug server exposing /health and /status for a node,
// reporting a live snapshot of the engine's state and seat ledger.
func NewNode(nodeName string, engine *ricart.Engine, ledger *cs.SeatLedger, log zerolog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status": "healthy",
			"node":   nodeName,
			"time":   time.Now(),
		})
	}).Methods("GET")

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		snap := engine.Snapshot()
		writeJSON(w, map[string]interface{}{
			"node":            nodeName,
			"state":           snap.State.String(),
			"clock":           snap.Clock,
			"last_request_ts": snap.LastRequestTS,
			"awaited":         snap.Awaited,
			"deferred":        snap.Deferred,
			"seats_available": ledger.Available(),
		})
	}).Methods("GET")

	log.Info().Str("addr", listener.Addr().String()).Msg("debug server listening")
	return &Server{listener: listener, http: &http.Server{Handler: r}}, nil
}
