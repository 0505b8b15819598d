// Package api exposes the operator control surface: inspect the decision
// snapshot, reset learning, and force a relearn.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/clambin/solar-ac-controller/internal/controller"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// ControlledEngine is the part of the controller the API drives.
type ControlledEngine interface {
	Snapshot() (controller.Snapshot, bool)
	ResetLearning(clearStored bool)
	ForceRelearn(zone string) error
}

type Server struct {
	engine ControlledEngine
	logger *slog.Logger
}

func New(engine ControlledEngine, logger *slog.Logger) *Server {
	return &Server{engine: engine, logger: logger}
}

// Router builds the API routes, with request logging on every endpoint.
func (s *Server) Router(accessLog io.Writer) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/v1/snapshot", s.getSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/learning/reset", s.resetLearning).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/learning/relearn", s.forceRelearn).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/learning/relearn/{zone}", s.forceRelearn).Methods(http.MethodPost)

	return handlers.LoggingHandler(accessLog, r)
}

func (s *Server) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	snapshot, ok := s.engine.Snapshot()
	if !ok {
		http.Error(w, "no update yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) resetLearning(w http.ResponseWriter, r *http.Request) {
	clearStored := r.URL.Query().Get("clearStored") == "true"
	s.engine.ResetLearning(clearStored)
	s.logger.Info("learning reset", slog.Bool("clearStored", clearStored))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) forceRelearn(w http.ResponseWriter, r *http.Request) {
	zone := mux.Vars(r)["zone"]
	if err := s.engine.ForceRelearn(zone); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target := zone
	if target == "" {
		target = "all"
	}
	s.logger.Info("forced relearn", slog.String("zone", target))
	w.WriteHeader(http.StatusNoContent)
}
