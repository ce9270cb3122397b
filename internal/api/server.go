// Package api serves read-only HTTP views of the transfer queue.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/user/handoff/internal/types"
)

// Reader is the query surface of the queue.
type Reader interface {
	Get(id types.TransferID) (*types.TransferRecord, bool)
	AllTransfers() []*types.TransferRecord
	TransfersForAgent(agent types.AgentID, role types.Role) []*types.TransferRecord
	TransfersByState(state types.State) []*types.TransferRecord
	QueueStatus() types.QueueStatus
	AgentStatus(agent types.AgentID) (types.AgentStatus, bool)
	Agents() []types.AgentStatus
}

// Server is an http.Handler for the status endpoints.
type Server struct {
	queue Reader
	mux   *http.ServeMux
}

// NewServer creates a Server over queue. If metrics is not nil it is mounted
// at /metrics.
func NewServer(queue Reader, metrics http.Handler) *Server {
	s := &Server{
		queue: queue,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/transfers", s.handleTransfers)
	s.mux.HandleFunc("GET /api/transfers/{id}", s.handleTransfer)
	s.mux.HandleFunc("GET /api/agents", s.handleAgents)
	s.mux.HandleFunc("GET /api/agents/{id}", s.handleAgent)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.queue.QueueStatus())
}

// handleTransfers lists transfers, optionally filtered by ?state= or by
// ?agent= with an optional ?role= (default both).
func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := types.State(q.Get("state"))
	agent := types.AgentID(q.Get("agent"))
	role := types.Role(q.Get("role"))
	if role == "" {
		role = types.RoleBoth
	}

	switch {
	case state != "" && !state.Valid():
		http.Error(w, `{"error":"unknown state"}`, http.StatusBadRequest)
		return
	case !role.Valid():
		http.Error(w, `{"error":"unknown role"}`, http.StatusBadRequest)
		return
	}

	var result []*types.TransferRecord
	switch {
	case agent != "":
		result = s.queue.TransfersForAgent(agent, role)
		if state != "" {
			filtered := result[:0]
			for _, rec := range result {
				if rec.State == state {
					filtered = append(filtered, rec)
				}
			}
			result = filtered
		}
	case state != "":
		result = s.queue.TransfersByState(state)
	default:
		result = s.queue.AllTransfers()
	}
	if result == nil {
		result = []*types.TransferRecord{}
	}
	writeJSON(w, result)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.queue.Get(types.TransferID(r.PathValue("id")))
	if !ok {
		http.Error(w, `{"error":"transfer not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.queue.Agents()
	if agents == nil {
		agents = []types.AgentStatus{}
	}
	writeJSON(w, agents)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	st, ok := s.queue.AgentStatus(types.AgentID(r.PathValue("id")))
	if !ok {
		http.Error(w, `{"error":"agent not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}
