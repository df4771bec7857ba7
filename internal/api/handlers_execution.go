package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleRecentExecutions handles GET /api/executions
func (s *Server) handleRecentExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.executions.RecentAutonomous(r.Context(), parseLimit(r, 50))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	})
}

// handleGetExecution handles GET /api/executions/{id}
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	execution, err := s.executions.GetByID(r.Context(), executionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, execution)
}
