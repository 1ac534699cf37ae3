package api

import (
	"encoding/json"
	"net/http"

	"github.com/seantiz/mapbridge/internal/engine"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, engine.Versions())
}
