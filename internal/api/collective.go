package api

import (
	"net/http"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/collective"
)

// handleCollectiveSignal feeds one threat report through the privacy
// pipeline. A suppressed submission is a success, not an error.
func (s *Server) handleCollectiveSignal(w http.ResponseWriter, r *http.Request) {
	var sub collective.Submission
	if err := decodeJSON(r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := s.deps.Collective.Submit(r.Context(), &sub)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// handleCollectiveThreats exposes only k-anonymous verified aggregates;
// raw signals never leave the engine.
func (s *Server) handleCollectiveThreats(w http.ResponseWriter, r *http.Request) {
	reports, err := s.deps.Collective.VerifiedReports(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(reports),
		"reports": reports,
	})
}

func (s *Server) handleCollectiveStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Collective.CommunityStats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
