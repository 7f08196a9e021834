package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/shield"
)

// handleCreateShieldScan queues a scan and answers 202 immediately; the
// scan itself runs in its own goroutine.
func (s *Server) handleCreateShieldScan(w http.ResponseWriter, r *http.Request) {
	var req shield.CreateScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sc, err := s.deps.Orchestrator.CreateScan(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	go func(id string) {
		if err := s.deps.Orchestrator.RunScan(context.Background(), id); err != nil {
			s.logger.Printf("❌ Shield scan %s: %v", id, err)
		}
	}(sc.ID)

	writeJSON(w, http.StatusAccepted, sc)
}

func (s *Server) handleGetShieldScan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sc, err := s.deps.Store.ShieldScanByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleListShieldScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.deps.Store.ListShieldScans(r.Context(), limitParam(r, 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(scans),
		"scans": scans,
	})
}
