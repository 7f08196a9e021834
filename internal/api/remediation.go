package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleNetworkPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.deps.Planner.NetworkPlan(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleAssetPlan(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]

	plan, err := s.deps.Planner.PlanForAsset(r.Context(), ip)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleExecuteAction dispatches one planned fix: through the agent's
// command queue when possible, recorded for manual follow-up otherwise.
func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	actionID := mux.Vars(r)["action_id"]

	result, err := s.deps.Planner.Execute(r.Context(), actionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRemediationHistory(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]

	history, err := s.deps.Planner.History(r.Context(), ip)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_ip":     ip,
		"count":        len(history),
		"remediations": history,
	})
}

// handleDeadmanStatus runs the silent-agent audit on demand.
func (s *Server) handleDeadmanStatus(w http.ResponseWriter, r *http.Request) {
	health, err := s.deps.Deadman.Check(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	alive := 0
	for _, h := range health {
		if h.Alive {
			alive++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(health),
		"alive":  alive,
		"silent": len(health) - alive,
		"agents": health,
	})
}
