package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/firewall"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))

	rules, err := s.deps.Firewall.Rules(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(rules),
		"rules": rules,
	})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule models.FirewallRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.deps.Firewall.AddRule(r.Context(), &rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.deps.Firewall.DeleteRule(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// handleEvaluate runs a dry-run verdict; every evaluation is journaled
// as a firewall event.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req firewall.EvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DestIP == "" {
		writeError(w, http.StatusBadRequest, "dest_ip is required")
		return
	}

	verdict, rule, err := s.deps.Firewall.Evaluate(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{"verdict": verdict}
	if rule != nil {
		resp["rule"] = rule
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFirewallEvents(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Firewall.Events(r.Context(), limitParam(r, 100))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(list),
		"events": list,
	})
}

func (s *Server) handleSyncPorts(w http.ResponseWriter, r *http.Request) {
	created, err := s.deps.Firewall.SyncPortRules(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"rules_created": created,
	})
}

// handleSyncThreats converts stored high-score indicators into expiring
// block rules.
func (s *Server) handleSyncThreats(w http.ResponseWriter, r *http.Request) {
	threats, err := s.deps.Store.ListThreatIndicators(r.Context(), 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	created, err := s.deps.Firewall.SyncFromThreats(r.Context(), threats)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"indicators":    len(threats),
		"rules_created": created,
	})
}

func (s *Server) handleListThreats(w http.ResponseWriter, r *http.Request) {
	minScore, _ := strconv.ParseFloat(r.URL.Query().Get("min_score"), 64)

	threats, err := s.deps.Store.ListThreatIndicators(r.Context(), minScore)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(threats),
		"threats": threats,
	})
}

type threatRequest struct {
	IP            string  `json:"ip"`
	IndicatorType string  `json:"indicator_type,omitempty"`
	Score         float64 `json:"score"`
	Source        string  `json:"source,omitempty"`
}

func (s *Server) handleUpsertThreat(w http.ResponseWriter, r *http.Request) {
	var req threatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IP == "" {
		writeError(w, http.StatusBadRequest, "ip is required")
		return
	}
	if req.Score < 0 || req.Score > 1 {
		writeError(w, http.StatusBadRequest, "score must be within [0,1]")
		return
	}

	now := time.Now().UTC()
	t := &models.ThreatIndicator{
		IP:            req.IP,
		IndicatorType: req.IndicatorType,
		Score:         req.Score,
		Source:        req.Source,
		FirstSeen:     now,
		LastSeen:      now,
		IsActive:      true,
	}
	if err := s.deps.Store.UpsertThreatIndicator(r.Context(), t); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
