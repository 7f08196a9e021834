package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/auth"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

type registerRequest struct {
	Name     string   `json:"name"`
	SiteName string   `json:"site_name"`
	Location string   `json:"location,omitempty"`
	Subnets  []string `json:"subnets,omitempty"`
	Secret   string   `json:"secret,omitempty"`
}

// handleRegister issues a new agent identity. The plaintext token appears
// in this response and nowhere else; only its digest is stored.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if s.cfg.RegistrationSecret != "" && !auth.SecretMatches(s.cfg.RegistrationSecret, req.Secret) {
		writeError(w, http.StatusForbidden, "registration secret mismatch")
		return
	}

	token, digest, err := auth.MintToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	agent := &models.Agent{
		ID:           uuid.NewString(),
		Name:         req.Name,
		SiteName:     req.SiteName,
		Location:     req.Location,
		Status:       models.AgentStatusOnline,
		Subnets:      req.Subnets,
		TokenDigest:  digest,
		IsActive:     true,
		RegisteredAt: time.Now().UTC(),
	}
	if err := s.deps.Store.CreateAgent(r.Context(), agent); err != nil {
		writeDomainError(w, err)
		return
	}

	s.deps.Bus.Emit(events.TypeAgentRegistered, agent.ID, map[string]any{
		"name":      agent.Name,
		"site_name": agent.SiteName,
	})
	s.logger.Printf("✅ Agent registered: %s (%s / %s)", agent.ID, agent.Name, agent.SiteName)

	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": agent.ID,
		"token":    token,
	})
}

// handleRotateToken mints a replacement token. The old token dies the
// moment the digest swap commits.
func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	agent := AgentFrom(r.Context())

	token, digest, err := auth.MintToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.deps.Store.RotateAgentToken(r.Context(), agent.ID, digest); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Printf("🔌 Token rotated for agent %s", agent.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": agent.ID,
		"token":    token,
	})
}

type heartbeatRequest struct {
	Status  string   `json:"status,omitempty"`
	Version string   `json:"version,omitempty"`
	Subnets []string `json:"subnets,omitempty"`
}

// handleHeartbeat refreshes last-seen and returns the pending-command
// count so the daemon knows to poll.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agent := AgentFrom(r.Context())

	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := req.Status
	if status == "" {
		status = models.AgentStatusOnline
	}

	if err := s.deps.Store.TouchAgent(r.Context(), agent.ID, status, req.Version, req.Subnets); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Store.UpsertSubnets(r.Context(), req.Subnets, agent.SiteName, agent.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	pending, err := s.deps.Store.PendingCommandCount(r.Context(), agent.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"pending_commands": pending,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.Store.ListAgents(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(agents),
		"agents": agents,
	})
}

type enqueueCommandRequest struct {
	CommandType string   `json:"command_type"`
	Targets     []string `json:"targets,omitempty"`
	Shield      bool     `json:"shield,omitempty"`
}

// handleEnqueueCommand lets the dashboard queue work for an agent. Empty
// targets fall back to the agent's registered subnets.
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	agent, err := s.deps.Store.AgentByID(r.Context(), agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req enqueueCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmdType := req.CommandType
	if cmdType == "" {
		cmdType = models.CommandScanNow
	}
	if cmdType != models.CommandScanNow && cmdType != models.CommandRemediate {
		writeError(w, http.StatusBadRequest, "unknown command_type "+cmdType)
		return
	}

	targets := req.Targets
	if len(targets) == 0 {
		targets = agent.Subnets
	}
	if len(targets) == 0 {
		writeError(w, http.StatusBadRequest, "no targets given and agent has no registered subnets")
		return
	}

	cmd := &models.AgentCommand{
		AgentID:     agent.ID,
		CommandType: cmdType,
		Params: map[string]any{
			"targets": targets,
			"shield":  req.Shield,
		},
		Status: models.CommandPending,
	}
	if err := s.deps.Store.CreateCommand(r.Context(), cmd); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Printf("📡 Command %s queued for agent %s: %s %v", cmd.ID, agent.ID, cmdType, targets)
	writeJSON(w, http.StatusCreated, cmd)
}

// handlePollCommands returns the caller's in-flight commands, newest
// first. Completed and failed commands stay out of this view.
func (s *Server) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	agent := AgentFrom(r.Context())

	cmds, err := s.deps.Store.OpenCommandsForAgent(r.Context(), agent.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(cmds),
		"commands": cmds,
	})
}

type updateCommandRequest struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// handleUpdateCommand progresses a command's lifecycle. Only the command's
// own agent may touch it.
func (s *Server) handleUpdateCommand(w http.ResponseWriter, r *http.Request) {
	agent := AgentFrom(r.Context())
	cmdID := mux.Vars(r)["cmd_id"]

	cmd, err := s.deps.Store.CommandByID(r.Context(), cmdID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if cmd.AgentID != agent.ID {
		writeError(w, http.StatusForbidden, "command belongs to another agent")
		return
	}

	var req updateCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Status {
	case models.CommandAck, models.CommandRunning, models.CommandCompleted, models.CommandFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	if err := s.deps.Store.UpdateCommandStatus(r.Context(), cmdID, req.Status, req.Result); err != nil {
		writeDomainError(w, err)
		return
	}

	updated, err := s.deps.Store.CommandByID(r.Context(), cmdID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
