// Package api is the HTTP control plane: agent registration and ingest,
// shield scan lifecycle, firewall rules, collective intelligence, and the
// live event stream. Handlers stay thin; domain logic lives in the
// packages wired in through Deps.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/auth"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/collective"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/deadman"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/firewall"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/metrics"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/ratelimit"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/remediation"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/shield"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/store"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/version"
)

// Config carries the server-level knobs the handlers need.
type Config struct {
	Port               int
	RegistrationSecret string
}

// Deps are the domain services the API exposes.
type Deps struct {
	Store        *store.Store
	Verifier     *auth.Verifier
	Limiter      *ratelimit.Limiter
	Bus          *events.Bus
	Metrics      *metrics.Metrics
	Registry     *shield.Registry
	Orchestrator *shield.Orchestrator
	Firewall     *firewall.Service
	Collective   *collective.Engine
	Planner      *remediation.Planner
	Deadman      *deadman.Switch
}

// Server owns the router and the http.Server lifecycle.
type Server struct {
	cfg    Config
	deps   Deps
	logger *log.Logger
	srv    *http.Server
}

func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router assembles every route. Exposed so tests can drive the full
// middleware chain through httptest without binding a port.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.recoveryMiddleware)
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Agent control plane.
	r.HandleFunc("/api/agents/register", s.handleRegister).Methods("POST")
	r.Handle("/api/agents/rotate-token", s.requireAgent(s.handleRotateToken)).Methods("POST")
	r.Handle("/api/agents/heartbeat", s.requireAgent(s.handleHeartbeat)).Methods("POST")
	r.HandleFunc("/api/agents/version", s.handleVersion).Methods("GET")
	r.Handle("/api/agents/commands", s.requireAgent(s.handlePollCommands)).Methods("GET")
	r.Handle("/api/agents/commands/{cmd_id}", s.requireAgent(s.handleUpdateCommand)).Methods("PATCH")
	r.HandleFunc("/api/agents/{id}/commands", s.handleEnqueueCommand).Methods("POST")
	r.HandleFunc("/api/agents", s.handleListAgents).Methods("GET")

	// Ingest: bearer auth, then the per-digest token bucket.
	r.Handle("/api/ingest/discovery", s.requireAgent(s.limited(s.handleIngestDiscovery))).Methods("POST")
	r.Handle("/api/ingest/shield", s.requireAgent(s.limited(s.handleIngestShield))).Methods("POST")

	// Inventory reads.
	r.HandleFunc("/api/assets", s.handleListAssets).Methods("GET")
	r.HandleFunc("/api/assets/{ip}/changes", s.handleAssetChanges).Methods("GET")
	r.HandleFunc("/api/scans", s.handleListScans).Methods("GET")

	// Shield scans.
	r.HandleFunc("/api/shield/scan", s.handleCreateShieldScan).Methods("POST")
	r.HandleFunc("/api/shield/scan/{id}", s.handleGetShieldScan).Methods("GET")
	r.HandleFunc("/api/shield/scans", s.handleListShieldScans).Methods("GET")

	// Firewall.
	r.HandleFunc("/api/firewall/rules", s.handleListRules).Methods("GET")
	r.HandleFunc("/api/firewall/rules", s.handleAddRule).Methods("POST")
	r.HandleFunc("/api/firewall/rules/{id}", s.handleDeleteRule).Methods("DELETE")
	r.HandleFunc("/api/firewall/evaluate", s.handleEvaluate).Methods("POST")
	r.HandleFunc("/api/firewall/events", s.handleFirewallEvents).Methods("GET")
	r.HandleFunc("/api/firewall/sync/ports", s.handleSyncPorts).Methods("POST")
	r.HandleFunc("/api/firewall/sync/threats", s.handleSyncThreats).Methods("POST")

	// Threat indicators.
	r.HandleFunc("/api/threats", s.handleListThreats).Methods("GET")
	r.HandleFunc("/api/threats", s.handleUpsertThreat).Methods("POST")

	// Collective intelligence.
	r.HandleFunc("/api/collective/signal", s.handleCollectiveSignal).Methods("POST")
	r.HandleFunc("/api/collective/threats", s.handleCollectiveThreats).Methods("GET")
	r.HandleFunc("/api/collective/stats", s.handleCollectiveStats).Methods("GET")

	// Remediation.
	r.HandleFunc("/api/remediation/plan", s.handleNetworkPlan).Methods("GET")
	r.HandleFunc("/api/remediation/plan/{ip}", s.handleAssetPlan).Methods("GET")
	r.HandleFunc("/api/remediation/execute/{action_id}", s.handleExecuteAction).Methods("POST")
	r.HandleFunc("/api/remediation/history/{ip}", s.handleRemediationHistory).Methods("GET")

	// Dead-man switch.
	r.HandleFunc("/api/deadman/status", s.handleDeadmanStatus).Methods("GET")

	// Live event feed.
	r.HandleFunc("/api/events/stream", s.handleEventStream).Methods("GET")

	return r
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Printf("🚀 Control plane listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "connected"
	status := "healthy"
	if err := s.deps.Store.Ping(ctx); err != nil {
		dbStatus = "error"
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"service":  "bigr-discovery",
		"version":  version.Version,
		"database": dbStatus,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}
