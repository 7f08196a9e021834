package api

import (
	"net/http"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/shield"
)

// handleIngestDiscovery commits one scan batch transactionally, then
// fans the resulting change events onto the bus.
func (s *Server) handleIngestDiscovery(w http.ResponseWriter, r *http.Request) {
	agent := AgentFrom(r.Context())

	var p models.DiscoveryPayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if p.StartedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "started_at is required")
		return
	}

	result, changes, err := s.deps.Store.IngestDiscovery(r.Context(), agent, &p)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	for _, c := range changes {
		switch c.ChangeType {
		case models.ChangeNewAsset:
			s.deps.Bus.Emit(events.TypeAssetNew, c.AssetID, map[string]any{
				"scan_id": c.ScanID,
			})
		case models.ChangeFieldChanged:
			s.deps.Bus.Emit(events.TypeAssetChanged, c.AssetID, map[string]any{
				"scan_id": c.ScanID,
				"field":   c.FieldName,
				"old":     c.OldValue,
				"new":     c.NewValue,
			})
		}
	}
	s.deps.Bus.Emit(events.TypeScanIngested, result.ScanID, map[string]any{
		"target":   p.Target,
		"assets":   result.AssetsIngested,
		"agent_id": agent.ID,
	})
	s.deps.Metrics.RecordIngest(result.AssetsIngested)

	s.logger.Printf("✅ Discovery ingested from %s: scan=%s assets=%d new=%d changed=%d",
		agent.Name, result.ScanID, result.AssetsIngested, result.NewAssets, result.ChangedAssets)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"scan_id":         result.ScanID,
		"assets_ingested": result.AssetsIngested,
		"new_assets":      result.NewAssets,
		"changed_assets":  result.ChangedAssets,
	})
}

// handleIngestShield stores a shield scan an agent already ran: the
// findings arrive final, so the scan is scored here and persisted as
// completed in one step.
func (s *Server) handleIngestShield(w http.ResponseWriter, r *http.Request) {
	agent := AgentFrom(r.Context())

	var p models.ShieldPayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if p.StartedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "started_at is required")
		return
	}

	targetType, err := shield.TargetTypeOf(p.Target)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	modules := p.ModulesRun
	byModule := make(map[string][]models.ShieldFinding)
	for _, f := range p.Findings {
		byModule[f.Module] = append(byModule[f.Module], f)
	}
	for name := range byModule {
		if !contains(modules, name) {
			modules = append(modules, name)
		}
	}

	scores := make(map[string]models.ModuleScore, len(modules))
	for _, name := range modules {
		scores[name] = shield.ScoreModule(name, s.moduleWeight(name), byModule[name])
	}
	score, grade := shield.Composite(scores)

	completed := p.CompletedAt
	if completed == nil {
		now := time.Now().UTC()
		completed = &now
	}
	started := p.StartedAt

	sc := &models.ShieldScan{
		ID:             shield.NewScanID(),
		Target:         p.Target,
		TargetType:     targetType,
		Depth:          models.DepthStandard,
		ModulesEnabled: modules,
		Status:         models.ShieldCompleted,
		StartedAt:      &started,
		CompletedAt:    completed,
		ShieldScore:    score,
		Grade:          grade,
		AgentID:        agent.ID,
		Findings:       p.Findings,
		ModuleScores:   scores,
	}
	for _, ms := range scores {
		sc.TotalChecks += ms.TotalChecks
		sc.PassedChecks += ms.PassedChecks
		sc.FailedChecks += ms.FailedChecks
		sc.WarningChecks += ms.WarningChecks
	}

	if err := s.deps.Store.CreateShieldScan(r.Context(), sc); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.deps.Store.SaveShieldResults(r.Context(), sc); err != nil {
		writeDomainError(w, err)
		return
	}

	for _, f := range p.Findings {
		s.deps.Metrics.RecordFinding(f.Severity)
	}
	s.deps.Metrics.RecordScan(models.ShieldCompleted)
	s.deps.Bus.Emit(events.TypeShieldCompleted, sc.ID, map[string]any{
		"target":   sc.Target,
		"score":    sc.ShieldScore,
		"grade":    sc.Grade,
		"findings": len(sc.Findings),
		"agent_id": agent.ID,
	})

	s.logger.Printf("✅ Shield results ingested from %s: scan=%s target=%s score=%.1f grade=%s",
		agent.Name, sc.ID, sc.Target, sc.ShieldScore, sc.Grade)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"scan_id":      sc.ID,
		"findings":     len(sc.Findings),
		"shield_score": sc.ShieldScore,
		"grade":        sc.Grade,
	})
}

// moduleWeight resolves a module's composite weight from the registry,
// defaulting for modules this server build doesn't know.
func (s *Server) moduleWeight(name string) int {
	if m, ok := s.deps.Registry.Get(name); ok {
		return m.Weight()
	}
	return 10
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
