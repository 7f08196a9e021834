package remediation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("sqlite:///:memory:")
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestAgent(t *testing.T, st *store.Store, name string) *models.Agent {
	t.Helper()
	a := &models.Agent{
		ID:           uuid.NewString(),
		Name:         name,
		SiteName:     "hq",
		Status:       models.AgentStatusOnline,
		TokenDigest:  "digest-" + name,
		IsActive:     true,
		RegisteredAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateAgent(context.Background(), a))
	return a
}

// ingestAsset writes an asset with the given open ports through the
// discovery path so scan_assets carries a latest-ports row.
func ingestAsset(t *testing.T, st *store.Store, agent *models.Agent, ip string, openPorts []int) *models.Asset {
	t.Helper()
	_, _, err := st.IngestDiscovery(context.Background(), agent, &models.DiscoveryPayload{
		Target:     ip,
		ScanMethod: "hybrid",
		StartedAt:  time.Now().UTC(),
		Assets: []models.AssetObservation{{
			IP:              ip,
			Hostname:        "host-" + ip,
			ConfidenceScore: 0.9,
			OpenPorts:       openPorts,
		}},
	})
	require.NoError(t, err)

	asset, err := st.AssetByIP(context.Background(), ip)
	require.NoError(t, err)
	return asset
}

func saveFindings(t *testing.T, st *store.Store, target string, findings ...models.ShieldFinding) {
	t.Helper()
	ctx := context.Background()
	sc := &models.ShieldScan{
		ID:             "sh_" + uuid.NewString()[:8],
		Target:         target,
		TargetType:     models.TargetIP,
		Depth:          models.DepthStandard,
		ModulesEnabled: []string{"tls"},
		Status:         models.ShieldQueued,
	}
	require.NoError(t, st.CreateShieldScan(ctx, sc))
	require.NoError(t, st.MarkShieldScanRunning(ctx, sc.ID))

	now := time.Now().UTC()
	sc.Status = models.ShieldCompleted
	sc.CompletedAt = &now
	sc.Findings = findings
	require.NoError(t, st.SaveShieldResults(ctx, sc))
}

func actionIDs(plan *models.RemediationPlan) []string {
	ids := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestPlanForAssetUnknownIP(t *testing.T) {
	p := NewPlanner(newTestStore(t))
	_, err := p.PlanForAsset(context.Background(), "10.9.9.9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlanForAsset(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, "scanner-1")
	ingestAsset(t, st, agent, "10.0.0.5", []int{22, 80, 445, 443, 3389, 6379})

	saveFindings(t, st, "10.0.0.5",
		models.ShieldFinding{
			ID: "f-creds", Module: "creds", Severity: models.SeverityCritical,
			Title: "Redis Without Authentication", Remediation: "Enable requirepass and bind to localhost.",
			TargetIP: "10.0.0.5", TargetPort: 6379,
		},
		models.ShieldFinding{
			ID: "f-tls", Module: "tls", Severity: models.SeverityHigh,
			Title: "Self-Signed Certificate", TargetIP: "10.0.0.5", TargetPort: 443,
		},
		models.ShieldFinding{
			ID: "f-low", Module: "headers", Severity: models.SeverityLow,
			Title: "Missing Referrer-Policy Header", TargetIP: "10.0.0.5", TargetPort: 443,
		},
	)

	p := NewPlanner(st)
	plan, err := p.PlanForAsset(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", plan.AssetIP)
	// Three dangerous ports (445, 3389, 6379) + two findings at medium
	// or above. The low-severity finding stays out.
	require.Equal(t, 5, plan.TotalActions)
	require.Len(t, plan.Actions, 5)

	ids := actionIDs(plan)
	assert.Contains(t, ids, "port-10.0.0.5-445")
	assert.Contains(t, ids, "port-10.0.0.5-3389")
	assert.Contains(t, ids, "port-10.0.0.5-6379")
	assert.Contains(t, ids, "finding-10.0.0.5-f-creds")
	assert.Contains(t, ids, "finding-10.0.0.5-f-tls")
	assert.NotContains(t, ids, "finding-10.0.0.5-f-low")

	byID := make(map[string]models.RemediationAction)
	for _, a := range plan.Actions {
		byID[a.ID] = a
	}

	smb := byID["port-10.0.0.5-445"]
	assert.Equal(t, models.ActionConfigChange, smb.ActionType, "SMB family needs host configuration")
	assert.False(t, smb.AutoFixable)
	assert.Contains(t, smb.Description, "SMB")

	rdp := byID["port-10.0.0.5-3389"]
	assert.Equal(t, models.ActionFirewallRule, rdp.ActionType)
	assert.True(t, rdp.AutoFixable)
	assert.Equal(t, models.SeverityHigh, rdp.Severity)
	assert.Equal(t, 3389, rdp.TargetPort)

	creds := byID["finding-10.0.0.5-f-creds"]
	assert.Equal(t, models.SeverityCritical, creds.Severity)
	assert.False(t, creds.AutoFixable, "finding fixes are never automatic")
	assert.Equal(t, "f-creds", creds.FindingID)
	assert.Contains(t, creds.Description, "requirepass")

	// Counters: one critical finding, two auto-fixable port blocks.
	assert.Equal(t, 1, plan.CriticalOpen)
	assert.Equal(t, 2, plan.AutoFixable)
	assert.False(t, plan.GeneratedAt.IsZero())
}

func TestPlanForAssetCleanHost(t *testing.T) {
	st := newTestStore(t)
	agent := newTestAgent(t, st, "scanner-1")
	ingestAsset(t, st, agent, "10.0.0.6", []int{22, 80, 443})

	p := NewPlanner(st)
	plan, err := p.PlanForAsset(context.Background(), "10.0.0.6")
	require.NoError(t, err)
	assert.Zero(t, plan.TotalActions)
	assert.Empty(t, plan.Actions)
}

func TestNetworkPlanSkipsIgnoredAndDeduplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agent := newTestAgent(t, st, "scanner-1")

	ingestAsset(t, st, agent, "10.0.0.5", []int{3389})
	ingestAsset(t, st, agent, "10.0.0.6", []int{3389})
	ingestAsset(t, st, agent, "10.0.0.7", []int{6379})

	// Two findings on the same (ip, port) collapse under the network
	// dedup key.
	saveFindings(t, st, "10.0.0.5",
		models.ShieldFinding{ID: "f-1", Module: "tls", Severity: models.SeverityHigh,
			Title: "Weak Key", TargetIP: "10.0.0.5", TargetPort: 443},
		models.ShieldFinding{ID: "f-2", Module: "tls", Severity: models.SeverityMedium,
			Title: "Certificate Expiring Soon", TargetIP: "10.0.0.5", TargetPort: 443},
	)

	require.NoError(t, st.SetAssetOverride(ctx, "10.0.0.7", "printer", "lab device", true))

	p := NewPlanner(st)
	plan, err := p.NetworkPlan(ctx)
	require.NoError(t, err)

	ids := actionIDs(plan)
	assert.Contains(t, ids, "port-10.0.0.5-3389")
	assert.Contains(t, ids, "port-10.0.0.6-3389", "same port on distinct assets stays distinct")
	assert.NotContains(t, ids, "port-10.0.0.7-6379", "ignored assets are excluded")

	findingActions := 0
	for _, a := range plan.Actions {
		if a.FindingID != "" {
			findingActions++
		}
	}
	assert.Equal(t, 1, findingActions, "same (ip, port, action type) deduplicates")
	assert.Equal(t, 3, plan.TotalActions)
	assert.Empty(t, plan.AssetIP)
}

func TestExecuteThroughAgent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agent := newTestAgent(t, st, "scanner-1")
	ingestAsset(t, st, agent, "10.0.0.5", []int{6379})

	p := NewPlanner(st)
	res, err := p.Execute(ctx, "port-10.0.0.5-6379")
	require.NoError(t, err)

	assert.Equal(t, "agent", res.Mode)
	require.NotNil(t, res.Command)
	assert.Equal(t, agent.ID, res.Command.AgentID)
	assert.Equal(t, models.CommandRemediate, res.Command.CommandType)
	assert.Equal(t, models.CommandPending, res.Command.Status)
	assert.Equal(t, "port-10.0.0.5-6379", res.Command.Params["action_id"])
	assert.Equal(t, models.ActionFirewallRule, res.Command.Params["action_type"])
	assert.Equal(t, "10.0.0.5", res.Command.Params["target_ip"])

	require.NotNil(t, res.Remediation)
	assert.Equal(t, models.RemediationExecuting, res.Remediation.Status)

	// The command is really queued for the agent.
	cmds, err := st.OpenCommandsForAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CommandRemediate, cmds[0].CommandType)

	hist, err := p.History(ctx, "10.0.0.5")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.RemediationExecuting, hist[0].Status)
}

func TestExecuteWithoutAgentFallsBackToManual(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Discovery without an agent leaves the asset unowned.
	ingestAsset(t, st, nil, "10.0.0.8", []int{3389})

	p := NewPlanner(st)
	res, err := p.Execute(ctx, "port-10.0.0.8-3389")
	require.NoError(t, err)

	assert.Equal(t, "manual", res.Mode)
	assert.Nil(t, res.Command)
	assert.Equal(t, models.RemediationManual, res.Remediation.Status)
	assert.Contains(t, res.Remediation.Result, "manual")
}

func TestExecuteWithInactiveAgentFallsBackToManual(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agent := newTestAgent(t, st, "scanner-1")
	ingestAsset(t, st, agent, "10.0.0.9", []int{6379})
	require.NoError(t, st.DeactivateAgent(ctx, agent.ID))

	p := NewPlanner(st)
	res, err := p.Execute(ctx, "port-10.0.0.9-6379")
	require.NoError(t, err)
	assert.Equal(t, "manual", res.Mode)
}

func TestExecuteFindingAction(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	agent := newTestAgent(t, st, "scanner-1")
	ingestAsset(t, st, agent, "10.0.0.5", nil)

	findingID := uuid.NewString() // dashes in the suffix must survive parsing
	res, err := NewPlanner(st).Execute(ctx, "finding-10.0.0.5-"+findingID)
	require.NoError(t, err)
	assert.Equal(t, "agent", res.Mode)
	assert.Equal(t, models.ActionConfigChange, res.Command.Params["action_type"])
}

func TestExecuteUnknownAsset(t *testing.T) {
	p := NewPlanner(newTestStore(t))
	_, err := p.Execute(context.Background(), "port-10.9.9.9-6379")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestParseActionID(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		wantIP     string
		wantAction string
		wantErr    bool
	}{
		{"firewall port", "port-10.0.0.5-6379", "10.0.0.5", models.ActionFirewallRule, false},
		{"config port", "port-10.0.0.5-445", "10.0.0.5", models.ActionConfigChange, false},
		{"finding with uuid", "finding-10.0.0.5-8f14e45f-ceea-4672-9a2f-0d9c7b1c0001", "10.0.0.5", models.ActionConfigChange, false},
		{"no separator", "gibberish", "", "", true},
		{"unknown kind", "patch-10.0.0.5-22", "", "", true},
		{"not an ip", "port-localhost-6379", "", "", true},
		{"port not numeric", "port-10.0.0.5-redis", "", "", true},
		{"port outside dangerous set", "port-10.0.0.5-8080", "", "", true},
		{"empty finding id", "finding-10.0.0.5-", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, actionType, err := parseActionID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIP, ip)
			assert.Equal(t, tt.wantAction, actionType)
		})
	}
}
