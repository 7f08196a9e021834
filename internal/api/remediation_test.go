package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// seedExposedAsset ingests one asset with dangerous open ports and a
// critical shield finding, and returns the agent's id and token.
func seedExposedAsset(t *testing.T, env *testEnv, ip string) (string, string) {
	t.Helper()
	id, token := env.register("scanner-1", "HQ", "10.0.0.0/24")

	resp := env.do("POST", "/api/ingest/discovery", token, map[string]any{
		"target":     "10.0.0.0/24",
		"started_at": "2026-02-10T12:00:00Z",
		"assets": []map[string]any{
			{"ip": ip, "mac": "aa:bb:cc:dd:ee:20", "open_ports": []int{445, 3389, 6379}},
		},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do("POST", "/api/ingest/shield", token, map[string]any{
		"target":      ip,
		"started_at":  "2026-02-10T12:05:00Z",
		"modules_run": []string{"tls"},
		"findings": []map[string]any{
			{
				"module":      "tls",
				"severity":    "critical",
				"title":       "Self-signed certificate",
				"remediation": "Install a certificate from a trusted CA.",
				"target_ip":   ip,
				"target_port": 443,
			},
		},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return id, token
}

func TestAssetRemediationPlan(t *testing.T) {
	env := newTestEnv(t)
	seedExposedAsset(t, env, "10.0.0.20")

	resp := env.do("GET", "/api/remediation/plan/10.0.0.20", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var plan models.RemediationPlan
	env.decode(resp, &plan)
	assert.Equal(t, "10.0.0.20", plan.AssetIP)
	assert.Equal(t, 4, plan.TotalActions)
	assert.Equal(t, 1, plan.CriticalOpen)
	// RDP and Redis blocks are auto-fixable; SMB and the finding are not.
	assert.Equal(t, 2, plan.AutoFixable)

	require.Len(t, plan.Actions, 4)
	assert.Equal(t, "port-10.0.0.20-445", plan.Actions[0].ID)
	assert.Equal(t, models.ActionConfigChange, plan.Actions[0].ActionType)
	assert.Equal(t, "port-10.0.0.20-3389", plan.Actions[1].ID)
	assert.Equal(t, models.ActionFirewallRule, plan.Actions[1].ActionType)
	assert.True(t, plan.Actions[1].AutoFixable)
	assert.Equal(t, "port-10.0.0.20-6379", plan.Actions[2].ID)
	assert.Equal(t, models.SeverityCritical, plan.Actions[3].Severity)
	assert.Contains(t, plan.Actions[3].Description, "trusted CA")
}

func TestAssetPlanUnknownIP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do("GET", "/api/remediation/plan/10.9.9.9", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNetworkPlanSpansAssets(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register("scanner-1", "HQ", "10.0.0.0/24")

	resp := env.do("POST", "/api/ingest/discovery", token, map[string]any{
		"target":     "10.0.0.0/24",
		"started_at": "2026-02-10T12:00:00Z",
		"assets": []map[string]any{
			{"ip": "10.0.0.21", "open_ports": []int{3389}},
			{"ip": "10.0.0.22", "open_ports": []int{6379}},
		},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do("GET", "/api/remediation/plan", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var plan models.RemediationPlan
	env.decode(resp, &plan)
	assert.Empty(t, plan.AssetIP)
	assert.Equal(t, 2, plan.TotalActions)
	assert.Equal(t, 2, plan.AutoFixable)
}

func TestExecuteActionThroughAgent(t *testing.T) {
	env := newTestEnv(t)
	agentID, token := seedExposedAsset(t, env, "10.0.0.20")

	resp := env.do("POST", "/api/remediation/execute/port-10.0.0.20-3389", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Remediation models.Remediation   `json:"remediation"`
		Command     *models.AgentCommand `json:"command"`
		Mode        string               `json:"mode"`
	}
	env.decode(resp, &result)
	assert.Equal(t, "agent", result.Mode)
	assert.Equal(t, models.RemediationExecuting, result.Remediation.Status)
	require.NotNil(t, result.Command)
	assert.Equal(t, agentID, result.Command.AgentID)
	assert.Equal(t, models.CommandRemediate, result.Command.CommandType)
	assert.Equal(t, "port-10.0.0.20-3389", result.Command.Params["action_id"])

	// The fix is now visible to the agent's poll loop.
	resp = env.do("GET", "/api/agents/commands", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var poll struct {
		Count int `json:"count"`
	}
	env.decode(resp, &poll)
	assert.Equal(t, 1, poll.Count)

	resp = env.do("GET", "/api/remediation/history/10.0.0.20", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Count        int                  `json:"count"`
		Remediations []models.Remediation `json:"remediations"`
	}
	env.decode(resp, &history)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, models.RemediationExecuting, history.Remediations[0].Status)
}

func TestExecuteActionManualFallback(t *testing.T) {
	env := newTestEnv(t)
	agentID, _ := seedExposedAsset(t, env, "10.0.0.20")
	require.NoError(t, env.st.DeactivateAgent(context.Background(), agentID))

	resp := env.do("POST", "/api/remediation/execute/port-10.0.0.20-6379", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Remediation models.Remediation   `json:"remediation"`
		Command     *models.AgentCommand `json:"command"`
		Mode        string               `json:"mode"`
	}
	env.decode(resp, &result)
	assert.Equal(t, "manual", result.Mode)
	assert.Nil(t, result.Command)
	assert.Equal(t, models.RemediationManual, result.Remediation.Status)
}

func TestExecuteActionValidation(t *testing.T) {
	env := newTestEnv(t)
	seedExposedAsset(t, env, "10.0.0.20")

	// Port 8080 is open on nothing and dangerous to nothing.
	resp := env.do("POST", "/api/remediation/execute/port-10.0.0.20-8080", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do("POST", "/api/remediation/execute/bogus", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Valid shape, unknown asset.
	resp = env.do("POST", "/api/remediation/execute/port-10.9.9.9-3389", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeadmanStatus(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register("reporting", "HQ")
	env.register("silent", "Branch")

	resp := env.do("POST", "/api/agents/heartbeat", token, map[string]any{})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do("GET", "/api/deadman/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Count  int                  `json:"count"`
		Alive  int                  `json:"alive"`
		Silent int                  `json:"silent"`
		Agents []models.AgentHealth `json:"agents"`
	}
	env.decode(resp, &out)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, 1, out.Alive)
	assert.Equal(t, 1, out.Silent)

	for _, h := range out.Agents {
		if h.Name == "silent" {
			assert.False(t, h.Alive)
			assert.True(t, h.AlertTriggered)
			assert.Nil(t, h.LastHeartbeat)
		} else {
			assert.True(t, h.Alive)
		}
	}

	// The audit demotes the silent agent in the store.
	var agents struct {
		Agents []models.Agent `json:"agents"`
	}
	resp = env.do("GET", "/api/agents", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.decode(resp, &agents)
	for _, a := range agents.Agents {
		if a.Name == "silent" {
			assert.Equal(t, models.AgentStatusStale, a.Status)
		}
	}
}
