package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

// The test engine runs with epsilon 10, which makes randomized response
// all but deterministic: submissions are accepted.
func TestCollectiveSignalAccepted(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do("POST", "/api/collective/signal", "", map[string]any{
		"ip":          "203.0.113.7",
		"agent_id":    "agent-1",
		"signal_type": "port_scan",
		"severity":    0.8,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	env.decode(resp, &out)
	assert.Equal(t, "accepted", out["status"])
}

func TestCollectiveSignalValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []map[string]any{
		{"agent_id": "a", "signal_type": "port_scan", "severity": 0.5},
		{"ip": "203.0.113.7", "signal_type": "port_scan", "severity": 0.5},
		{"ip": "203.0.113.7", "agent_id": "a", "signal_type": "ddos", "severity": 0.5},
		{"ip": "203.0.113.7", "agent_id": "a", "signal_type": "port_scan", "severity": 1.5},
	}
	for _, body := range cases {
		resp := env.do("POST", "/api/collective/signal", "", body)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %v", body)
	}
}

func TestCollectiveThreatsHonorKAnonymity(t *testing.T) {
	env := newTestEnv(t)

	submit := func(agent string) {
		resp := env.do("POST", "/api/collective/signal", "", map[string]any{
			"ip":          "203.0.113.7",
			"agent_id":    agent,
			"signal_type": "brute_force",
			"severity":    0.9,
		})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	threats := func() int {
		resp := env.do("GET", "/api/collective/threats", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Count   int                       `json:"count"`
			Reports []models.CollectiveReport `json:"reports"`
		}
		env.decode(resp, &out)
		return out.Count
	}

	submit("agent-1")
	submit("agent-2")
	assert.Equal(t, 0, threats(), "two reporters stay below the k floor")

	submit("agent-3")
	require.Equal(t, 1, threats())

	resp := env.do("GET", "/api/collective/threats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Reports []models.CollectiveReport `json:"reports"`
	}
	env.decode(resp, &out)
	report := out.Reports[0]
	assert.Equal(t, 3, report.ReporterCount)
	assert.True(t, report.IsVerified)
	assert.Equal(t, "brute_force", report.SignalType)
	assert.NotContains(t, report.SubnetHash, "203.0.113", "subnet is exposed only as a hash")
}

func TestCommunityStats(t *testing.T) {
	env := newTestEnv(t)
	env.register("scanner-1", "HQ")

	for i := 1; i <= 3; i++ {
		resp := env.do("POST", "/api/collective/signal", "", map[string]any{
			"ip":          "203.0.113.7",
			"agent_id":    fmt.Sprintf("agent-%d", i),
			"signal_type": "malware_c2",
			"severity":    0.7,
		})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := env.do("GET", "/api/collective/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		ActiveAgents    int     `json:"active_agents"`
		VerifiedThreats int     `json:"verified_threats"`
		Subnets         int     `json:"subnets"`
		CommunityScore  int     `json:"community_score"`
		Epsilon         float64 `json:"epsilon"`
		MinReporters    int     `json:"min_reporters"`
	}
	env.decode(resp, &stats)
	assert.Equal(t, 1, stats.ActiveAgents)
	assert.Equal(t, 1, stats.VerifiedThreats)
	assert.Equal(t, 1, stats.Subnets)
	// 20 base + 5 per agent + 3 per verified threat + 2 per subnet.
	assert.Equal(t, 30, stats.CommunityScore)
	assert.InDelta(t, 10.0, stats.Epsilon, 0.001)
	assert.Equal(t, 3, stats.MinReporters)
}
