package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/ratelimit"
)

func TestRegisterIssuesOneTimeToken(t *testing.T) {
	env := newTestEnv(t)

	id, token := env.register("scanner-1", "HQ")
	assert.Len(t, token, 64)

	// The token authenticates; the id alone does not.
	resp := env.do("POST", "/api/agents/heartbeat", token, map[string]any{"status": "online"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do("POST", "/api/agents/heartbeat", id, map[string]any{"status": "online"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterRequiresName(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do("POST", "/api/agents/register", "", map[string]any{"site_name": "HQ"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegistrationSecret(t *testing.T) {
	env := newTestEnvCustom(t, "s3cret", ratelimit.DefaultConfig())

	resp := env.do("POST", "/api/agents/register", "", map[string]any{"name": "a"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do("POST", "/api/agents/register", "", map[string]any{"name": "a", "secret": "wrong"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do("POST", "/api/agents/register", "", map[string]any{"name": "a", "secret": "s3cret"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRotateTokenInvalidatesOld(t *testing.T) {
	env := newTestEnv(t)
	_, oldToken := env.register("scanner-1", "HQ")

	resp := env.do("POST", "/api/agents/rotate-token", oldToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	env.decode(resp, &out)
	newToken := out["token"]
	require.Len(t, newToken, 64)
	require.NotEqual(t, oldToken, newToken)

	resp = env.do("POST", "/api/agents/heartbeat", oldToken, map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do("POST", "/api/agents/heartbeat", newToken, map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHeartbeatReportsPendingCommands(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.register("scanner-1", "HQ", "10.0.0.0/24")

	var hb map[string]any
	resp := env.do("POST", "/api/agents/heartbeat", token, map[string]any{"version": "1.2.0"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.decode(resp, &hb)
	assert.EqualValues(t, 0, hb["pending_commands"])

	// Queue one command; targets default to the agent's subnets.
	resp = env.do("POST", "/api/agents/"+id+"/commands", "", map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cmd models.AgentCommand
	env.decode(resp, &cmd)
	assert.Equal(t, models.CommandScanNow, cmd.CommandType)
	assert.Equal(t, models.CommandPending, cmd.Status)
	assert.Equal(t, []any{"10.0.0.0/24"}, cmd.Params["targets"])

	resp = env.do("POST", "/api/agents/heartbeat", token, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.decode(resp, &hb)
	assert.EqualValues(t, 1, hb["pending_commands"])
}

func TestEnqueueCommandValidation(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.register("bare", "HQ") // no subnets

	resp := env.do("POST", "/api/agents/"+id+"/commands", "", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do("POST", "/api/agents/"+id+"/commands", "", map[string]any{"command_type": "reboot"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do("POST", "/api/agents/does-not-exist/commands", "", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommandQueueFlow(t *testing.T) {
	env := newTestEnv(t)
	idA, tokenA := env.register("agent-a", "HQ", "10.0.0.0/24")
	_, tokenB := env.register("agent-b", "Branch", "10.1.0.0/24")

	resp := env.do("POST", "/api/agents/"+idA+"/commands", "", map[string]any{"targets": []string{"10.0.0.0/28"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first models.AgentCommand
	env.decode(resp, &first)

	resp = env.do("POST", "/api/agents/"+idA+"/commands", "", map[string]any{"targets": []string{"10.0.1.0/28"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var second models.AgentCommand
	env.decode(resp, &second)

	// Poll is newest-first and scoped to the caller.
	resp = env.do("GET", "/api/agents/commands", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var poll struct {
		Count    int                   `json:"count"`
		Commands []models.AgentCommand `json:"commands"`
	}
	env.decode(resp, &poll)
	require.Equal(t, 2, poll.Count)
	assert.Equal(t, second.ID, poll.Commands[0].ID)
	assert.Equal(t, first.ID, poll.Commands[1].ID)

	resp = env.do("GET", "/api/agents/commands", tokenB, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.decode(resp, &poll)
	assert.Equal(t, 0, poll.Count)

	// A foreign agent cannot progress the command.
	resp = env.do("PATCH", "/api/agents/commands/"+first.ID, tokenB, map[string]any{"status": "ack"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The owner can.
	resp = env.do("PATCH", "/api/agents/commands/"+first.ID, tokenA, map[string]any{"status": "ack"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.AgentCommand
	env.decode(resp, &updated)
	assert.Equal(t, models.CommandAck, updated.Status)

	// Completion removes it from the poll view.
	resp = env.do("PATCH", "/api/agents/commands/"+first.ID, tokenA, map[string]any{"status": "completed", "result": "done"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.decode(resp, &updated)
	assert.Equal(t, "done", updated.Result)

	resp = env.do("GET", "/api/agents/commands", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.decode(resp, &poll)
	assert.Equal(t, 1, poll.Count)

	// Bogus lifecycle states are rejected.
	resp = env.do("PATCH", "/api/agents/commands/"+second.ID, tokenA, map[string]any{"status": "paused"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAgents(t *testing.T) {
	env := newTestEnv(t)
	env.register("scanner-1", "HQ")
	env.register("scanner-2", "Branch")

	resp := env.do("GET", "/api/agents", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Count  int            `json:"count"`
		Agents []models.Agent `json:"agents"`
	}
	env.decode(resp, &out)
	assert.Equal(t, 2, out.Count)
	for _, a := range out.Agents {
		assert.Empty(t, a.TokenDigest, "digest must never serialize")
	}
}

func TestIngestRateLimited(t *testing.T) {
	env := newTestEnvCustom(t, "", ratelimit.Config{
		Capacity:        2,
		RefillPerSecond: 0.001,
		IdleTTL:         time.Minute,
	})
	_, token := env.register("chatty", "HQ")

	payload := map[string]any{
		"target":     "10.0.0.0/24",
		"started_at": time.Now().UTC().Format(time.RFC3339),
		"assets":     []map[string]any{{"ip": "10.0.0.1"}},
	}

	for i := 0; i < 2; i++ {
		resp := env.do("POST", "/api/ingest/discovery", token, payload)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := env.do("POST", "/api/ingest/discovery", token, payload)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}
