package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

func TestClientRegisterInstallsToken(t *testing.T) {
	var gotName, gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/agents/register":
			var req RegisterRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			gotName = req.Name
			json.NewEncoder(w).Encode(map[string]string{"agent_id": "a-1", "token": "tok-123"})
		case "/api/agents/heartbeat":
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]any{"status": "ok", "pending_commands": 2})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	// trailing slash must not produce double slashes in request paths
	c := NewClient(ClientConfig{ServerURL: ts.URL + "/"})
	id, token, err := c.Register(context.Background(), &RegisterRequest{Name: "edge-1", SiteName: "HQ"})
	require.NoError(t, err)
	assert.Equal(t, "a-1", id)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, "tok-123", c.Token())
	assert.Equal(t, "edge-1", gotName)

	pending, err := c.Heartbeat(context.Background(), "online", "1.3.0", []string{"10.0.0.0/24"})
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid or expired token"})
	}))
	defer ts.Close()

	c := NewClient(ClientConfig{ServerURL: ts.URL, Token: "stale"})
	_, err := c.Heartbeat(context.Background(), "online", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid or expired token")
}

func TestClientCommandLifecycle(t *testing.T) {
	type patch struct {
		id   string
		body map[string]string
	}
	var patches []patch
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/api/agents/commands":
			json.NewEncoder(w).Encode(map[string]any{
				"count": 1,
				"commands": []models.AgentCommand{
					{ID: "cmd-1", CommandType: models.CommandScanNow, Status: models.CommandPending},
				},
			})
		case r.Method == "PATCH":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			patches = append(patches, patch{id: r.URL.Path, body: body})
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	c := NewClient(ClientConfig{ServerURL: ts.URL, Token: "tok"})
	cmds, err := c.Commands(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "cmd-1", cmds[0].ID)

	require.NoError(t, c.UpdateCommand(context.Background(), "cmd-1", models.CommandCompleted, "done"))
	require.Len(t, patches, 1)
	assert.Equal(t, "/api/agents/commands/cmd-1", patches[0].id)
	assert.Equal(t, map[string]string{"status": "completed", "result": "done"}, patches[0].body)
}

func TestClientPushRoutes(t *testing.T) {
	var paths []string
	var rawBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		rawBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer ts.Close()

	c := NewClient(ClientConfig{ServerURL: ts.URL, Token: "tok"})
	err := c.PushDiscovery(context.Background(), &models.DiscoveryPayload{Target: "10.0.0.0/24"})
	require.NoError(t, err)

	queued := []byte(`{"target":"10.0.0.5","modules_run":["tls"],"findings":[]}`)
	require.NoError(t, c.PushRaw(context.Background(), "shield", queued))

	assert.Equal(t, []string{"/api/ingest/discovery", "/api/ingest/shield"}, paths)
	assert.JSONEq(t, string(queued), string(rawBody))
}

func TestClientServerVersion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agents/version", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"version": "9.9.9"})
	}))
	defer ts.Close()

	c := NewClient(ClientConfig{ServerURL: ts.URL})
	v, err := c.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", v)
}
