package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/config"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

type scriptedDiscoverer struct {
	mu      sync.Mutex
	assets  []models.AssetObservation
	targets []string
}

func (s *scriptedDiscoverer) Discover(_ context.Context, target string) ([]models.AssetObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target)
	return s.assets, nil
}

func (s *scriptedDiscoverer) Method() string { return "scripted" }

func (s *scriptedDiscoverer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.targets...)
}

// controlPlane is a scripted server for daemon tests. It records every
// request path and answers the handful of endpoints the daemon uses.
type controlPlane struct {
	mu        sync.Mutex
	paths     []string
	discovery []models.DiscoveryPayload
	patches   []map[string]string
	commands  []models.AgentCommand
	http      *httptest.Server
}

func newControlPlane(t *testing.T) *controlPlane {
	t.Helper()
	cp := &controlPlane{}
	cp.http = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cp.mu.Lock()
		defer cp.mu.Unlock()
		cp.paths = append(cp.paths, r.URL.Path)

		switch {
		case r.URL.Path == "/api/ingest/discovery":
			var p models.DiscoveryPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			cp.discovery = append(cp.discovery, p)
			json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		case r.URL.Path == "/api/agents/heartbeat":
			json.NewEncoder(w).Encode(map[string]any{"status": "ok", "pending_commands": len(cp.commands)})
		case r.Method == "GET" && r.URL.Path == "/api/agents/commands":
			json.NewEncoder(w).Encode(map[string]any{"count": len(cp.commands), "commands": cp.commands})
			cp.commands = nil
		case r.Method == "PATCH" && strings.HasPrefix(r.URL.Path, "/api/agents/commands/"):
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			body["id"] = strings.TrimPrefix(r.URL.Path, "/api/agents/commands/")
			cp.patches = append(cp.patches, body)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(cp.http.Close)
	return cp
}

func (cp *controlPlane) seenPaths() []string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return append([]string(nil), cp.paths...)
}

func newTestDaemon(t *testing.T, serverURL string, disc Discoverer, subnets []string) (*Daemon, *Queue) {
	t.Helper()
	cfg := &config.AgentConfig{
		Name:            "edge-1",
		ServerURL:       serverURL,
		Token:           "tok",
		Subnets:         subnets,
		IntervalSeconds: 300,
	}
	q, err := NewQueue(filepath.Join(t.TempDir(), "queue"), nil)
	require.NoError(t, err)
	client := NewClient(ClientConfig{ServerURL: serverURL, Token: "tok"})
	return NewDaemon(cfg, client, q, disc, nil, nil, nil), q
}

func TestDaemonCyclePushesDiscoveryAndHeartbeats(t *testing.T) {
	cp := newControlPlane(t)
	disc := &scriptedDiscoverer{assets: []models.AssetObservation{
		{IP: "10.0.0.2", OpenPorts: []int{443}},
	}}
	d, q := newTestDaemon(t, cp.http.URL, disc, []string{"10.0.0.0/30"})

	d.runCycle(context.Background())

	assert.Equal(t, []string{"10.0.0.0/30"}, disc.seen())
	assert.Equal(t, []string{"/api/ingest/discovery", "/api/agents/heartbeat"}, cp.seenPaths())

	require.Len(t, cp.discovery, 1)
	p := cp.discovery[0]
	assert.Equal(t, "10.0.0.0/30", p.Target)
	assert.Equal(t, "scripted", p.ScanMethod)
	require.Len(t, p.Assets, 1)
	assert.Equal(t, "10.0.0.2", p.Assets[0].IP)
	assert.NotNil(t, p.Fingerprint)
	require.NotNil(t, p.CompletedAt)
	assert.False(t, p.StartedAt.IsZero())

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDaemonQueuesWhenServerUnreachable(t *testing.T) {
	disc := &scriptedDiscoverer{assets: []models.AssetObservation{{IP: "10.0.0.2"}}}
	d, q := newTestDaemon(t, "http://127.0.0.1:1", disc, []string{"10.0.0.0/30"})

	d.runCycle(context.Background())

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, strings.HasSuffix(pending[0], "_discovery.json"))
}

func TestDaemonDrainsQueueNextCycle(t *testing.T) {
	disc := &scriptedDiscoverer{assets: []models.AssetObservation{{IP: "10.0.0.2"}}}
	offline, q := newTestDaemon(t, "http://127.0.0.1:1", disc, []string{"10.0.0.0/30"})
	offline.runCycle(context.Background())

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// same queue directory, server back up
	cp := newControlPlane(t)
	cfg := &config.AgentConfig{Name: "edge-1", ServerURL: cp.http.URL, Subnets: []string{"10.0.0.0/30"}, IntervalSeconds: 300}
	client := NewClient(ClientConfig{ServerURL: cp.http.URL, Token: "tok"})
	online := NewDaemon(cfg, client, q, disc, nil, nil, nil)
	online.runCycle(context.Background())

	pending, err = q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// the queued sweep replays first, then the fresh one
	require.Len(t, cp.discovery, 2)
	paths := cp.seenPaths()
	assert.Equal(t, "/api/ingest/discovery", paths[0])
}

func TestDaemonExecutesScanNowCommand(t *testing.T) {
	cp := newControlPlane(t)
	cp.commands = []models.AgentCommand{{
		ID:          "cmd-1",
		CommandType: models.CommandScanNow,
		Params:      map[string]any{"targets": []any{"192.168.50.0/30"}},
		Status:      models.CommandPending,
	}}

	disc := &scriptedDiscoverer{assets: []models.AssetObservation{{IP: "192.168.50.2"}}}
	d, _ := newTestDaemon(t, cp.http.URL, disc, []string{"10.0.0.0/30"})

	d.runCycle(context.Background())

	// regular sweep first, then the commanded target
	assert.Equal(t, []string{"10.0.0.0/30", "192.168.50.0/30"}, disc.seen())

	cp.mu.Lock()
	defer cp.mu.Unlock()
	require.Len(t, cp.patches, 2)
	assert.Equal(t, "cmd-1", cp.patches[0]["id"])
	assert.Equal(t, models.CommandRunning, cp.patches[0]["status"])
	assert.Equal(t, models.CommandCompleted, cp.patches[1]["status"])
	assert.Contains(t, cp.patches[1]["result"], "1 assets across 1 target(s)")
}

func TestDaemonAcknowledgesRemediateCommand(t *testing.T) {
	cp := newControlPlane(t)
	cp.commands = []models.AgentCommand{{
		ID:          "cmd-2",
		CommandType: models.CommandRemediate,
		Params:      map[string]any{"action_id": "port-10.0.0.2-445", "action_type": "close_port", "target_ip": "10.0.0.2"},
		Status:      models.CommandPending,
	}}

	disc := &scriptedDiscoverer{}
	d, _ := newTestDaemon(t, cp.http.URL, disc, []string{"10.0.0.0/30"})

	d.runCycle(context.Background())

	cp.mu.Lock()
	defer cp.mu.Unlock()
	require.Len(t, cp.patches, 2)
	assert.Equal(t, models.CommandCompleted, cp.patches[1]["status"])
	assert.Contains(t, cp.patches[1]["result"], "port-10.0.0.2-445")
	assert.Contains(t, cp.patches[1]["result"], "acknowledged")
}

func TestDaemonSleepInterruptible(t *testing.T) {
	disc := &scriptedDiscoverer{}
	d, _ := newTestDaemon(t, "http://127.0.0.1:1", disc, nil)
	d.cfg.IntervalSeconds = 3600
	d.pollEvery = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := d.sleep(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestStringsFromParam(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringsFromParam([]any{"a", "b", ""}))
	assert.Nil(t, stringsFromParam("not-a-list"))
	assert.Nil(t, stringsFromParam(nil))
}
