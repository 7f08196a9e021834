package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

func TestIngestDiscoveryRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do("POST", "/api/ingest/discovery", "", map[string]any{
		"target": "10.0.0.0/24",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestDiscoveryValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register("scanner-1", "HQ")

	resp := env.do("POST", "/api/ingest/discovery", token, map[string]any{
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do("POST", "/api/ingest/discovery", token, map[string]any{
		"target": "10.0.0.0/24",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestDiscoveryAttributesAssets(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register("scanner-1", "HQ", "10.0.0.0/24")

	newAssets := env.bus.Subscribe(events.TypeAssetNew)
	defer env.bus.Unsubscribe(newAssets)

	resp := env.do("POST", "/api/ingest/discovery", token, map[string]any{
		"target":     "10.0.0.0/24",
		"started_at": "2026-02-10T12:00:00Z",
		"assets": []map[string]any{
			{"ip": "10.0.0.1", "mac": "aa:bb:cc:dd:ee:01"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Status         string `json:"status"`
		ScanID         string `json:"scan_id"`
		AssetsIngested int    `json:"assets_ingested"`
		NewAssets      int    `json:"new_assets"`
		ChangedAssets  int    `json:"changed_assets"`
	}
	env.decode(resp, &out)
	assert.Equal(t, "ok", out.Status)
	assert.NotEmpty(t, out.ScanID)
	assert.Equal(t, 1, out.AssetsIngested)
	assert.Equal(t, 1, out.NewAssets)

	select {
	case ev := <-newAssets:
		assert.Equal(t, events.TypeAssetNew, ev.Type)
		assert.Equal(t, out.ScanID, ev.Data["scan_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected asset.new event")
	}

	// The asset carries the reporting agent's identity and site.
	asset, err := env.st.AssetByIP(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, asset.AgentID)
	assert.Equal(t, "HQ", asset.SiteName)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", asset.MAC)
}

func TestIngestDiscoveryJournalsChanges(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register("scanner-1", "HQ")

	first := map[string]any{
		"target":     "10.0.0.0/24",
		"started_at": "2026-02-10T12:00:00Z",
		"assets": []map[string]any{
			{"ip": "10.0.0.5", "mac": "aa:bb:cc:dd:ee:05", "hostname": "printer"},
		},
	}
	resp := env.do("POST", "/api/ingest/discovery", token, first)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	second := map[string]any{
		"target":     "10.0.0.0/24",
		"started_at": "2026-02-10T13:00:00Z",
		"assets": []map[string]any{
			{"ip": "10.0.0.5", "mac": "aa:bb:cc:dd:ee:05", "hostname": "printer-2"},
		},
	}
	resp = env.do("POST", "/api/ingest/discovery", token, second)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		NewAssets     int `json:"new_assets"`
		ChangedAssets int `json:"changed_assets"`
	}
	env.decode(resp, &out)
	assert.Equal(t, 0, out.NewAssets)
	assert.Equal(t, 1, out.ChangedAssets)

	resp = env.do("GET", "/api/assets/10.0.0.5/changes", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var changes struct {
		IP      string               `json:"ip"`
		Count   int                  `json:"count"`
		Changes []models.AssetChange `json:"changes"`
	}
	env.decode(resp, &changes)
	assert.Equal(t, "10.0.0.5", changes.IP)
	require.Equal(t, 2, changes.Count)
	// Newest first: the hostname mutation, then the birth record.
	assert.Equal(t, models.ChangeFieldChanged, changes.Changes[0].ChangeType)
	assert.Equal(t, "hostname", changes.Changes[0].FieldName)
	assert.Equal(t, "printer", changes.Changes[0].OldValue)
	assert.Equal(t, "printer-2", changes.Changes[0].NewValue)
	assert.Equal(t, models.ChangeNewAsset, changes.Changes[1].ChangeType)
}

func TestIngestShieldScoresAndPersists(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register("scanner-1", "HQ")

	resp := env.do("POST", "/api/ingest/shield", token, map[string]any{
		"target":      "10.0.0.7",
		"started_at":  "2026-02-10T12:00:00Z",
		"modules_run": []string{"tls"},
		"findings": []map[string]any{
			{
				"module":   "tls",
				"severity": "high",
				"title":    "Expired certificate",
			},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Status      string  `json:"status"`
		ScanID      string  `json:"scan_id"`
		Findings    int     `json:"findings"`
		ShieldScore float64 `json:"shield_score"`
		Grade       string  `json:"grade"`
	}
	env.decode(resp, &out)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 1, out.Findings)
	assert.InDelta(t, 85.0, out.ShieldScore, 0.01)
	assert.Equal(t, "B+", out.Grade)

	// The stored scan is final, attributed, and carries the findings.
	resp = env.do("GET", "/api/shield/scan/"+out.ScanID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sc models.ShieldScan
	env.decode(resp, &sc)
	assert.Equal(t, models.ShieldCompleted, sc.Status)
	assert.Equal(t, "10.0.0.7", sc.Target)
	assert.Equal(t, models.TargetIP, sc.TargetType)
	assert.NotEmpty(t, sc.AgentID)
	require.Len(t, sc.Findings, 1)
	assert.Equal(t, "Expired certificate", sc.Findings[0].Title)
	assert.Equal(t, 1, sc.FailedChecks)
}

func TestIngestShieldRejectsBadTarget(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register("scanner-1", "HQ")

	resp := env.do("POST", "/api/ingest/shield", token, map[string]any{
		"target":     "10.0.0.0/99",
		"started_at": "2026-02-10T12:00:00Z",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
