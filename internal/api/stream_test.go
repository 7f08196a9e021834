package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
)

func dialStream(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/events/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// The handler subscribes after the upgrade; wait for it so events
	// published by the test cannot slip past the subscription.
	require.Eventually(t, func() bool {
		return env.bus.SubscriberCount() > 0
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestEventStreamDeliversFilteredEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := dialStream(t, env, "?types=firewall.rule_added")

	resp := env.do("POST", "/api/firewall/rules", "", map[string]any{
		"rule_type": "block_ip",
		"target":    "203.0.113.7",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeRuleAdded, ev.Type)
	assert.True(t, strings.HasPrefix(ev.ID, "ev-"))
	assert.Equal(t, "block_ip", ev.Data["rule_type"])
	assert.Equal(t, "203.0.113.7", ev.Data["target"])
}

func TestEventStreamSkipsOtherTypes(t *testing.T) {
	env := newTestEnv(t)
	conn := dialStream(t, env, "?types=deadman.alert")

	// A rule event must not reach a deadman-only subscriber.
	resp := env.do("POST", "/api/firewall/rules", "", map[string]any{
		"rule_type": "block_ip",
		"target":    "203.0.113.8",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var ev events.Event
	err := conn.ReadJSON(&ev)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timeout") || websocket.IsUnexpectedCloseError(err))
}

func TestEventStreamDefaultsToAllEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := dialStream(t, env, "")

	env.register("scanner-1", "HQ")

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeAgentRegistered, ev.Type)
	assert.Equal(t, "scanner-1", ev.Data["name"])
}
