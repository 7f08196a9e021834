package firewall

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

func TestNoopAdapterLifecycle(t *testing.T) {
	ctx := context.Background()
	a := NewNoopAdapter()

	status, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not installed", status)

	require.NoError(t, a.Install(ctx))
	require.NoError(t, a.ApplyRules(ctx, []models.FirewallRule{rule(models.RuleBlockIP, "10.0.0.1")}))

	status, err = a.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, status, "1 rules accepted")

	require.NoError(t, a.Uninstall(ctx))
	status, err = a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not installed", status)

	assert.Contains(t, a.PlatformName(), "noop")
}

func TestScriptAdapterRendersRuleSet(t *testing.T) {
	ctx := context.Background()
	a := NewScriptAdapter("")
	require.NoError(t, a.Install(ctx))

	past := time.Now().Add(-time.Hour)
	inactive := rule(models.RuleBlockIP, "10.9.9.9")
	inactive.IsActive = false
	expired := rule(models.RuleBlockIP, "10.9.9.8")
	expired.ExpiresAt = &past

	tcpBlock := rule(models.RuleBlockPort, "3389")
	tcpBlock.Protocol = models.ProtocolTCP

	require.NoError(t, a.ApplyRules(ctx, []models.FirewallRule{
		rule(models.RuleBlockDomain, "evil.example.net"),
		tcpBlock,
		rule(models.RuleAllowIP, "192.168.1.5"),
		rule(models.RuleBlockIP, "203.0.113.7"),
		inactive,
		expired,
	}))

	script := a.Script()
	assert.True(t, strings.HasPrefix(script, "#!/usr/sbin/nft -f"))
	assert.Contains(t, script, "table inet bigr")
	assert.Contains(t, script, "ip saddr 192.168.1.5 accept")
	assert.Contains(t, script, "ip saddr 203.0.113.7 drop")
	assert.Contains(t, script, "meta l4proto tcp th dport 3389 drop")
	assert.Contains(t, script, "ip daddr @resolved_evil_example_net drop")
	assert.NotContains(t, script, "10.9.9.9", "inactive rules stay out of the script")
	assert.NotContains(t, script, "10.9.9.8", "expired rules stay out of the script")

	// Accepts must precede drops so the allowlist wins at enforcement
	// time too, not only in the engine.
	acceptIdx := strings.Index(script, "accept comment")
	dropIdx := strings.Index(script, "drop comment")
	require.Greater(t, acceptIdx, 0)
	require.Greater(t, dropIdx, 0)
	assert.Less(t, acceptIdx, dropIdx)

	status, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, status, "script rendered")
}

func TestScriptAdapterWritesFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.nft")
	a := NewScriptAdapter(path)
	require.NoError(t, a.Install(ctx))

	require.NoError(t, a.ApplyRules(ctx, []models.FirewallRule{rule(models.RuleBlockIP, "203.0.113.7")}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, a.Script(), string(data))
	assert.Contains(t, string(data), "203.0.113.7")
}
