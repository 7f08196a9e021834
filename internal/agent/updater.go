package agent

import (
	"context"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/version"
)

// updateCheckEvery is how many sweep cycles pass between self-update
// checks.
const updateCheckEvery = 12

// Updater keeps the agent's checkout in sync with the control plane's
// release. The pull is fast-forward only so a locally patched agent is
// never clobbered; the new build takes effect on the next restart.
type Updater struct {
	client     *Client
	installDir string
	logger     *log.Logger
}

func NewUpdater(client *Client, installDir string, logger *log.Logger) *Updater {
	if logger == nil {
		logger = log.Default()
	}
	return &Updater{client: client, installDir: installDir, logger: logger}
}

// Tick runs the update check on every updateCheckEvery-th cycle.
func (u *Updater) Tick(ctx context.Context, cycle int) {
	if cycle%updateCheckEvery != 0 {
		return
	}
	u.check(ctx)
}

func (u *Updater) check(ctx context.Context) {
	server, err := u.client.ServerVersion(ctx)
	if err != nil {
		u.logger.Printf("⚠️ Update check failed: %v", err)
		return
	}
	if version.Compare(version.Version, server) >= 0 {
		return
	}

	u.logger.Printf("📦 Update available: %s -> %s", version.Version, server)
	if u.installDir == "" {
		u.logger.Printf("⚠️ No install dir configured, skipping self-update")
		return
	}

	pullCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(pullCtx, "git", "pull", "--ff-only")
	cmd.Dir = u.installDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		u.logger.Printf("❌ Self-update pull failed: %v: %s", err, strings.TrimSpace(string(out)))
		return
	}
	u.logger.Printf("✅ Pulled %s; restart the agent to run it", server)
}
