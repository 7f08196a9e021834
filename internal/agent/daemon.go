package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/config"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/shield"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/version"
)

// commandPollInterval slices the inter-cycle sleep so remote commands
// are picked up long before the next full sweep.
const commandPollInterval = 10 * time.Second

// Daemon is the long-lived agent process: sweep, push, heartbeat, obey.
type Daemon struct {
	cfg      *config.AgentConfig
	client   *Client
	queue    *Queue
	disc     Discoverer
	registry *shield.Registry
	updater  *Updater
	logger   *log.Logger

	pollEvery time.Duration
	cycle     int
}

func NewDaemon(cfg *config.AgentConfig, client *Client, queue *Queue, disc Discoverer, reg *shield.Registry, updater *Updater, logger *log.Logger) *Daemon {
	if logger == nil {
		logger = log.Default()
	}
	if disc == nil {
		disc = NewTCPSweeper()
	}
	return &Daemon{
		cfg:       cfg,
		client:    client,
		queue:     queue,
		disc:      disc,
		registry:  reg,
		updater:   updater,
		logger:    logger,
		pollEvery: commandPollInterval,
	}
}

// Run executes sweep cycles until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Printf("🚀 Agent %s starting: %d subnets, interval %ds, shield=%v",
		d.cfg.Name, len(d.cfg.Subnets), d.cfg.IntervalSeconds, d.cfg.ShieldEnabled)

	for {
		d.cycle++
		d.runCycle(ctx)
		if d.updater != nil {
			d.updater.Tick(ctx, d.cycle)
		}
		if err := d.sleep(ctx); err != nil {
			d.logger.Printf("🛑 Agent %s stopping", d.cfg.Name)
			return err
		}
	}
}

// runCycle is one pass of the main loop: fingerprint, drain the offline
// queue, sweep every subnet, then heartbeat.
func (d *Daemon) runCycle(ctx context.Context) {
	fp := Fingerprint()

	if sent, failed := d.drain(ctx); sent+failed > 0 {
		d.logger.Printf("📡 Offline queue drained: %d sent, %d failed", sent, failed)
	}

	targets := d.cfg.Subnets
	if len(targets) == 0 {
		targets = fp.CIDRs
		if len(targets) > 0 {
			d.logger.Printf("📡 No subnets configured, sweeping local networks %v", targets)
		}
	}

	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		assets := d.sweepTarget(ctx, target, fp)
		if d.cfg.ShieldEnabled && len(assets) > 0 {
			d.shieldSweep(ctx, target, assets)
		}
	}

	pending, err := d.client.Heartbeat(ctx, models.AgentStatusOnline, version.Version, d.cfg.Subnets)
	if err != nil {
		d.logger.Printf("⚠️ Heartbeat failed: %v", err)
		return
	}
	if pending > 0 {
		d.logger.Printf("📡 %d pending command(s)", pending)
		d.executeCommands(ctx, true)
	}
}

func (d *Daemon) drain(ctx context.Context) (sent, failed int) {
	return d.queue.Drain(func(payloadType string, data []byte) error {
		return d.client.PushRaw(ctx, payloadType, data)
	})
}

// sweepTarget runs one discovery scan and pushes it, spooling to the
// offline queue when the control plane is unreachable. Returns the
// discovered assets so an optional shield pass can reuse them.
func (d *Daemon) sweepTarget(ctx context.Context, target string, fp *models.NetworkFingerprint) []models.AssetObservation {
	started := time.Now().UTC()
	assets, err := d.disc.Discover(ctx, target)
	if err != nil {
		d.logger.Printf("⚠️ Discovery of %s failed: %v", target, err)
		return nil
	}
	completed := time.Now().UTC()

	payload := &models.DiscoveryPayload{
		Target:      target,
		ScanMethod:  d.disc.Method(),
		StartedAt:   started,
		CompletedAt: &completed,
		IsRoot:      os.Geteuid() == 0,
		Assets:      assets,
		Fingerprint: fp,
	}
	if err := d.client.PushDiscovery(ctx, payload); err != nil {
		d.logger.Printf("⚠️ Discovery push for %s failed, queuing: %v", target, err)
		if _, qErr := d.queue.Enqueue("discovery", payload); qErr != nil {
			d.logger.Printf("❌ Could not queue discovery payload: %v", qErr)
		}
		return assets
	}
	d.logger.Printf("✅ Discovery for %s pushed: %d assets", target, len(assets))
	return assets
}

// shieldSweep runs the configured shield depth against every discovered
// asset and pushes the combined findings as one scan for the subnet.
func (d *Daemon) shieldSweep(ctx context.Context, target string, assets []models.AssetObservation) {
	if d.registry == nil || d.registry.Count() == 0 {
		return
	}
	names := shield.ModulesForDepth(d.cfg.ShieldDepth)

	started := time.Now().UTC()
	var findings []models.ShieldFinding
	for _, asset := range assets {
		if ctx.Err() != nil {
			return
		}
		res := shield.RunModules(ctx, d.registry, asset.IP, 0, names, d.logger)
		findings = append(findings, res.Findings...)
	}
	completed := time.Now().UTC()

	payload := &models.ShieldPayload{
		Target:      target,
		StartedAt:   started,
		CompletedAt: &completed,
		ModulesRun:  names,
		Findings:    findings,
	}
	if err := d.client.PushShield(ctx, payload); err != nil {
		d.logger.Printf("⚠️ Shield push for %s failed, queuing: %v", target, err)
		if _, qErr := d.queue.Enqueue("shield", payload); qErr != nil {
			d.logger.Printf("❌ Could not queue shield payload: %v", qErr)
		}
		return
	}
	d.logger.Printf("✅ Shield sweep for %s pushed: %d findings across %d assets", target, len(findings), len(assets))
}

// executeCommands polls the open command queue and works through it
// oldest first. When loud is false, poll failures stay quiet; the agent
// polls every ten seconds and an unreachable server is not news.
func (d *Daemon) executeCommands(ctx context.Context, loud bool) {
	cmds, err := d.client.Commands(ctx)
	if err != nil {
		if loud {
			d.logger.Printf("⚠️ Command poll failed: %v", err)
		}
		return
	}
	for i := len(cmds) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return
		}
		d.execute(ctx, cmds[i])
	}
}

func (d *Daemon) execute(ctx context.Context, cmd models.AgentCommand) {
	d.logger.Printf("📡 Executing command %s (%s)", cmd.ID, cmd.CommandType)
	if err := d.client.UpdateCommand(ctx, cmd.ID, models.CommandRunning, ""); err != nil {
		d.logger.Printf("⚠️ Could not mark command %s running: %v", cmd.ID, err)
		return
	}

	var (
		status = models.CommandCompleted
		result string
	)
	switch cmd.CommandType {
	case models.CommandScanNow:
		result = d.runScanNow(ctx, cmd)
	case models.CommandRemediate:
		result = d.acknowledgeRemediation(cmd)
	default:
		status = models.CommandFailed
		result = fmt.Sprintf("unsupported command type %q", cmd.CommandType)
	}

	if err := d.client.UpdateCommand(ctx, cmd.ID, status, result); err != nil {
		d.logger.Printf("⚠️ Could not complete command %s: %v", cmd.ID, err)
		return
	}
	d.logger.Printf("✅ Command %s %s: %s", cmd.ID, status, result)
}

// runScanNow performs an immediate discovery of the commanded targets,
// falling back to the configured subnets when the command names none.
func (d *Daemon) runScanNow(ctx context.Context, cmd models.AgentCommand) string {
	targets := stringsFromParam(cmd.Params["targets"])
	if len(targets) == 0 {
		targets = d.cfg.Subnets
	}
	withShield, _ := cmd.Params["shield"].(bool)

	fp := Fingerprint()
	total := 0
	for _, target := range targets {
		assets := d.sweepTarget(ctx, target, fp)
		total += len(assets)
		if withShield && len(assets) > 0 {
			d.shieldSweep(ctx, target, assets)
		}
	}
	return fmt.Sprintf("discovered %d assets across %d target(s)", total, len(targets))
}

// acknowledgeRemediation logs the requested action. Applying it is up
// to the operator on the device itself; the agent only confirms receipt.
func (d *Daemon) acknowledgeRemediation(cmd models.AgentCommand) string {
	actionID, _ := cmd.Params["action_id"].(string)
	actionType, _ := cmd.Params["action_type"].(string)
	targetIP, _ := cmd.Params["target_ip"].(string)
	d.logger.Printf("🛑 Remediation requested: action=%s type=%s target=%s", actionID, actionType, targetIP)
	return fmt.Sprintf("remediation %s acknowledged; apply on the device and re-scan", actionID)
}

// sleep waits out the configured interval in command-poll slices so a
// dashboard command does not sit unread for five minutes.
func (d *Daemon) sleep(ctx context.Context) error {
	remaining := time.Duration(d.cfg.IntervalSeconds) * time.Second
	for remaining > 0 {
		chunk := d.pollEvery
		if remaining < chunk {
			chunk = remaining
		}
		timer := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		remaining -= chunk
		if remaining > 0 {
			d.executeCommands(ctx, false)
		}
	}
	return nil
}

func stringsFromParam(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
