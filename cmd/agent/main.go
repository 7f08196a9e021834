package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v2"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/agent"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/config"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/intel"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/shield"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/version"
)

// flagEnv routes explicitly set flags through their AGENT_* environment
// variables, so flags override both the environment and the YAML file
// with a single precedence mechanism.
var flagEnv = map[string]string{
	"server":      "AGENT_SERVER_URL",
	"token":       "AGENT_TOKEN",
	"name":        "AGENT_NAME",
	"site":        "AGENT_SITE_NAME",
	"location":    "AGENT_LOCATION",
	"subnets":     "AGENT_SUBNETS",
	"data-dir":    "AGENT_DATA_DIR",
	"install-dir": "AGENT_INSTALL_DIR",
	"interval":    "AGENT_INTERVAL_SECONDS",
	"shield":      "AGENT_SHIELD_ENABLED",
	"depth":       "AGENT_SHIELD_DEPTH",
}

func main() {
	godotenv.Load()

	configPath := flag.String("config", "", "agent YAML config file")
	regSecret := flag.String("registration-secret", "", "shared secret required by the server at first registration")
	flag.String("server", "", "control plane base URL")
	flag.String("token", "", "bearer token from a previous registration")
	flag.String("name", "", "agent name (default: hostname)")
	flag.String("site", "", "site label attached to discovered assets")
	flag.String("location", "", "free-form location label")
	flag.String("subnets", "", "comma-separated CIDRs to sweep")
	flag.String("data-dir", "", "state directory for pid file, log and offline queue")
	flag.String("install-dir", "", "git checkout used by the self-updater")
	flag.Int("interval", 0, "seconds between sweep cycles")
	flag.Bool("shield", false, "run shield modules against discovered assets")
	flag.String("depth", "", "shield depth: quick, standard or deep")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if env, ok := flagEnv[f.Name]; ok {
			os.Setenv(env, f.Value.String())
		}
	})

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("❌ Could not create data dir %s: %v", cfg.DataDir, err)
	}

	logger := log.New(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   filepath.Join(cfg.DataDir, "agent.log"),
		MaxSize:    5, // MiB
		MaxBackups: 3,
	}), "[AGENT] ", log.LstdFlags)

	pidPath := filepath.Join(cfg.DataDir, "agent.pid")
	if err := agent.AcquirePIDFile(pidPath); err != nil {
		logger.Fatalf("❌ %v", err)
	}
	defer agent.ReleasePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := agent.NewClient(agent.ClientConfig{ServerURL: cfg.ServerURL, Token: cfg.Token})
	if cfg.Token == "" {
		if err := register(ctx, client, cfg, *configPath, *regSecret, logger); err != nil {
			logger.Printf("❌ Registration failed: %v", err)
			return
		}
	}

	queue, err := agent.NewQueue(filepath.Join(cfg.DataDir, "queue"), logger)
	if err != nil {
		logger.Printf("❌ %v", err)
		return
	}

	var registry *shield.Registry
	if cfg.ShieldEnabled {
		registry, err = buildRegistry()
		if err != nil {
			logger.Printf("❌ %v", err)
			return
		}
	}

	daemon := agent.NewDaemon(cfg, client, queue, agent.NewTCPSweeper(), registry,
		agent.NewUpdater(client, cfg.InstallDir, logger), logger)

	logger.Printf("🚀 bigr-discovery agent v%s (data dir %s)", version.Version, cfg.DataDir)
	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("❌ Agent loop failed: %v", err)
	}
}

// register performs first-contact registration and persists the minted
// token so restarts reuse the identity instead of multiplying agents.
func register(ctx context.Context, client *agent.Client, cfg *config.AgentConfig, configPath, secret string, logger *log.Logger) error {
	logger.Printf("🔌 No token on file, registering %q with %s", cfg.Name, cfg.ServerURL)
	id, token, err := client.Register(ctx, &agent.RegisterRequest{
		Name:     cfg.Name,
		SiteName: cfg.SiteName,
		Location: cfg.Location,
		Subnets:  cfg.Subnets,
		Secret:   secret,
	})
	if err != nil {
		return err
	}
	cfg.Token = token
	logger.Printf("✅ Registered as agent %s", id)

	if configPath == "" {
		configPath = filepath.Join(cfg.DataDir, "agent.yaml")
	}
	if err := saveConfig(configPath, cfg); err != nil {
		logger.Printf("⚠️ Could not persist token to %s: %v (set AGENT_TOKEN to avoid duplicate registrations)", configPath, err)
		return nil
	}
	logger.Printf("✅ Config with token saved to %s", configPath)
	return nil
}

func saveConfig(path string, cfg *config.AgentConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	// contains the bearer token
	return os.WriteFile(path, data, 0o600)
}

// buildRegistry assembles the full module set for agent-side shield
// sweeps. CVE lookups run against the public feeds with an in-process
// cache; NVD_API_KEY lifts their rate limit when present.
func buildRegistry() (*shield.Registry, error) {
	source := intel.NewService(os.Getenv("NVD_API_KEY"), intel.NewMemoryCache())
	return shield.DefaultRegistry(source)
}
