// Package config loads server and agent configuration. The server is
// environment-driven (.env honored via godotenv in main); the agent daemon
// additionally reads an optional YAML file whose values sit under any
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ServerConfig is everything the control-plane binary needs at startup.
type ServerConfig struct {
	Port               string
	DatabaseURL        string
	RegistrationSecret string
	NVDAPIKey          string
	ThreatHMACKey      string
	RedisURL           string
	DeadmanWebhookURL  string
	DeadmanWebhookKey  string
	FirewallScriptPath string

	Epsilon        float64
	MinReporters   int
	SignalTTL      time.Duration
	DeadmanTimeout time.Duration
}

// ServerFromEnv builds the server configuration from the environment,
// applying defaults for everything optional. DATABASE_URL is required.
func ServerFromEnv() (*ServerConfig, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required (sqlite:///path or postgresql://...)")
	}

	cfg := &ServerConfig{
		Port:               envOr("PORT", "8080"),
		DatabaseURL:        dbURL,
		RegistrationSecret: os.Getenv("AGENT_REGISTRATION_SECRET"),
		NVDAPIKey:          os.Getenv("NVD_API_KEY"),
		ThreatHMACKey:      os.Getenv("THREAT_HMAC_KEY"),
		RedisURL:           os.Getenv("REDIS_URL"),
		DeadmanWebhookURL:  os.Getenv("DEADMAN_WEBHOOK_URL"),
		DeadmanWebhookKey:  os.Getenv("DEADMAN_WEBHOOK_SECRET"),
		FirewallScriptPath: os.Getenv("FIREWALL_SCRIPT_PATH"),
		Epsilon:            envFloat("DP_EPSILON", 1.0),
		MinReporters:       envInt("DP_MIN_REPORTERS", 3),
		SignalTTL:          time.Duration(envInt("SIGNAL_TTL_HOURS", 72)) * time.Hour,
		DeadmanTimeout:     time.Duration(envInt("DEADMAN_TIMEOUT_MINUTES", 30)) * time.Minute,
	}
	if cfg.Epsilon <= 0 {
		return nil, fmt.Errorf("DP_EPSILON must be > 0, got %v", cfg.Epsilon)
	}
	if cfg.MinReporters < 1 {
		return nil, fmt.Errorf("DP_MIN_REPORTERS must be >= 1, got %d", cfg.MinReporters)
	}
	return cfg, nil
}

// AgentConfig drives the agent daemon loop.
type AgentConfig struct {
	ServerURL       string   `yaml:"server_url"`
	Token           string   `yaml:"token"`
	Name            string   `yaml:"name"`
	SiteName        string   `yaml:"site_name"`
	Location        string   `yaml:"location"`
	Subnets         []string `yaml:"subnets"`
	DataDir         string   `yaml:"data_dir"`
	InstallDir      string   `yaml:"install_dir"`
	IntervalSeconds int      `yaml:"interval_seconds"`
	ShieldEnabled   bool     `yaml:"shield_enabled"`
	ShieldDepth     string   `yaml:"shield_depth"`
}

// LoadAgentConfig reads the YAML file at path (if non-empty), then overlays
// environment variables, then fills defaults. Env always wins over file.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open agent config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse agent config %s: %w", path, err)
		}
	}

	overlayEnv(cfg)
	applyAgentDefaults(cfg)

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url is required (config file or AGENT_SERVER_URL)")
	}
	return cfg, nil
}

func overlayEnv(cfg *AgentConfig) {
	if v := os.Getenv("AGENT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("AGENT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("AGENT_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("AGENT_SITE_NAME"); v != "" {
		cfg.SiteName = v
	}
	if v := os.Getenv("AGENT_LOCATION"); v != "" {
		cfg.Location = v
	}
	if v := os.Getenv("AGENT_SUBNETS"); v != "" {
		cfg.Subnets = splitCSV(v)
	}
	if v := os.Getenv("AGENT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AGENT_INSTALL_DIR"); v != "" {
		cfg.InstallDir = v
	}
	if v := envInt("AGENT_INTERVAL_SECONDS", 0); v > 0 {
		cfg.IntervalSeconds = v
	}
	if v := os.Getenv("AGENT_SHIELD_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ShieldEnabled = b
		}
	}
	if v := os.Getenv("AGENT_SHIELD_DEPTH"); v != "" {
		cfg.ShieldDepth = v
	}
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.Name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "agent"
		}
		cfg.Name = host
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 300
	}
	if cfg.ShieldDepth == "" {
		cfg.ShieldDepth = "standard"
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	return home + "/.bigr-agent"
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
