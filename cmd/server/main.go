package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/api"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/auth"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/collective"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/config"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/deadman"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/events"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/firewall"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/intel"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/metrics"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/ratelimit"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/remediation"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/shield"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/store"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/version"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/webhooks"
)

func main() {
	godotenv.Load()
	log.Printf("🚀 Starting bigr-discovery control plane v%s", version.Version)

	cfg, err := config.ServerFromEnv()
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		log.Fatalf("❌ PORT %q is not a number", cfg.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("❌ Schema migration failed: %v", err)
	}
	if n, err := st.RecoverRunningScans(ctx); err != nil {
		log.Printf("⚠️ Scan recovery failed: %v", err)
	} else if n > 0 {
		log.Printf("⚠️ Marked %d interrupted shield scan(s) failed", n)
	}

	m := metrics.New()
	bus := events.NewBus()

	// Shield modules, with CVE lookups backed by the intel feeds.
	vulnSource := intel.NewService(cfg.NVDAPIKey, intelCache(cfg.RedisURL))
	registry, err := shield.DefaultRegistry(vulnSource)
	if err != nil {
		log.Fatalf("❌ Module registration failed: %v", err)
	}
	orch := shield.NewOrchestrator(registry, st, bus, m)

	var adapter firewall.Adapter
	if cfg.FirewallScriptPath != "" {
		adapter = firewall.NewScriptAdapter(cfg.FirewallScriptPath)
	} else {
		adapter = firewall.NewNoopAdapter()
	}
	fw := firewall.NewService(st, adapter, bus, m)
	if err := fw.Reload(ctx); err != nil {
		log.Fatalf("❌ Firewall rule load failed: %v", err)
	}

	eng := collective.NewEngine(
		collective.Config{Epsilon: cfg.Epsilon, MinReporters: cfg.MinReporters, TTL: cfg.SignalTTL},
		st,
		collective.NewHasher(cfg.ThreatHMACKey),
		collective.NewPrivatizer(cfg.Epsilon, nil),
		m,
	)

	planner := remediation.NewPlanner(st)

	dm := deadman.NewSwitch(deadman.Config{Timeout: cfg.DeadmanTimeout}, st, bus, m)
	go dm.Run(ctx)

	var dispatcher *webhooks.Dispatcher
	if cfg.DeadmanWebhookURL != "" {
		reg := webhooks.NewRegistry()
		if err := reg.Register(&webhooks.Subscription{
			URL:    cfg.DeadmanWebhookURL,
			Events: []string{events.TypeDeadmanAlert},
			Secret: cfg.DeadmanWebhookKey,
		}); err != nil {
			log.Fatalf("❌ Webhook registration failed: %v", err)
		}
		dispatcher = webhooks.NewDispatcher(reg, 0, m)
		dispatcher.Bridge(ctx, bus, events.TypeDeadmanAlert)
	}

	limiter := ratelimit.New(ratelimit.DefaultConfig())
	limiter.OnLimit(m.RecordRateLimited)

	srv := api.NewServer(
		api.Config{Port: port, RegistrationSecret: cfg.RegistrationSecret},
		api.Deps{
			Store:        st,
			Verifier:     auth.NewVerifier(st),
			Limiter:      limiter,
			Bus:          bus,
			Metrics:      m,
			Registry:     registry,
			Orchestrator: orch,
			Firewall:     fw,
			Collective:   eng,
			Planner:      planner,
			Deadman:      dm,
		},
	)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Forced shutdown: %v", err)
	}
	if dispatcher != nil {
		dispatcher.Shutdown()
	}
	log.Println("🛑 Control plane stopped")
}

// intelCache picks the feed cache backend: go-redis when REDIS_URL is
// set and reachable, the in-process TTL map otherwise.
func intelCache(redisURL string) intel.Cache {
	if redisURL == "" {
		return intel.NewMemoryCache()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("⚠️ REDIS_URL unparsable (%v), using in-memory intel cache", err)
		return intel.NewMemoryCache()
	}
	cache, err := intel.NewRedisCache(opts.Addr, opts.Password, opts.DB)
	if err != nil {
		log.Printf("⚠️ Redis unreachable (%v), using in-memory intel cache", err)
		return intel.NewMemoryCache()
	}
	log.Printf("✅ Intel cache on redis %s", opts.Addr)
	return cache
}
