package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hearcrm/assistant-svc/internal/api"
	"github.com/hearcrm/assistant-svc/internal/circuitbreaker"
	"github.com/hearcrm/assistant-svc/internal/config"
	"github.com/hearcrm/assistant-svc/internal/llm"
	"github.com/hearcrm/assistant-svc/internal/metrics"
	"github.com/hearcrm/assistant-svc/internal/middleware"
	"github.com/hearcrm/assistant-svc/internal/planner"
	"github.com/hearcrm/assistant-svc/internal/refiner"
	"github.com/hearcrm/assistant-svc/internal/registry"
	"github.com/hearcrm/assistant-svc/internal/safety"
	"github.com/hearcrm/assistant-svc/internal/session"
	"github.com/hearcrm/assistant-svc/internal/tenancy"
	"github.com/hearcrm/assistant-svc/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env for development; production uses real environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	log.Println("🚀 Starting HearCRM Assistant Service...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	log.Printf("📋 Env: %s", cfg.Server.Env)
	log.Printf("🤖 Model: %s @ %s", cfg.Model.Name, cfg.Model.BaseURL)
	log.Printf("💾 Redis: %s", cfg.Redis.URL)

	// Tenants and tools.
	tenants, err := tenancy.NewManager(cfg.Tenants, registry.RolloutPhase(cfg.Planner.Phase))
	if err != nil {
		log.Fatalf("❌ Invalid tenant configuration: %v", err)
	}
	toolRegistry := registry.New()
	log.Printf("📦 Registry loaded with %d tools", toolRegistry.Count())

	// Conversation store.
	sessions, err := session.NewRedisStore(cfg.Redis.URL, cfg.Redis.SessionTTL.Std())
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer sessions.Close()
	log.Println("✅ Redis connected")

	// Model client behind one shared breaker: the two stages talk to the
	// same backend, so its health is a single fact.
	model, err := llm.NewOllamaClient(cfg.Model.BaseURL, cfg.Model.Name, cfg.Model.ClassifyTimeout.Std())
	if err != nil {
		log.Fatalf("❌ Failed to initialize model client: %v", err)
	}
	breaker := circuitbreaker.New(circuitbreaker.ModelConfig())

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	rf := refiner.New(
		model,
		breaker,
		safety.NewRegexRedactor(),
		safety.NewPatternSanitizer(),
		refiner.NewTurkishRules(),
		refiner.Config{
			ModelTimeout:      cfg.Model.ClassifyTimeout.Std(),
			MaxTokens:         cfg.Model.ClassifyMaxTok,
			Temperature:       0.1,
			MinActionEntities: []string{"name", "phone"},
		},
		m,
	)
	pl := planner.New(
		model,
		breaker,
		toolRegistry,
		planner.Config{
			ModelTimeout: cfg.Model.PlanTimeout.Std(),
			MaxTokens:    cfg.Model.PlanMaxTok,
			Temperature:  0.0,
			PlanTTL:      cfg.Planner.PlanTTL.Std(),
			Phase:        registry.RolloutPhase(cfg.Planner.Phase),
		},
		m,
	)

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{})

	server := api.NewServer(rf, pl, toolRegistry, sessions, tenants, limiter,
		promRegistry, cfg.Model.UsePlannerModel)

	// Optional NATS surface for internal services.
	var natsTransport *transport.NATSTransport
	if cfg.NATS.Enabled {
		natsTransport, err = transport.NewNATSTransport(cfg.NATS, rf, pl, sessions,
			tenants, cfg.Model.UsePlannerModel)
		if err != nil {
			log.Fatalf("❌ Failed to initialize NATS transport: %v", err)
		}
		defer natsTransport.Close()
		if err := natsTransport.Start(); err != nil {
			log.Fatalf("❌ Failed to start NATS transport: %v", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("🛑 Received signal: %v", sig)
	case err := <-errCh:
		if err != nil {
			log.Fatalf("❌ Server failed: %v", err)
		}
		return
	}

	log.Println("🔄 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown error: %v", err)
	}
	if natsTransport != nil {
		if err := natsTransport.Close(); err != nil {
			log.Printf("⚠️ NATS shutdown error: %v", err)
		}
	}
	log.Println("👋 Assistant Service stopped")
}
