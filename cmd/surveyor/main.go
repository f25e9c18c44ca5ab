// Surveyor server. Serves the HTTP API, runs the conversation hub, and
// orchestrates mission execution.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridian-labs/surveyor/pkg/api"
	"github.com/meridian-labs/surveyor/pkg/cleanup"
	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/database"
	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/hitl"
	"github.com/meridian-labs/surveyor/pkg/interrupt"
	"github.com/meridian-labs/surveyor/pkg/llm"
	"github.com/meridian-labs/surveyor/pkg/masking"
	"github.com/meridian-labs/surveyor/pkg/mcp"
	"github.com/meridian-labs/surveyor/pkg/metrics"
	"github.com/meridian-labs/surveyor/pkg/mission"
	"github.com/meridian-labs/surveyor/pkg/runtime"
	"github.com/meridian-labs/surveyor/pkg/services"
	"github.com/meridian-labs/surveyor/pkg/slack"
	"github.com/meridian-labs/surveyor/pkg/sources"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting surveyor",
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Domain services
	threadService := services.NewThreadService(dbClient.DB())
	missionService := services.NewMissionService(dbClient.DB())
	eventService := services.NewEventService(dbClient.DB())
	outputService := services.NewOutputService(dbClient.DB())
	slog.Info("Services initialized")

	// 4. Orphan recovery, then the retention sweeper
	cleanupService := cleanup.NewService(cfg.Retention, missionService, threadService, eventService)
	if err := cleanupService.RecoverOrphanedMissions(ctx); err != nil {
		slog.Error("Failed to recover orphaned missions", "error", err)
		// Non-fatal: stale rows affect listings, not new work
	}
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 5. Event fan-out: durable log writer plus the in-process bus
	bus := events.NewBus(cfg.Missions.EventSubscriberBuffer)
	publisher := events.NewPublisher(eventService, bus)
	connManager := events.NewConnectionManager(bus,
		events.NewEventServiceAdapter(eventService), cfg.HITL.WriteTimeout())
	connManager.Start()
	slog.Info("Event fan-out initialized")

	// 6. LLM client
	// Note: no network activity happens until the first generation request
	llmClient := llm.NewAnthropicClient()
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	provider, err := cfg.LLMProviderRegistry.Get(cfg.Defaults.LLMProvider)
	if err != nil {
		slog.Error("Default LLM provider not configured",
			"provider", cfg.Defaults.LLMProvider, "error", err)
		os.Exit(1)
	}

	// 7. Tool executor: MCP servers behind the masking wrapper.
	// Connecting eagerly means a broken server config fails the process at
	// startup instead of failing the first mission.
	serverIDs := cfg.MCPServerRegistry.ServerIDs()
	mcpFactory := mcp.NewClientFactory(cfg.MCPServerRegistry)
	mcpExecutor, mcpClient, err := mcpFactory.CreateToolExecutor(ctx, serverIDs, nil)
	if err != nil {
		slog.Error("MCP startup failed", "servers", serverIDs, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mcpClient.Close(); err != nil {
			slog.Error("Error closing MCP client", "error", err)
		}
	}()

	maskingService := masking.NewService(cfg.MCPServerRegistry)
	toolExecutor := maskingService.WrapExecutor(mcpExecutor)
	slog.Info("Tool executor initialized", "mcp_servers", len(serverIDs))

	// 8. Mission execution pipeline
	taskRunner := runtime.NewTaskRunner(llmClient, toolExecutor, cfg)
	reducer := mission.NewReducer(mission.NewLLMScorer(llmClient, provider), nil)
	fetcher := sources.NewService(cfg.Sources, os.Getenv("GITHUB_TOKEN"))
	catalog := mission.NewRegistryCatalog(cfg.AgentTypeRegistry, toolExecutor)

	orchestrator := mission.NewOrchestrator(cfg.Missions, missionService, outputService,
		taskRunner, reducer, fetcher, publisher, catalog)
	orchestrator.Start()

	// 9. Conversation adapter with mission launch exposed as a local tool
	maxSteps := 0
	if cfg.Defaults.MaxSteps != nil {
		maxSteps = *cfg.Defaults.MaxSteps
	}
	adapter := runtime.NewAdapter(llmClient, toolExecutor,
		cfg.ToolPolicyRegistry, threadService, provider, maxSteps)
	adapter.RegisterLocalTool(mission.NewPlanTool(orchestrator))

	hub := hitl.NewHub(cfg.HITL, threadService, adapter,
		interrupt.NewRegistry(), bus, missionService)

	// 10. Metrics and Slack notifications (third and fourth bus subscribers)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	collector.RegisterSocketGauges(hub.ActiveSessions, connManager.ActiveConnections)
	collector.Start(bus)

	notifier := slack.NewNotifier(cfg.Slack, os.Getenv(cfg.Slack.TokenEnv),
		cfg.DashboardURL, missionService)
	notifier.Start(bus)

	// 11. HTTP server
	httpServer := api.NewServer(cfg, dbClient, threadService, missionService,
		eventService, orchestrator, hub, connManager)
	httpServer.SetMetricsGatherer(registry)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Surveyor started successfully",
		"max_concurrent_missions", cfg.Missions.MaxConcurrentMissions,
		"mcp_servers", len(serverIDs))

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown. Conversation sessions stop first so no new
	// missions are admitted, then running missions drain within the budget.
	hub.Stop()
	slog.Info("Conversation hub stopped")

	drainCtx, cancelDrain := context.WithTimeout(ctx,
		time.Duration(cfg.Missions.GracefulShutdownSeconds)*time.Second)
	defer cancelDrain()
	if err := orchestrator.Stop(drainCtx); err != nil {
		slog.Warn("Mission drain timeout exceeded, unfinished missions will be orphan-recovered on next start",
			"error", err)
	} else {
		slog.Info("Mission orchestrator stopped gracefully")
	}

	// Bus subscribers stop after the producers are drained
	collector.Stop()
	notifier.Stop()
	connManager.Stop()

	// Stop HTTP server with its own timeout budget
	httpShutdownCtx, cancelHTTP := context.WithTimeout(ctx, 5*time.Second)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
