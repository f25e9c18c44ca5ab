// Package e2e boots a complete surveyor instance against a real PostgreSQL
// database and drives it through its public surfaces: the REST API, the
// observer WebSocket, and the conversation WebSocket. The LLM is scripted
// and tools run on in-memory MCP servers, so scenarios are deterministic
// while everything between the socket and the database is real.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/api"
	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/database"
	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/hitl"
	"github.com/meridian-labs/surveyor/pkg/interrupt"
	"github.com/meridian-labs/surveyor/pkg/masking"
	"github.com/meridian-labs/surveyor/pkg/mcp"
	"github.com/meridian-labs/surveyor/pkg/metrics"
	"github.com/meridian-labs/surveyor/pkg/mission"
	"github.com/meridian-labs/surveyor/pkg/runtime"
	"github.com/meridian-labs/surveyor/pkg/services"
	surveyorslack "github.com/meridian-labs/surveyor/pkg/slack"
	"github.com/meridian-labs/surveyor/pkg/sources"
	testdb "github.com/meridian-labs/surveyor/test/database"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
)

// TestApp is a fully-started surveyor instance for one test.
type TestApp struct {
	Config *config.Config

	DBClient *database.Client
	Threads  *services.ThreadService
	Missions *services.MissionService
	Events   *services.EventService
	Outputs  *services.OutputService

	LLM          *SplitLLMClient
	Bus          *events.Bus
	Publisher    *events.Publisher
	ConnManager  *events.ConnectionManager
	Orchestrator *mission.Orchestrator
	Adapter      *runtime.Adapter
	Hub          *hitl.Hub
	Registry     *interrupt.Registry
	Server       *api.Server

	// BaseURL is the http:// root of the test server; WSBaseURL the ws://
	// root. Endpoint paths are appended as-is.
	BaseURL   string
	WSBaseURL string

	t *testing.T
}

// testAppConfig holds options applied by TestAppOption functions.
type testAppConfig struct {
	cfg        *config.Config
	llm        *SplitLLMClient
	mcpServers map[string]map[string]mcpsdk.ToolHandler
	notifier   *surveyorslack.Notifier

	workerPoolSize    int
	taskMaxAttempts   int
	taskTimeout       time.Duration
	interruptDeadline time.Duration
}

// TestAppOption customizes the test instance.
type TestAppOption func(*testAppConfig)

// WithConfig replaces the default test configuration entirely.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithLLM injects a pre-scripted LLM client.
func WithLLM(llm *SplitLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llm = llm }
}

// WithMCPServers sets in-memory MCP servers, serverID → (toolName → handler).
// Tool names surface to agents as "serverID.toolName".
func WithMCPServers(servers map[string]map[string]mcpsdk.ToolHandler) TestAppOption {
	return func(c *testAppConfig) { c.mcpServers = servers }
}

// WithWorkerPoolSize sets the per-mission task worker count.
func WithWorkerPoolSize(n int) TestAppOption {
	return func(c *testAppConfig) { c.workerPoolSize = n }
}

// WithTaskMaxAttempts sets the retry budget for agent instance tasks.
func WithTaskMaxAttempts(n int) TestAppOption {
	return func(c *testAppConfig) { c.taskMaxAttempts = n }
}

// WithTaskTimeout bounds a single task attempt's wall clock.
func WithTaskTimeout(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.taskTimeout = d }
}

// WithInterruptDeadline sets how long a paused turn waits for a decision.
func WithInterruptDeadline(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.interruptDeadline = d }
}

// WithSlackNotifier attaches a notifier (typically pointed at a mock Slack
// API) to the event bus.
func WithSlackNotifier(n *surveyorslack.Notifier) TestAppOption {
	return func(c *testAppConfig) { c.notifier = n }
}

// NewTestApp creates and starts a full surveyor instance. Shutdown is
// registered via t.Cleanup and mirrors the production ordering: hub first so
// no new work is admitted, then mission drain, then subscribers, then HTTP.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		workerPoolSize:    2,
		taskMaxAttempts:   2,
		taskTimeout:       30 * time.Second,
		interruptDeadline: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(tc)
	}

	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	tc.cfg.Missions.WorkerPoolSize = tc.workerPoolSize
	tc.cfg.Missions.TaskMaxAttempts = tc.taskMaxAttempts
	tc.cfg.Missions.DefaultTaskTimeoutSeconds = int(tc.taskTimeout.Seconds())
	tc.cfg.HITL.InterruptDeadlineSeconds = int(tc.interruptDeadline.Seconds())

	if tc.llm == nil {
		tc.llm = NewSplitLLMClient()
	}

	// 1. Database: per-test schema with migrations applied.
	dbClient := testdb.NewTestClient(t)
	db := dbClient.DB()

	threads := services.NewThreadService(db)
	missions := services.NewMissionService(db)
	eventService := services.NewEventService(db)
	outputs := services.NewOutputService(db)

	// 2. Event plumbing: real bus, durable log, observer fan-out.
	bus := events.NewBus(tc.cfg.Missions.EventSubscriberBuffer)
	publisher := events.NewPublisher(eventService, bus)
	connManager := events.NewConnectionManager(bus, events.NewEventServiceAdapter(eventService), 5*time.Second)
	connManager.Start()

	// 3. Tools: in-memory MCP servers behind the production executor and
	// masking decorator. No configured servers means no tools, which is
	// fine for conversation-only scenarios.
	ctx := context.Background()
	toolExecutor, mcpClient := setupTools(t, ctx, tc.cfg, tc.mcpServers)

	provider, err := tc.cfg.LLMProviderRegistry.Get(tc.cfg.Defaults.LLMProvider)
	require.NoError(t, err)

	// 4. Mission execution stack.
	taskRunner := runtime.NewTaskRunner(tc.llm, toolExecutor, tc.cfg)
	reducer := mission.NewReducer(mission.NewLLMScorer(tc.llm, provider), nil)
	fetcher := sources.NewService(tc.cfg.Sources, "")
	catalog := mission.NewRegistryCatalog(tc.cfg.AgentTypeRegistry, toolExecutor)
	orchestrator := mission.NewOrchestrator(tc.cfg.Missions, missions, outputs, taskRunner, reducer, fetcher, publisher, catalog)
	orchestrator.Start()

	// 5. Conversation stack.
	maxSteps := 0
	if tc.cfg.Defaults.MaxSteps != nil {
		maxSteps = *tc.cfg.Defaults.MaxSteps
	}
	adapter := runtime.NewAdapter(tc.llm, toolExecutor, tc.cfg.ToolPolicyRegistry, threads, provider, maxSteps)
	adapter.RegisterLocalTool(mission.NewPlanTool(orchestrator))
	registry := interrupt.NewRegistry()
	hub := hitl.NewHub(tc.cfg.HITL, threads, adapter, registry, bus, missions)

	// 6. Metrics and optional Slack.
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)
	collector.RegisterSocketGauges(hub.ActiveSessions, connManager.ActiveConnections)
	collector.Start(bus)
	if tc.notifier != nil {
		tc.notifier.Start(bus)
	}

	// 7. HTTP server on an ephemeral port.
	server := api.NewServer(tc.cfg, dbClient, threads, missions, eventService, orchestrator, hub, connManager)
	server.SetMetricsGatherer(promRegistry)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Config:       tc.cfg,
		DBClient:     dbClient,
		Threads:      threads,
		Missions:     missions,
		Events:       eventService,
		Outputs:      outputs,
		LLM:          tc.llm,
		Bus:          bus,
		Publisher:    publisher,
		ConnManager:  connManager,
		Orchestrator: orchestrator,
		Adapter:      adapter,
		Hub:          hub,
		Registry:     registry,
		Server:       server,
		BaseURL:      fmt.Sprintf("http://%s", addr),
		WSBaseURL:    fmt.Sprintf("ws://%s", addr),
		t:            t,
	}

	t.Cleanup(func() {
		hub.Stop()

		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = orchestrator.Stop(drainCtx)

		collector.Stop()
		tc.notifier.Stop()
		connManager.Stop()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = server.Shutdown(shutdownCtx)

		if mcpClient != nil {
			_ = mcpClient.Close()
		}
		// Database schema teardown is registered by testdb.NewTestClient.
	})

	return app
}

// setupTools builds the production tool path: in-memory MCP servers, the
// routing executor, and the masking decorator. Without servers it returns an
// executor that lists no tools.
func setupTools(
	t *testing.T,
	ctx context.Context,
	cfg *config.Config,
	servers map[string]map[string]mcpsdk.ToolHandler,
) (runtime.ToolExecutor, *mcp.Client) {
	t.Helper()

	if len(servers) == 0 {
		return masking.NewService(cfg.MCPServerRegistry).WrapExecutor(runtime.NewStubToolExecutor()), nil
	}

	transports := make(map[string]*mcpsdk.InMemoryTransport, len(servers))
	serverIDs := make([]string, 0, len(servers))
	for serverID, tools := range servers {
		transports[serverID] = startInMemoryMCPServer(t, serverID, tools)
		serverIDs = append(serverIDs, serverID)
	}

	factory := mcp.NewTestClientFactory(cfg.MCPServerRegistry, func(c *mcp.Client) {
		for serverID, transport := range transports {
			connectInMemorySession(t, c, serverID, transport)
		}
	})

	executor, client, err := factory.CreateToolExecutor(ctx, serverIDs, nil)
	require.NoError(t, err)
	return masking.NewService(cfg.MCPServerRegistry).WrapExecutor(executor), client
}

// defaultTestConfig builds a minimal configuration: builtin agent types and
// tool policies (so create_research_plan is gated), one scripted provider,
// and short mission budgets. Tests needing more override via WithConfig.
func defaultTestConfig() *config.Config {
	maxSteps := 5
	builtin := config.GetBuiltinConfig()

	agentTypes := make(map[string]*config.AgentTypeConfig, len(builtin.AgentTypes))
	for name := range builtin.AgentTypes {
		at := builtin.AgentTypes[name]
		agentTypes[name] = &at
	}
	policies := make(map[string]*config.ToolPolicy, len(builtin.ToolPolicies))
	for name := range builtin.ToolPolicies {
		p := builtin.ToolPolicies[name]
		policies[name] = &p
	}

	return &config.Config{
		Defaults: &config.Defaults{
			LLMProvider: "test-provider",
			MaxSteps:    &maxSteps,
		},
		Missions:  config.DefaultMissionsConfig(),
		HITL:      config.DefaultHITLConfig(),
		Retention: config.DefaultRetentionConfig(),

		AgentTypeRegistry:  config.NewAgentTypeRegistry(agentTypes),
		ToolPolicyRegistry: config.NewToolPolicyRegistry(policies),
		MCPServerRegistry:  config.NewMCPServerRegistry(nil),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": {
				Type:  config.LLMProviderTypeAnthropic,
				Model: "scripted",
			},
		}),
	}
}
