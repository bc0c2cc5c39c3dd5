package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/relaycore/agentcore/internal/agents"
	"github.com/relaycore/agentcore/internal/approval"
	"github.com/relaycore/agentcore/internal/config"
	"github.com/relaycore/agentcore/internal/contextassembly"
	"github.com/relaycore/agentcore/internal/eventbus"
	"github.com/relaycore/agentcore/internal/gateway"
	"github.com/relaycore/agentcore/internal/llmadapter"
	"github.com/relaycore/agentcore/internal/llmadapter/providers"
	"github.com/relaycore/agentcore/internal/memory"
	"github.com/relaycore/agentcore/internal/policy"
	"github.com/relaycore/agentcore/internal/react"
	"github.com/relaycore/agentcore/internal/sessions"
	"github.com/relaycore/agentcore/internal/tools"
	"github.com/relaycore/agentcore/internal/tools/executors"
	"github.com/relaycore/agentcore/internal/turn"
	"github.com/relaycore/agentcore/pkg/models"
)

func buildServeCmd(configPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Start the gateway and run turns until stopped",
		Example: "agentcored serve --config ./config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, *debug)
		},
	}
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	logger := newLogger(debug)
	slog.SetDefault(logger)

	watcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := watcher.Current()

	stack, err := buildStack(cfg, logger)
	if err != nil {
		return fmt.Errorf("build execution core: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Start(runCtx); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer watcher.Close()

	if err := stack.server.Start(runCtx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	logger.Info("agentcored started", "http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))
	<-runCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return stack.server.Stop(shutdownCtx)
}

// executionStack holds every wired component for the lifetime of the
// process; runServe only needs the gateway server, but the rest are kept
// alive by the closures the server and coordinator hold.
type executionStack struct {
	server *gateway.Server
}

func buildStack(cfg *config.Config, logger *slog.Logger) (*executionStack, error) {
	store, err := buildSessionStore(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	bus := eventbus.New(eventbus.BackpressureConfig{Buffer: cfg.EventBus.Buffer})

	approvalStore, err := buildApprovalStore(cfg.Approval)
	if err != nil {
		return nil, fmt.Errorf("approval store: %w", err)
	}
	arbiter := approval.New(approvalStore, bus, cfg.Approval.RequestTTL.Std(), logger)

	workspaceRoot := cfg.Workspace.Root
	if workspaceRoot == "" {
		workspaceRoot = "."
	}
	registry := buildToolRegistry(workspaceRoot, cfg.Workspace.ShortCommandTimeout.Std(), cfg.Workspace.ExecutorURL)
	termLog := tools.NewTerminalLog(workspaceRoot)
	toolGateway := tools.NewGateway(registry, arbiter, &eventRecorder{bus: bus, logger: logger}, termLog)
	if err := toolGateway.CompileSchemas(); err != nil {
		return nil, fmt.Errorf("compile tool schemas: %w", err)
	}

	router, err := buildRouter(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm router: %w", err)
	}

	engine := react.New(&routedProvider{router: router}, toolGateway).
		WithMaxIterations(cfg.React.MaxIterations).
		WithChunkIdleTimeout(cfg.React.ChunkIdleTimeout.Std())

	memoryStore := memory.NewStore()

	assembler := contextassembly.New(store, memoryStore, nil, logger)
	agentStore := agents.NewStaticStore(defaultAgent(cfg.Agent, cfg.Workspace, cfg.Session, workspaceRoot))

	coordinator := turn.New(engine, store, bus, logger).
		WithContextAssembly(agentStore, assembler, registry).
		WithMemoryRecorder(memoryStore)
	if cfg.Server.MaxConcurrentTurns > 0 {
		budget, _ := turn.NewBudget(context.Background(), cfg.Server.MaxConcurrentTurns)
		coordinator.WithBudget(budget)
	}

	server := gateway.New(
		gateway.Config{
			Host:             cfg.Server.Host,
			Port:             cfg.Server.HTTPPort,
			StopOnDisconnect: cfg.Server.StopOnDisconnect,
		},
		coordinator,
		bus,
		arbiter,
		logger,
	)

	return &executionStack{server: server}, nil
}

// defaultAgent builds the single agent every conversation runs under from
// configuration, falling back to session.default_agent_id for its ID and
// reusing the workspace config already given to the tool registry for its
// workspace policy, so a deployment only has to state each setting once.
func defaultAgent(cfg config.AgentConfig, workspace config.WorkspaceConfig, session config.SessionConfig, workspaceRoot string) models.Agent {
	id := cfg.ID
	if id == "" {
		id = session.DefaultAgentID
	}
	if id == "" {
		id = "default"
	}
	return models.Agent{
		ID:            id,
		Name:          cfg.Name,
		SystemPrompt:  cfg.SystemPrompt,
		ModelID:       cfg.ModelID,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		ToolAllowlist: cfg.ToolAllowlist,
		WorkspacePolicy: models.WorkspacePolicy{
			Root:              workspaceRoot,
			AllowActions:      workspace.AllowActions,
			AllowContextReads: workspace.AllowContextReads,
		},
		MemoryPolicy: models.MemoryPolicy{
			ShortTermWindow:             cfg.MemoryPolicy.ShortTermWindow,
			LongTermEnabled:             cfg.MemoryPolicy.LongTermEnabled,
			LongTermImportanceThreshold: cfg.MemoryPolicy.LongTermImportanceThreshold,
			MaxLongTermItems:            cfg.MemoryPolicy.MaxLongTermItems,
		},
		KnowledgePolicy: models.KnowledgePolicy{
			Enabled:     cfg.KnowledgePolicy.Enabled,
			TopK:        cfg.KnowledgePolicy.TopK,
			Collections: cfg.KnowledgePolicy.Collections,
		},
	}
}

func buildSessionStore(cfg config.SessionConfig) (sessions.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return sessions.NewMemoryStore(), nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "agentcore.db"
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
		if _, err := db.Exec(sessions.Schema); err != nil {
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
		return sessions.NewSQLiteStore(db), nil
	default:
		return nil, fmt.Errorf("unknown session store driver %q", cfg.StoreDriver)
	}
}

func buildApprovalStore(cfg config.ApprovalConfig) (approval.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return approval.NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, errors.New("approval.postgres_url is required for the postgres store driver")
		}
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres db: %w", err)
		}
		return approval.NewPostgresStore(db), nil
	default:
		return nil, fmt.Errorf("unknown approval store driver %q", cfg.StoreDriver)
	}
}

func buildToolRegistry(root string, shortCommandTimeout time.Duration, executorURL string) *tools.Registry {
	resolver := policy.WorkspaceResolver{Root: root}

	local := []tools.Tool{
		&executors.ReadFileTool{Resolver: resolver},
		&executors.WriteFileTool{Resolver: resolver},
		&executors.AppendFileTool{Resolver: resolver},
		&executors.DeleteFileTool{Resolver: resolver},
		&executors.ListFilesTool{Resolver: resolver},
		&executors.CreateDirectoryTool{Resolver: resolver},
		&executors.ExecuteCommandTool{Resolver: resolver, Timeout: shortCommandTimeout},
		&executors.GitStatusTool{Resolver: resolver},
		&executors.GitDiffTool{Resolver: resolver},
		&executors.GitCommitTool{Resolver: resolver},
		&executors.GitPushTool{Resolver: resolver},
	}

	registry := tools.NewRegistry()
	if executorURL != "" {
		// Same catalog, execution forwarded to the external executor
		// service.
		client := executors.NewRemoteClient(executorURL, 0)
		for _, t := range local {
			registry.Register(&executors.RemoteTool{
				ToolName:        t.Name(),
				ToolDescription: t.Description(),
				ToolSchema:      t.Schema(),
				Client:          client,
			})
		}
		return registry
	}
	for _, t := range local {
		registry.Register(t)
	}
	return registry
}

func buildRouter(cfg config.LLMConfig) (*llmadapter.Router, error) {
	providerSet := make(map[string]llmadapter.Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		switch name {
		case "anthropic":
			providerSet[name] = providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:     pc.APIKey,
				MaxRetries: pc.MaxRetries,
			})
		case "openai":
			providerSet[name] = providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:     pc.APIKey,
				BaseURL:    pc.BaseURL,
				MaxRetries: pc.MaxRetries,
			})
		case "ollama":
			providerSet[name] = providers.NewOllamaProvider(providers.OllamaConfig{
				BaseURL: pc.BaseURL,
			})
		default:
			return nil, fmt.Errorf("unknown llm provider %q", name)
		}
	}
	if len(providerSet) == 0 {
		return nil, errors.New("llm.providers must configure at least one provider")
	}

	routes := make([]llmadapter.Route, 0, len(cfg.Routes))
	for modelID, providerName := range cfg.Routes {
		routes = append(routes, llmadapter.Route{ModelID: modelID, Provider: providerName})
	}

	fallback := cfg.Fallback
	if fallback == "" {
		for name := range providerSet {
			fallback = name
			break
		}
	}
	return llmadapter.NewRouter(routes, providerSet, fallback), nil
}

// routedProvider adapts a *llmadapter.Router, which resolves a provider
// per-request by model_id, to the single-provider llmadapter.Provider
// interface the ReAct engine depends on.
type routedProvider struct {
	router *llmadapter.Router
}

func (r *routedProvider) Name() string { return "router" }

func (r *routedProvider) Models() []string { return nil }

func (r *routedProvider) Complete(ctx context.Context, req llmadapter.CompletionRequest) (<-chan llmadapter.Chunk, error) {
	provider, err := r.router.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	return provider.Complete(ctx, req)
}

// eventRecorder publishes tool call records to the event bus as
// agent.activity frames, alongside the tool.* lifecycle events the ReAct
// engine emits, so operators can audit execution over the same stream
// clients consume.
type eventRecorder struct {
	bus    *eventbus.Bus
	logger *slog.Logger
}

func (r *eventRecorder) Save(_ context.Context, record *models.ToolCallRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		r.logger.Warn("marshal tool call record", "error", err, "tool_call_id", record.ID)
		return nil
	}
	r.bus.Publish(models.Event{
		Kind:           models.EventAgentActivity,
		ConversationID: record.ConversationID,
		TurnID:         record.TurnID,
		Timestamp:      time.Now().UTC(),
		Data:           payload,
	})
	return nil
}
