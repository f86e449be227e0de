package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relayforge/gateway/internal/application/usecase"
	"github.com/relayforge/gateway/internal/domain/concurrency"
	"github.com/relayforge/gateway/internal/domain/cron"
	"github.com/relayforge/gateway/internal/domain/entity"
	"github.com/relayforge/gateway/internal/domain/persona"
	"github.com/relayforge/gateway/internal/domain/planner"
	"github.com/relayforge/gateway/internal/domain/registry"
	"github.com/relayforge/gateway/internal/domain/repository"
	"github.com/relayforge/gateway/internal/domain/security"
	"github.com/relayforge/gateway/internal/domain/service"
	"github.com/relayforge/gateway/internal/domain/session"
	domaintool "github.com/relayforge/gateway/internal/domain/tool"
	"github.com/relayforge/gateway/internal/domain/valueobject"
	"github.com/relayforge/gateway/internal/infrastructure/config"
	"github.com/relayforge/gateway/internal/infrastructure/eventbus"
	"github.com/relayforge/gateway/internal/infrastructure/llm"
	_ "github.com/relayforge/gateway/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/relayforge/gateway/internal/infrastructure/llm/gemini"    // register gemini provider factory
	_ "github.com/relayforge/gateway/internal/infrastructure/llm/openai"    // register openai provider factory
	"github.com/relayforge/gateway/internal/infrastructure/persistence"
	"github.com/relayforge/gateway/internal/infrastructure/persistence/models"
	"github.com/relayforge/gateway/internal/infrastructure/plugin"
	"github.com/relayforge/gateway/internal/infrastructure/prompt"
	"github.com/relayforge/gateway/internal/infrastructure/sandbox"
	toolpkg "github.com/relayforge/gateway/internal/infrastructure/tool"
	"github.com/relayforge/gateway/internal/infrastructure/trace"
	"github.com/relayforge/gateway/internal/interfaces/agentgrpc"
	httpServer "github.com/relayforge/gateway/internal/interfaces/http"
	"github.com/relayforge/gateway/internal/interfaces/http/handlers"
	"github.com/relayforge/gateway/internal/interfaces/rpc"
	"github.com/relayforge/gateway/internal/interfaces/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 应用程序
type App struct {
	// 配置
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// 仓储层
	agentRepo   repository.AgentRepository
	messageRepo repository.MessageRepository

	// 领域服务
	agentSelector service.AgentSelector
	messageRouter service.MessageRouter

	// 应用服务
	processMessageUseCase *usecase.ProcessMessageUseCase

	// 基础设施
	toolRegistry domaintool.Registry
	toolExecutor *toolpkg.Executor
	llmRouter    *llm.Router
	mcpManager   *toolpkg.MCPManager
	agentLoop    *service.AgentLoop
	securityHook *service.SecurityHook
	grpcAgentSrv *agentgrpc.Server
	httpServer   *httpServer.Server

	// Planner/Gateway core (C3-C11)
	accessControl   *security.AccessControl
	lane            *concurrency.Lane
	runRegistry     *registry.Registry
	personaRegistry *persona.Registry
	pluginLoader    *plugin.Loader
	extRegistry     *plugin.ExtensionRegistry
	hookDispatcher  *plugin.HookDispatcher
	eventHub        *eventbus.Hub
	sessionManager  *session.Manager
	rpcGateway      *rpc.Gateway
	wsHub           *websocket.Hub
	cronStore       *cron.Store
	cronScheduler   *cron.Scheduler

	// Prompt 引擎
	promptEngine *prompt.PromptEngine
}

// NewApp 创建应用程序（依赖注入容器）
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Bootstrap: ensure ~/.relay/ exists with default files on first run
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	// 初始化各层组件
	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	if err := app.initGatewayCore(); err != nil {
		return nil, fmt.Errorf("failed to init gateway core: %w", err)
	}

	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}

	// 初始化默认数据
	if err := app.seedData(); err != nil {
		return nil, fmt.Errorf("failed to seed data: %w", err)
	}

	return app, nil
}

// NewAppCLI creates a lightweight app for CLI mode.
// Only initializes: DB (silent), Tools, LLM Router, AgentLoop, PromptEngine.
// Skips: HTTP server, gateway core, gRPC, seed data.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	// DB with silent logging (no SQL spam)
	if err := app.initRepositoriesSilent(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	// No initInterfaces (HTTP/TG/gRPC) — CLI doesn't need servers
	// No seedData — avoid noisy DB writes on every CLI launch
	return app, nil
}

// initRepositories 初始化仓储层
func (app *App) initRepositories() error {
	app.logger.Info("Initializing repositories")

	// 连接数据库
	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	// 初始化 GORM 仓储
	app.agentRepo = persistence.NewGormAgentRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)

	return nil
}

// initRepositoriesSilent initializes repos with silent DB logging (for CLI mode)
func (app *App) initRepositoriesSilent() error {
	db, err := persistence.NewDBConnectionSilent(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db
	app.agentRepo = persistence.NewGormAgentRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)
	return nil
}

// initDomainServices 初始化领域服务
func (app *App) initDomainServices() error {
	app.logger.Info("Initializing domain services")

	// 代理选择器
	app.agentSelector = service.NewDefaultAgentSelector(app.agentRepo)

	// 消息路由器
	app.messageRouter = service.NewDefaultMessageRouter(app.agentSelector)

	return nil
}

// initInfrastructure 初始化基础设施
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	// Tool Registry + Executor
	app.toolRegistry = domaintool.NewInMemoryRegistry()
	homeDir, _ := os.UserHomeDir()
	systemSkillsDir := filepath.Join(homeDir, ".relay", "skills")

	// Workspace-level skills (project-specific overrides)
	workspaceDir := app.config.Agent.Workspace
	skillsDirs := []string{systemSkillsDir}
	if workspaceDir != "" {
		wsSkillsDir := filepath.Join(workspaceDir, ".relay", "skills")
		skillsDirs = append(skillsDirs, wsSkillsDir)
	}

	sbxCfg := sandbox.DefaultConfig()
	sbxCfg.PythonEnv = app.config.PythonEnv
	if app.config.Agent.Runtime.ToolTimeout > 0 {
		sbxCfg.Timeout = app.config.Agent.Runtime.ToolTimeout
	}
	sbx, sbxErr := sandbox.NewProcessSandbox(sbxCfg, app.logger)
	if sbxErr != nil {
		app.logger.Warn("Sandbox init failed, tools will run unsandboxed", zap.Error(sbxErr))
	}

	// Executor (只负责执行，不再负责注册)
	app.toolExecutor = toolpkg.NewExecutor(
		app.toolRegistry,
		&domaintool.Policy{Profile: "full"},
		sbx, app.logger,
		app.config.PythonEnv, systemSkillsDir,
	)

	// LLM Router (modular provider factory with failover)
	// NOTE: must be initialized BEFORE RegisterAllTools because sub_agent depends on it.
	app.llmRouter = llm.NewRouter(app.logger)
	for _, p := range app.config.Agent.Providers {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			Type:     p.Type,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, app.logger)
		if err != nil {
			app.logger.Error("Failed to create LLM provider",
				zap.String("name", p.Name),
				zap.String("type", p.Type),
				zap.Error(err),
			)
			continue
		}
		app.llmRouter.AddProvider(provider)
	}
	app.logger.Info("LLM Router initialized",
		zap.Int("providers", len(app.config.Agent.Providers)),
	)

	// MCP Manager (hot-pluggable, reads ~/.relay/mcp.json)
	homeDir, _ = os.UserHomeDir()
	mcpConfigPath := filepath.Join(homeDir, ".relay", "mcp.json")
	app.mcpManager = toolpkg.NewMCPManager(mcpConfigPath, app.toolRegistry, app.logger)

	// Access control gate (C7's security.AccessControl). No role
	// surface is exposed in config.yaml yet, so the gate starts
	// disabled (every role/tool combination allowed) until one is
	// added; the Planner already consults it on every tool call, so
	// wiring a real role policy later is a config-only change.
	app.accessControl = security.New(security.Config{Enabled: false}, app.logger)

	// Concurrency Lane (C3) + Subagent Registry (C4), backing spawn_subagent.
	app.lane = concurrency.NewLane(4, 32, app.logger)
	if err := app.db.AutoMigrate(&models.SubAgentRunModel{}); err != nil {
		return fmt.Errorf("failed to migrate subagent_runs table: %w", err)
	}
	app.runRegistry = registry.New(persistence.NewGormRegistryStore(app.db), app.logger)

	// Persona registry (C9, persona half) — built-in default/subagent
	// personas; manifest-driven personas load the same way plugins do.
	app.personaRegistry = persona.NewRegistry()

	// Plugin subsystem (C9, plugin half): Loader discovers ~/.relay/plugins,
	// ExtensionRegistry wires plugin-exported tools into the shared
	// Registry, HookDispatcher fires manifest-declared lifecycle hooks.
	pluginDir := filepath.Join(homeDir, ".relay", "plugins")
	var pluginErr error
	app.pluginLoader, pluginErr = plugin.NewLoader(&plugin.LoaderConfig{PluginDir: pluginDir}, app.logger)
	if pluginErr != nil {
		app.logger.Warn("Plugin loader init failed, plugins disabled", zap.Error(pluginErr))
	} else {
		app.extRegistry = plugin.NewExtensionRegistry(app.logger)
		app.hookDispatcher = plugin.NewHookDispatcher(app.pluginLoader, app.logger)
		app.extRegistry.SetupLoaderCallbacks(app.pluginLoader, &pluginToolRegistrar{registry: app.toolRegistry}, app.hookDispatcher)
	}

	// Pub/Sub Hub (C5) — fans agent.* events out to websocket
	// subscribers per session_id.
	app.eventHub = eventbus.NewHub(app.logger)

	// ── Unified Tool Registration (single entry point) ──
	subMaxSteps := app.config.Agent.Runtime.SubAgentMaxSteps
	if subMaxSteps <= 0 {
		subMaxSteps = 25
	}
	toolpkg.RegisterAllTools(toolpkg.ToolLayerDeps{
		Registry:   app.toolRegistry,
		Sandbox:    sbx,
		PythonEnv:  app.config.PythonEnv,
		SkillsDir:  systemSkillsDir,
		Workspace:  app.config.Agent.Workspace,
		MCPManager: app.mcpManager,
		SubAgent: &toolpkg.SubAgentDeps{
			Factory: func() *planner.Planner {
				return planner.New(
					app.llmRouter,
					&toolBridge{registry: app.toolRegistry},
					app.accessControl,
					planner.Config{
						Model:         app.config.Agent.DefaultModel,
						MaxIterations: subMaxSteps,
						IsSubagent:    true,
						Role:          "subagent",
					},
					app.logger,
				)
			},
			Registry: app.runRegistry,
			Lane:     app.lane,
			Timeout:  app.config.Agent.Runtime.SubAgentTimeout,
		},
		Logger: app.logger,
	})


	// Prompt Engine (hot-pluggable system prompt assembly — System + Workspace layers)
	app.promptEngine = prompt.NewPromptEngine(app.config.Agent.Workspace, app.logger)
	if err := app.promptEngine.Discover(); err != nil {
		app.logger.Warn("Prompt engine discovery failed, will use empty system prompt",
			zap.Error(err),
		)
	}

	return nil
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices() error {
	app.logger.Info("Initializing application services")

	// ProcessMessageUseCase (legacy HTTP/REPL path — uses llmRouter directly)
	app.processMessageUseCase = usecase.NewProcessMessageUseCase(
		app.messageRepo,
		app.messageRouter,
		app.llmRouter,
		app.logger,
	)

	// Agent Loop (ReAct Engine) — uses LLM Router + Tool Bridge
	loopTools := &toolBridge{registry: app.toolRegistry}


	loopCfg := service.DefaultAgentLoopConfig()
	loopCfg.Model = app.config.Agent.DefaultModel

	// Bridge per-model policy overrides from config.yaml
	if len(app.config.Agent.ModelPolicies) > 0 {
		loopCfg.ModelPolicies = make(map[string]*service.ModelPolicyOverride)
		for key, cfgPolicy := range app.config.Agent.ModelPolicies {
			override := &service.ModelPolicyOverride{
				RepairToolPairing:   cfgPolicy.RepairToolPairing,
				EnforceTurnOrdering: cfgPolicy.EnforceTurnOrdering,
				ReasoningFormat:     cfgPolicy.ReasoningFormat,
				ProgressInterval:    cfgPolicy.ProgressInterval,
				ProgressEscalation:  cfgPolicy.ProgressEscalation,
				PromptStyle:         cfgPolicy.PromptStyle,
				SystemRoleSupport:   cfgPolicy.SystemRoleSupport,
				ThinkingTagHint:     cfgPolicy.ThinkingTagHint,
			}
			loopCfg.ModelPolicies[key] = override
		}
	}
	if app.config.Agent.Guardrails.LoopDetectThreshold > 0 {
		loopCfg.DoomLoopThreshold = app.config.Agent.Guardrails.LoopDetectThreshold
	}
	if app.config.Agent.Guardrails.LoopNameThreshold > 0 {
		loopCfg.LoopNameThreshold = app.config.Agent.Guardrails.LoopNameThreshold
	}

	// Retry config from config.yaml
	if app.config.Agent.Runtime.MaxRetries > 0 {
		loopCfg.MaxRetries = app.config.Agent.Runtime.MaxRetries
	}
	if app.config.Agent.Runtime.RetryBaseWait > 0 {
		loopCfg.RetryBaseWait = app.config.Agent.Runtime.RetryBaseWait
	}

	// Compaction config from config.yaml
	if app.config.Agent.Compaction.MessageThreshold > 0 {
		loopCfg.CompactThreshold = app.config.Agent.Compaction.MessageThreshold
	}
	if app.config.Agent.Compaction.KeepRecent > 0 {
		loopCfg.CompactKeepLast = app.config.Agent.Compaction.KeepRecent
	}


	app.agentLoop = service.NewAgentLoop(
		app.llmRouter,
		loopTools,
		loopCfg,
		app.logger,
	)
	app.logger.Info("Agent Loop initialized",
		zap.String("model", loopCfg.Model),
	)

	// Create SecurityHook and attach to agent loop. No approvalFunc is
	// wired: the JSON-RPC/REST gateway has no interactive approval
	// transport, so SecurityHook auto-approves (with a log line) the
	// way it already does when no approval function is set; the
	// access control role gate (security.AccessControl, consulted by
	// the Planner directly) is the enforcement point for this surface.
	app.securityHook = service.NewSecurityHook(
		app.config.Agent.Security,
		nil,
		app.logger,
	)
	app.agentLoop.SetHooks(app.securityHook)

	// Middleware pipeline (data-transformation hooks around LLM calls)
	mwPipeline := service.NewMiddlewarePipeline(app.logger)
	mwPipeline.Use(
		service.NewDanglingToolCallMiddleware(app.logger),
		// NOTE: MemoryMiddleware intentionally removed.
		// It produced low-quality, unfiltered facts (201 entries in memory.json)
		// that polluted the system prompt and caused context poisoning.
		// Future: agent writes memory via file tools (OpenClaw pattern).
	)
	app.agentLoop.SetMiddleware(mwPipeline)
	app.logger.Info("Middleware pipeline configured",
		zap.Int("middlewares", mwPipeline.Len()),
	)

	return nil
}

// initGatewayCore builds the Planner/Gateway core (C6-C11): the
// session.Manager that lazily creates a Planner per session_id, the
// JSON-RPC Gateway and its websocket transport, and the cron
// scheduler that fires persisted jobs back through the same session
// path a live chat.send would use.
func (app *App) initGatewayCore() error {
	app.logger.Info("Initializing gateway core")

	loopToolsBridge := &toolBridge{registry: app.toolRegistry}
	debounceMs := app.config.Agent.Runtime.DebounceMs
	if debounceMs <= 0 {
		debounceMs = 1500
	}

	plannerFactory := func(sessionID string) session.Planner {
		p := planner.New(
			app.llmRouter,
			loopToolsBridge,
			app.accessControl,
			planner.Config{
				Model:         app.config.Agent.DefaultModel,
				MaxIterations: app.config.Agent.MaxIterations,
				Role:          "user",
			},
			app.logger,
		)
		var sink *trace.Sink
		if s, err := trace.NewSink(sessionID, trace.Config{Dir: filepath.Join(app.config.Agent.Workspace, ".relay", "traces")}, nil); err == nil {
			sink = s
		} else {
			app.logger.Warn("trace sink init failed, tracing disabled for session",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		return &plannerSession{
			sessionID:    sessionID,
			p:            p,
			promptEngine: app.promptEngine,
			toolExec:     loopToolsBridge,
			channel:      "api",
			logger:       app.logger,
			trace:        sink,
			eventHub:     app.eventHub,
		}
	}
	app.sessionManager = session.NewManager(plannerFactory, debounceMs, app.logger)

	// JSON-RPC Gateway (C8) + its websocket transport.
	app.rpcGateway = rpc.New(app.logger)
	rpc.RegisterCoreMethods(app.rpcGateway, app.sessionManager)
	app.wsHub = websocket.NewHub(app.logger)
	app.wsHub.SetRPCHandler(func(client *websocket.Client, raw []byte) []byte {
		return app.rpcGateway.Dispatch(context.Background(), client.GetSessionID(), raw)
	})

	// Fan out Planner turn events (C5) to whatever client opened /ws for
	// a session — the eventSink adapter below is the only piece that
	// needs to know both the eventbus.Sink shape and websocket.EventSink.
	if app.eventHub != nil {
		app.eventHub.Attach("", &wsEventSink{sink: websocket.NewEventSink(app.wsHub)})
	}

	// Cron Scheduler (C11) — fires a job's task through the same
	// session.Manager path chat.send uses, so a scheduled task shares
	// history/provider state with its session.
	cronPath := filepath.Join(app.config.Agent.Workspace, ".relay", "cron.json")
	app.cronStore = cron.NewStore(cronPath)
	if err := app.cronStore.Load(); err != nil {
		app.logger.Warn("cron store load failed, starting empty", zap.Error(err))
	}
	cronExecutor := func(ctx context.Context, task, sessionID string) error {
		_, err := app.sessionManager.HandleMessage(sessionID, task).Wait(ctx)
		return err
	}
	app.cronScheduler = cron.NewScheduler(app.cronStore, cronExecutor, time.Minute, app.logger)

	return nil
}

// initInterfaces 初始化接口层
func (app *App) initInterfaces() error {
	app.logger.Info("Initializing interfaces")

	wsHandler := websocket.NewHandler(app.wsHub, app.logger)
	gatewayHandler := handlers.NewGatewayHandler(app.sessionManager, app.runRegistry, app.lane, app.llmRouter, app.config, app.logger)

	loopToolsBridge := &toolBridge{registry: app.toolRegistry}
	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host: app.config.Gateway.Host,
			Port: app.config.Gateway.Port,
			Mode: app.config.Gateway.Mode,
		},
		app.processMessageUseCase,
		app.agentLoop,
		loopToolsBridge,
		app.promptEngine,
		gatewayHandler,
		wsHandler,
		app.logger,
	)

	// gRPC Agent Server (for VS Code Extension / SDK)
	grpcPort := app.config.Agent.GRPCPort
	if grpcPort == 0 {
		grpcPort = 50052
	}
	loopTools := &toolBridge{registry: app.toolRegistry}
	app.grpcAgentSrv = agentgrpc.NewServer(app.agentLoop, loopTools, grpcPort, app.logger)
	app.logger.Info("gRPC agent server created", zap.Int("port", grpcPort))

	return nil
}



// seedData 初始化默认数据
func (app *App) seedData() error {
	app.logger.Info("Seeding default data")

	ctx := context.Background()

	// 创建默认代理
	defaultAgent, err := entity.NewAgent(
		"default",
		"默认助手",
		valueobject.DefaultModelConfig(),
	)
	if err != nil {
		return fmt.Errorf("failed to create default agent: %w", err)
	}

	// 保存默认代理
	if err := app.agentRepo.Save(ctx, defaultAgent); err != nil {
		return fmt.Errorf("failed to save default agent: %w", err)
	}

	app.logger.Info("Default agent created",
		zap.String("id", defaultAgent.ID()),
		zap.String("name", defaultAgent.Name()),
	)

	return nil
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")


	// 启动HTTP服务器
	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 启动 WebSocket Hub 广播循环
	if app.wsHub != nil {
		go app.wsHub.Run(ctx)
	}

	// 恢复上次运行中被中断的子代理任务
	if app.runRegistry != nil {
		if err := app.runRegistry.Recover(ctx, 5*time.Minute); err != nil {
			app.logger.Warn("Failed to recover orphaned subagent runs", zap.Error(err))
		}
	}

	// 启动定时任务调度器
	if app.cronScheduler != nil {
		app.cronScheduler.Start(ctx)
	}

	// 启动 gRPC Agent Server
	if app.grpcAgentSrv != nil {
		if err := app.grpcAgentSrv.Start(); err != nil {
			app.logger.Warn("gRPC agent server failed to start", zap.Error(err))
		}
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop 停止应用程序
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	// 停止 gRPC Agent Server
	if app.grpcAgentSrv != nil {
		app.grpcAgentSrv.Stop()
	}

	// 停止定时任务调度器
	if app.cronScheduler != nil {
		app.cronScheduler.Stop()
	}

	// 停止HTTP服务器
	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}





	// 关闭数据库连接
	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// ProcessMessageUseCase returns the message processing usecase (used by REPL)
func (app *App) ProcessMessageUseCase() *usecase.ProcessMessageUseCase {
	return app.processMessageUseCase
}

// Logger returns the application logger
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// Config returns the application config
func (app *App) AppConfig() *config.Config {
	return app.config
}

// AgentLoop returns the agent loop instance (used by CLI/TUI)
func (app *App) AgentLoop() *service.AgentLoop {
	return app.agentLoop
}

// PromptEngine returns the prompt engine (used by CLI/TUI)
func (app *App) PromptEngine() *prompt.PromptEngine {
	return app.promptEngine
}

// ToolRegistry returns the tool registry (used by CLI/TUI)
func (app *App) ToolRegistry() domaintool.Registry {
	return app.toolRegistry
}


