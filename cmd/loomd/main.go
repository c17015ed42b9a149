// Loom daemon — event-sourced agent orchestration kernel. Serves the HTTP +
// WebSocket API, drives one runtime per configured agent, and persists all
// state as append-only JSONL logs under the workspace directory.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loomworks/loom/pkg/agent"
	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/conversation"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/mcp"
	"github.com/loomworks/loom/pkg/models"
	"github.com/loomworks/loom/pkg/projection"
	"github.com/loomworks/loom/pkg/runtime"
	"github.com/loomworks/loom/pkg/store"
	"github.com/loomworks/loom/pkg/subtask"
	"github.com/loomworks/loom/pkg/tasks"
	"github.com/loomworks/loom/pkg/tools"
	"github.com/loomworks/loom/pkg/tools/builtin"
	"github.com/loomworks/loom/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("LOOM_CONFIG_DIR", "."),
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

	slog.Info("Starting loomd", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Open the workspace logs
	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		slog.Error("Failed to create workspace directory", "dir", cfg.WorkspaceDir, "error", err)
		os.Exit(1)
	}

	eventLog, err := store.OpenEventLog(filepath.Join(cfg.WorkspaceDir, "events.jsonl"))
	if err != nil {
		slog.Error("Failed to open event log", "error", err)
		os.Exit(1)
	}
	defer func() { _ = eventLog.Close() }()

	convLog, err := store.OpenConversationLog(filepath.Join(cfg.WorkspaceDir, "conversations.jsonl"))
	if err != nil {
		slog.Error("Failed to open conversation log", "error", err)
		os.Exit(1)
	}
	defer func() { _ = convLog.Close() }()

	auditLog, err := store.OpenAuditLog(filepath.Join(cfg.WorkspaceDir, "audit.jsonl"))
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditLog.Close() }()

	snapshots, err := store.OpenSnapshotStore(filepath.Join(cfg.WorkspaceDir, "projections.jsonl"))
	if err != nil {
		slog.Error("Failed to open snapshot store", "error", err)
		os.Exit(1)
	}

	// 3. Rebuild the projection from the log
	proj := projection.NewTaskProjection()
	detach := proj.Attach(eventLog)
	defer detach()
	slog.Info("Task projection rebuilt", "tasks", len(proj.ListTasks()))

	// 4. Tool registry, executor, conversations, task service
	registry := tools.NewRegistry()
	if err := registry.RegisterStatic(builtin.All()...); err != nil {
		slog.Error("Failed to register builtin tools", "error", err)
		os.Exit(1)
	}
	executor := tools.NewExecutor(registry, auditLog)
	conv := conversation.NewManager(convLog, executor, registry)
	taskService := tasks.NewService(eventLog, proj)

	// 5. MCP servers → dynamic tool namespaces
	mcpClient := mcp.NewClient(cfg.MCPServers)
	mcpClient.Initialize(ctx)
	defer func() { _ = mcpClient.Close() }()
	if failed := mcpClient.FailedServers(); len(failed) > 0 {
		slog.Warn("Some MCP servers failed to initialize", "failed_servers", failed)
	}
	mcpBridge := mcp.NewBridge(mcpClient, cfg.MCPServers, registry)
	mcpBridge.Sync(ctx)

	// 6. LLM client
	llmClient, err := llm.NewOpenAIClientFromConfig(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	// 7. One runtime per configured agent
	manager := runtime.NewManager()
	ui := runtime.NewBus()
	handler := runtime.NewHandler(taskService, conv, executor, registry, ui)

	sub := subtask.NewBridge(subtask.Options{
		Tasks:         taskService,
		Log:           eventLog,
		Projection:    proj,
		Conversations: conv,
		Agents:        manager,
		MaxDepth:      cfg.Limits.SubtaskDepth,
		WaitTimeout:   cfg.Limits.SubtaskTimeoutDuration(),
	})
	if err := registry.RegisterStatic(sub.Tools()...); err != nil {
		slog.Error("Failed to register subtask tools", "error", err)
		os.Exit(1)
	}

	for _, agentID := range cfg.Agents.IDs() {
		agentCfg, err := cfg.Agents.Get(agentID)
		if err != nil {
			slog.Error("Failed to load agent config", "agent_id", agentID, "error", err)
			os.Exit(1)
		}

		llmAgent, err := agent.NewLLMAgent(agent.LLMAgentOptions{
			ID:            agentID,
			DisplayName:   agentCfg.DisplayName,
			Model:         cfg.LLM.Model,
			MaxIterations: agentCfg.MaxIterations,
		})
		if err != nil {
			slog.Error("Failed to create agent", "agent_id", agentID, "error", err)
			os.Exit(1)
		}

		streaming := cfg.LLM.StreamingEnabled()
		if agentCfg.Streaming != nil {
			streaming = *agentCfg.Streaming
		}
		baseDir := cfg.AgentBaseDir(agentCfg)

		rt, err := runtime.NewAgentRuntime(runtime.AgentRuntimeOptions{
			Agent:            llmAgent,
			Events:           eventLog,
			Projection:       proj,
			Tasks:            taskService,
			Conversation:     conv,
			Handler:          handler,
			LLM:              llmClient,
			Registry:         registry,
			UI:               ui,
			BaseDir:          baseDir,
			SkillsDir:        filepath.Join(baseDir, "skills"),
			Policy:           tools.PolicyMode(cfg.Policy.Mode),
			StreamingEnabled: streaming,
		})
		if err != nil {
			slog.Error("Failed to create agent runtime", "agent_id", agentID, "error", err)
			os.Exit(1)
		}
		if err := manager.Register(rt); err != nil {
			slog.Error("Failed to register agent runtime", "agent_id", agentID, "error", err)
			os.Exit(1)
		}
	}

	// 8. Audit entries surface on the UI stream
	unsubAudit := auditLog.Subscribe(func(entry models.AuditEntry) {
		ui.Publish(runtime.UIEvent{
			Type:   runtime.UIAuditEntry,
			TaskID: entry.Payload.TaskID,
			Data: map[string]any{
				"auditType":  string(entry.Type),
				"toolCallId": entry.Payload.ToolCallID,
				"toolName":   entry.Payload.ToolName,
				"isError":    entry.Payload.IsError,
			},
		})
	})
	defer unsubAudit()

	// 9. Start runtimes, re-drive tasks that were in flight at crash time
	manager.StartAll()
	manager.RecoverInFlight(proj)

	// 10. Start HTTP server (non-blocking)
	server := api.NewServer(api.Options{
		Config:     cfg,
		Tasks:      taskService,
		Projection: proj,
		Conv:       conv,
		Events:     eventLog,
		UI:         ui,
		Agents:     manager,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Listen
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("loomd started", "agents", stats.Agents, "mcp_servers", stats.MCPServers)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop driving agents before closing anything
	manager.StopAll()

	if err := proj.SaveSnapshot(snapshots); err != nil {
		slog.Error("Failed to save projection snapshot", "error", err)
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
