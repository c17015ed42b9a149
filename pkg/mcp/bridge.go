package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/tools"
)

// Bridge populates the tool registry's dynamic namespaces from connected MCP
// servers. One namespace per server, replaced wholesale on each sync.
type Bridge struct {
	client   *Client
	servers  *config.MCPServerRegistry
	registry *tools.Registry
	logger   *slog.Logger
}

// NewBridge creates a bridge over a connected client.
func NewBridge(client *Client, servers *config.MCPServerRegistry, registry *tools.Registry) *Bridge {
	return &Bridge{
		client:   client,
		servers:  servers,
		registry: registry,
		logger:   slog.Default(),
	}
}

// Sync lists the tools of every connected server and replaces its namespace
// in the registry. Servers without a session are skipped; a listing failure
// leaves that server's previous namespace untouched.
func (b *Bridge) Sync(ctx context.Context) {
	for _, serverID := range b.servers.IDs() {
		if !b.client.HasSession(serverID) {
			continue
		}
		if err := b.SyncServer(ctx, serverID); err != nil {
			b.logger.Warn("Failed to sync MCP server tools", "server", serverID, "error", err)
		}
	}
}

// SyncServer replaces one server's namespace with its currently advertised
// tools.
func (b *Bridge) SyncServer(ctx context.Context, serverID string) error {
	serverCfg, err := b.servers.Get(serverID)
	if err != nil {
		return err
	}

	defs, err := b.client.ListTools(ctx, serverID)
	if err != nil {
		return err
	}

	risky := serverCfg.Risk != "safe"
	wrapped := make([]tools.Tool, len(defs))
	for i, def := range defs {
		wrapped[i] = &serverTool{
			client:       b.client,
			serverID:     serverID,
			def:          def,
			risky:        risky,
			instructions: serverCfg.Instructions,
		}
	}
	if err := b.registry.SetNamespace(serverID, wrapped); err != nil {
		return err
	}

	b.logger.Info("MCP server tools registered", "server", serverID, "tools", len(wrapped))
	return nil
}

// serverTool adapts one MCP-advertised tool to the registry's tool contract.
// The registered name is "<serverID>.<toolName>".
type serverTool struct {
	client       *Client
	serverID     string
	def          *mcpsdk.Tool
	risky        bool
	instructions string
}

func (t *serverTool) Name() string {
	return t.serverID + "." + t.def.Name
}

func (t *serverTool) Description() string {
	desc := t.def.Description
	if t.instructions != "" {
		desc = strings.TrimSpace(desc + "\n\n" + t.instructions)
	}
	return desc
}

func (t *serverTool) Group() string { return t.serverID }

func (t *serverTool) Parameters() map[string]any {
	raw, err := json.Marshal(t.def.InputSchema)
	if err != nil || string(raw) == "null" {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}

func (t *serverTool) RiskLevel(_ json.RawMessage, tc *tools.Context) tools.RiskLevel {
	if tc != nil && tc.Policy == tools.PolicyYolo {
		return tools.RiskSafe
	}
	if t.risky {
		return tools.RiskRisky
	}
	return tools.RiskSafe
}

func (t *serverTool) Execute(ctx context.Context, args json.RawMessage, _ *tools.Context) (*tools.Result, error) {
	var decoded map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, fmt.Errorf("parsing arguments: %w", err)
		}
	}

	result, err := t.client.CallTool(ctx, t.serverID, t.def.Name, decoded)
	if err != nil {
		return nil, err
	}

	content := flattenContent(result.Content)
	if result.IsError {
		if content == "" {
			content = "tool reported an error"
		}
		return tools.ErrorResult(content), nil
	}
	return &tools.Result{Content: content}, nil
}

// flattenContent joins the text parts of an MCP result. Non-text parts are
// noted by type rather than dropped silently.
func flattenContent(parts []mcpsdk.Content) string {
	var sb strings.Builder
	for _, part := range parts {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		switch p := part.(type) {
		case *mcpsdk.TextContent:
			sb.WriteString(p.Text)
		default:
			sb.WriteString(fmt.Sprintf("[unsupported content type %T]", part))
		}
	}
	return sb.String()
}
