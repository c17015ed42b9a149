package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/tools"
)

func newTestBridge(t *testing.T, serverCfg *config.MCPServerConfig, handlers map[string]mcpsdk.ToolHandler) (*Bridge, *tools.Registry) {
	t.Helper()

	transport := startTestServer(t, "kubernetes", handlers)
	servers := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"kubernetes": serverCfg,
	})
	client := connectClient(t, servers, "kubernetes", transport)

	registry := tools.NewRegistry()
	return NewBridge(client, servers, registry), registry
}

func TestBridgeSync(t *testing.T) {
	bridge, registry := newTestBridge(t, &config.MCPServerConfig{}, map[string]mcpsdk.ToolHandler{
		"get_pods": echoHandler,
	})

	bridge.Sync(context.Background())

	tool, ok := registry.Lookup("kubernetes.get_pods")
	require.True(t, ok, "namespaced tool should be registered")
	assert.Equal(t, "kubernetes", tool.Group())
	assert.Equal(t, "object", tool.Parameters()["type"])

	result, err := tool.Execute(context.Background(),
		json.RawMessage(`{"message":"pods"}`), &tools.Context{})
	require.NoError(t, err)
	assert.Equal(t, "echo: pods", result.Content)
}

func TestBridgeRiskMapping(t *testing.T) {
	t.Run("default is risky", func(t *testing.T) {
		bridge, registry := newTestBridge(t, &config.MCPServerConfig{}, map[string]mcpsdk.ToolHandler{
			"delete_pod": echoHandler,
		})
		bridge.Sync(context.Background())

		tool, ok := registry.Lookup("kubernetes.delete_pod")
		require.True(t, ok)
		assert.Equal(t, tools.RiskRisky, tool.RiskLevel(nil, &tools.Context{Policy: tools.PolicyDefault}))
	})

	t.Run("safe server stays safe", func(t *testing.T) {
		bridge, registry := newTestBridge(t, &config.MCPServerConfig{Risk: "safe"}, map[string]mcpsdk.ToolHandler{
			"get_pods": echoHandler,
		})
		bridge.Sync(context.Background())

		tool, ok := registry.Lookup("kubernetes.get_pods")
		require.True(t, ok)
		assert.Equal(t, tools.RiskSafe, tool.RiskLevel(nil, &tools.Context{Policy: tools.PolicyDefault}))
	})

	t.Run("yolo overrides risky", func(t *testing.T) {
		bridge, registry := newTestBridge(t, &config.MCPServerConfig{}, map[string]mcpsdk.ToolHandler{
			"delete_pod": echoHandler,
		})
		bridge.Sync(context.Background())

		tool, ok := registry.Lookup("kubernetes.delete_pod")
		require.True(t, ok)
		assert.Equal(t, tools.RiskSafe, tool.RiskLevel(nil, &tools.Context{Policy: tools.PolicyYolo}))
	})
}

func TestBridgeInstructionsAppended(t *testing.T) {
	bridge, registry := newTestBridge(t,
		&config.MCPServerConfig{Instructions: "Prefer read-only calls."},
		map[string]mcpsdk.ToolHandler{"get_pods": echoHandler})
	bridge.Sync(context.Background())

	tool, ok := registry.Lookup("kubernetes.get_pods")
	require.True(t, ok)
	assert.Contains(t, tool.Description(), "Prefer read-only calls.")
}

func TestBridgeErrorResult(t *testing.T) {
	bridge, registry := newTestBridge(t, &config.MCPServerConfig{Risk: "safe"}, map[string]mcpsdk.ToolHandler{
		"boom": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "it broke"}},
				IsError: true,
			}, nil
		},
	})
	bridge.Sync(context.Background())

	tool, ok := registry.Lookup("kubernetes.boom")
	require.True(t, ok)

	result, err := tool.Execute(context.Background(), nil, &tools.Context{})
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Equal(t, "it broke", result.Error)
}
