package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/config"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// startTestServer creates an in-memory MCP server with the given tools and
// runs it in the background. Returns the client-side transport.
func startTestServer(t *testing.T, name string, handlers map[string]mcpsdk.ToolHandler) *mcpsdk.InMemoryTransport {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: name, Version: "test",
	}, nil)

	for toolName, handler := range handlers {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()
	return clientTransport
}

// connectClient creates a Client with a pre-wired in-memory transport,
// bypassing the registry/createTransport path.
func connectClient(t *testing.T, registry *config.MCPServerRegistry, serverID string, transport *mcpsdk.InMemoryTransport) *Client {
	t.Helper()

	client := NewClient(registry)
	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "loom-test", Version: "test",
	}, nil)

	session, err := sdkClient.Connect(context.Background(), transport, nil)
	require.NoError(t, err)

	client.InjectSession(serverID, sdkClient, session)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func echoHandler(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var parsed map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &parsed); err != nil {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "parse error"}},
			IsError: true,
		}, nil
	}
	msg, _ := parsed["message"].(string)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo: " + msg}},
	}, nil
}

func TestClientListTools(t *testing.T) {
	transport := startTestServer(t, "files", map[string]mcpsdk.ToolHandler{
		"stat": echoHandler,
		"head": echoHandler,
	})
	client := connectClient(t, config.NewMCPServerRegistry(nil), "files", transport)

	defs, err := client.ListTools(context.Background(), "files")
	require.NoError(t, err)
	require.Len(t, defs, 2)

	names := []string{defs[0].Name, defs[1].Name}
	assert.Contains(t, names, "stat")
	assert.Contains(t, names, "head")
}

func TestClientListToolsNoSession(t *testing.T) {
	client := NewClient(config.NewMCPServerRegistry(nil))
	_, err := client.ListTools(context.Background(), "ghost")
	require.ErrorContains(t, err, "no session")
}

func TestClientCallTool(t *testing.T) {
	transport := startTestServer(t, "files", map[string]mcpsdk.ToolHandler{
		"echo": echoHandler,
	})
	client := connectClient(t, config.NewMCPServerRegistry(nil), "files", transport)

	result, err := client.CallTool(context.Background(), "files", "echo",
		map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "echo: hi", flattenContent(result.Content))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{"nil", nil, NoRetry},
		{"context canceled", context.Canceled, NoRetry},
		{"deadline exceeded", context.DeadlineExceeded, NoRetry},
		{"eof", io.EOF, RetryNewSession},
		{"connection refused", errors.New("dial tcp: connection refused"), RetryNewSession},
		{"broken pipe", errors.New("write: broken pipe"), RetryNewSession},
		{"protocol error", errors.New("jsonrpc: invalid params"), NoRetry},
		{"unknown", errors.New("something odd"), NoRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
