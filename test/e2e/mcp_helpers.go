package e2e

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/surveyor/pkg/mcp"
)

// toolInputSchema is the minimal valid JSON Schema every test tool declares.
var toolInputSchema = json.RawMessage(`{"type":"object"}`)

// startInMemoryMCPServer runs an MCP SDK server over an in-memory transport
// and returns the client side of the transport pair.
func startInMemoryMCPServer(t *testing.T, serverID string, tools map[string]mcpsdk.ToolHandler) *mcpsdk.InMemoryTransport {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: serverID, Version: "e2e",
	}, nil)
	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "e2e tool: " + toolName,
			InputSchema: toolInputSchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()
	return clientTransport
}

// connectInMemorySession dials the in-memory transport and injects the
// resulting session into the surveyor MCP client under serverID.
func connectInMemorySession(t *testing.T, c *mcp.Client, serverID string, transport *mcpsdk.InMemoryTransport) {
	t.Helper()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "surveyor-e2e", Version: "e2e",
	}, nil)
	session, err := sdkClient.Connect(context.Background(), transport, nil)
	require.NoError(t, err)
	c.InjectSession(serverID, sdkClient, session)
}

// StaticToolHandler returns a handler that always answers with the given
// text, regardless of arguments.
func StaticToolHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}
