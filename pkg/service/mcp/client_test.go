package mcp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/service/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// newTraitNotesServer starts an in-process HTTP MCP server with one
// echo-style tool.
func newTraitNotesServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "trait-notes",
		Version: "0.1.0",
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "trait_notes",
		Description: "Return curator notes for a trait",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, params *struct {
		Trait string `json:"trait" jsonschema:"Trait name"`
	}) (*mcpsdk.CallToolResult, any, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{
				&mcpsdk.TextContent{Text: "notes on " + params.Trait},
			},
		}, nil, nil
	})

	ts := httptest.NewServer(mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return server
	}, nil))
	t.Cleanup(ts.Close)
	return ts
}

func textOf(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()
	gt.A(t, result.Content).Longer(0)
	tc, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	return tc.Text
}

func TestConnectStdio(t *testing.T) {
	ctx := context.Background()
	client := mcp.NewClient()
	defer client.Close()

	err := client.Connect(ctx, mcp.ServerConfig{
		Name:      "aliases",
		Transport: "stdio",
		Command:   []string{"go", "run", "./testdata/stdio/main.go"},
	})
	gt.NoError(t, err)

	tools, err := client.GetTools("aliases")
	gt.NoError(t, err)
	gt.A(t, tools).Length(1)
	gt.Equal(t, tools[0].Name, "gene_aliases")

	result, err := client.CallTool(ctx, "aliases", "gene_aliases", map[string]any{"symbol": "fto"})
	gt.NoError(t, err)
	gt.Equal(t, textOf(t, result), "FTO: no curated aliases")
}

func TestConnectHTTP(t *testing.T) {
	ctx := context.Background()
	ts := newTraitNotesServer(t)

	client := mcp.NewClient()
	defer client.Close()

	gt.NoError(t, client.Connect(ctx, mcp.ServerConfig{
		Name:      "notes",
		Transport: "http",
		URL:       ts.URL,
	}))

	result, err := client.CallTool(ctx, "notes", "trait_notes", map[string]any{"trait": "obesity"})
	gt.NoError(t, err)
	gt.Equal(t, textOf(t, result), "notes on obesity")
}

func TestMultipleServers(t *testing.T) {
	ctx := context.Background()
	ts := newTraitNotesServer(t)

	client := mcp.NewClient()
	defer client.Close()

	gt.NoError(t, client.Connect(ctx, mcp.ServerConfig{
		Name:      "aliases",
		Transport: "stdio",
		Command:   []string{"go", "run", "./testdata/stdio/main.go"},
	}))
	gt.NoError(t, client.Connect(ctx, mcp.ServerConfig{
		Name:      "notes",
		Transport: "http",
		URL:       ts.URL,
	}))

	// sorted by name
	gt.Equal(t, client.GetAllServers(), []string{"aliases", "notes"})

	result, err := client.CallTool(ctx, "aliases", "gene_aliases", map[string]any{"symbol": "lep"})
	gt.NoError(t, err)
	gt.Equal(t, textOf(t, result), "LEP: no curated aliases")

	result, err = client.CallTool(ctx, "notes", "trait_notes", map[string]any{"trait": "bmi"})
	gt.NoError(t, err)
	gt.Equal(t, textOf(t, result), "notes on bmi")
}

func TestConnectRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	client := mcp.NewClient()
	defer client.Close()

	gt.Error(t, client.Connect(ctx, mcp.ServerConfig{Name: "x", Transport: "carrier-pigeon"}))
	gt.Error(t, client.Connect(ctx, mcp.ServerConfig{Name: "x", Transport: "stdio"}))
	gt.Error(t, client.Connect(ctx, mcp.ServerConfig{Name: "x", Transport: "http"}))

	_, err := client.GetTools("never-connected")
	gt.Error(t, err)
	_, err = client.CallTool(ctx, "never-connected", "anything", nil)
	gt.Error(t, err)
}
