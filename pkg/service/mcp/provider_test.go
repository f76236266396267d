package mcp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/service/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestProviderExecute(t *testing.T) {
	ctx := context.Background()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "test-knowledge-server",
		Version: "1.0.0",
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "describe_gene",
		Description: "Describe a gene in free text",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, params *struct {
		Gene string `json:"gene" jsonschema:"Gene symbol"`
	}) (*mcpsdk.CallToolResult, any, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{
				&mcpsdk.TextContent{Text: params.Gene + " regulates appetite signaling"},
			},
		}, nil, nil
	})

	handler := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return server
	}, nil)
	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	client := mcp.NewClient()
	err := client.Connect(ctx, mcp.ServerConfig{
		Name:      "knowledge",
		Transport: "http",
		URL:       testServer.URL,
	})
	gt.NoError(t, err)
	defer client.Close()

	provider, err := mcp.NewProvider(client)
	gt.NoError(t, err)

	spec := provider.Spec()
	gt.V(t, spec).NotNil()
	gt.A(t, spec.FunctionDeclarations).Length(1)
	gt.Equal(t, spec.FunctionDeclarations[0].Name, "describe_gene")

	result, err := provider.Execute(ctx, "describe_gene", map[string]any{"gene": "mc4r"})
	gt.NoError(t, err)
	gt.A(t, result.Findings).Length(1)
	gt.Equal(t, result.Findings[0].Category, model.CategoryNarrative)
	gt.S(t, result.Findings[0].Payload.Narrative).Contains("appetite")

	_, err = provider.Execute(ctx, "no_such_tool", nil)
	gt.Error(t, err)
	gt.True(t, model.IsPermanent(err))
}
