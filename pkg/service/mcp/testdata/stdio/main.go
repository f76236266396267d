// Minimal stdio MCP server used by the client tests.
package main

import (
	"context"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type aliasParams struct {
	Symbol string `json:"symbol" jsonschema:"Gene symbol to look up"`
}

func geneAliases(ctx context.Context, req *mcp.CallToolRequest, params *aliasParams) (*mcp.CallToolResult, any, error) {
	symbol := strings.ToUpper(params.Symbol)
	if symbol == "" {
		symbol = "UNKNOWN"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: symbol + ": no curated aliases"},
		},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "gene-alias-server",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "gene_aliases",
		Description: "List curated aliases for a gene symbol",
	}, geneAliases)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
