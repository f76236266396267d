package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Provider exposes the tools of connected MCP servers as pipeline tool
// adapters. MCP results carry no entity structure, so their findings are
// narrative evidence for the stages to interpret.
type Provider struct {
	client  *Client
	decls   []*genai.FunctionDeclaration
	routing map[string]remoteTool // declaration name -> server/tool
}

type remoteTool struct {
	server string
	tool   string
}

// NewProvider discovers every tool of every connected server and builds
// the combined function declarations. Tool names collide across servers
// on a first-wins basis.
func NewProvider(client *Client) (*Provider, error) {
	p := &Provider{
		client:  client,
		routing: make(map[string]remoteTool),
	}

	for _, serverName := range client.GetAllServers() {
		tools, err := client.GetTools(serverName)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			if _, ok := p.routing[t.Name]; ok {
				continue
			}
			decl, err := declarationFor(t)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert MCP tool",
					goerr.V("server", serverName), goerr.V("tool", t.Name))
			}
			p.decls = append(p.decls, decl)
			p.routing[t.Name] = remoteTool{server: serverName, tool: t.Name}
		}
	}

	return p, nil
}

func declarationFor(t *mcp.Tool) (*genai.FunctionDeclaration, error) {
	decl := &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema == nil {
		return decl, nil
	}

	// InputSchema is any; round-trip through JSON to get a typed schema.
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}
	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, goerr.Wrap(err, "failed to decode input schema")
	}
	if decl.Parameters, err = toGenaiSchema(&js); err != nil {
		return nil, err
	}
	return decl, nil
}

// Spec returns the combined declarations, or nil when no tools exist.
func (p *Provider) Spec() *genai.Tool {
	if len(p.decls) == 0 {
		return nil
	}
	return &genai.Tool{FunctionDeclarations: p.decls}
}

func (p *Provider) Prompt(ctx context.Context) string {
	if len(p.decls) == 0 {
		return ""
	}
	return "You have access to MCP (Model Context Protocol) tools that provide additional data sources. Their output is free-form text; mention any gene or pathway it names in your findings."
}

// Flags returns nothing; MCP servers are configured by file, not flags.
func (p *Provider) Flags() []cli.Flag {
	return nil
}

// Execute routes the call to the owning server and maps text content
// into narrative findings.
func (p *Provider) Execute(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	route, ok := p.routing[name]
	if !ok {
		return nil, goerr.Wrap(model.ErrPermanentTool, "no such MCP tool", goerr.V("name", name))
	}

	result, err := p.client.CallTool(ctx, route.server, route.tool, args)
	if err != nil {
		return nil, model.ClassifyToolError(err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal MCP result")
	}

	out := &tool.Result{Raw: raw}
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok && tc.Text != "" {
			out.Findings = append(out.Findings, &tool.Finding{
				Category: model.CategoryNarrative,
				Payload:  model.EvidencePayload{Narrative: tc.Text},
			})
		}
	}
	return out, nil
}
