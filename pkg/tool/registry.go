package tool

import (
	"context"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Registry indexes tools by the function names they declare. One tool
// may declare several functions (a data source usually exposes a few
// related operations); the registry routes each function name back to
// its owner.
type Registry struct {
	list   []Tool
	byName map[string]Tool
	specs  []*genai.Tool
}

// New builds a registry over the given tools. Tools without function
// declarations (e.g. an MCP provider with no connected servers) are kept
// for prompts and flags but contribute nothing to the call surface.
func New(tools ...Tool) *Registry {
	r := &Registry{
		list:   tools,
		byName: make(map[string]Tool),
	}
	for _, t := range tools {
		spec := t.Spec()
		if spec == nil || len(spec.FunctionDeclarations) == 0 {
			continue
		}
		r.specs = append(r.specs, spec)
		for _, decl := range spec.FunctionDeclarations {
			r.byName[decl.Name] = t
		}
	}
	return r
}

// Specs returns the declarations handed to the model for function calling.
func (r *Registry) Specs() []*genai.Tool {
	return r.specs
}

// Names returns every callable function name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prompts joins the per-tool system prompt fragments.
func (r *Registry) Prompts(ctx context.Context) string {
	var parts []string
	for _, t := range r.list {
		if p := t.Prompt(ctx); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Flags collects CLI flags of all tools.
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.list {
		flags = append(flags, t.Flags()...)
	}
	return flags
}

// Execute routes the named function to the tool that declared it.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unknown tool function", goerr.V("name", name))
	}
	return t.Execute(ctx, name, args)
}
