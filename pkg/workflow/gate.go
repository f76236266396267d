package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// regoPrintHook implements print.Hook interface for Rego print() statements
type regoPrintHook struct{}

func (h *regoPrintHook) Print(ctx print.Context, message string) error {
	fmt.Printf("   [Rego] %s\n", message)
	return nil
}

// Gate evaluates each tool call against Rego policies before dispatch. The
// policy sees `input.stage`, `input.tool` and `input.args` and denies the
// call by adding reasons to a `deny` set under `package tool_gate`. With no
// policy files loaded every call is allowed.
type Gate struct {
	policy *rego.PreparedEvalQuery
}

// New loads all .rego files from policyDir and prepares the gate query. An
// empty policyDir or a directory without policy files yields an allow-all
// gate.
func New(ctx context.Context, policyDir string) (*Gate, error) {
	if policyDir == "" {
		return &Gate{}, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	if len(files) == 0 {
		return &Gate{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+1)
	options = append(options, rego.Query("data.tool_gate"))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.Value("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare tool gate query")
	}

	return &Gate{policy: &prepared}, nil
}

// Allow returns nil when the call may proceed, or an error carrying the
// policy's deny reasons.
func (g *Gate) Allow(ctx context.Context, stage model.PipelineState, tool string, args map[string]any) error {
	if g == nil || g.policy == nil {
		return nil
	}

	input := map[string]any{
		"stage": string(stage),
		"tool":  tool,
		"args":  args,
	}

	rs, err := g.policy.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{}))
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate tool gate policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil
	}
	denyData, ok := data["deny"]
	if !ok {
		return nil
	}
	denies, ok := denyData.([]any)
	if !ok {
		return goerr.New("invalid gate result: deny is not an array")
	}
	if len(denies) == 0 {
		return nil
	}

	reasons := make([]string, 0, len(denies))
	for _, d := range denies {
		reasons = append(reasons, fmt.Sprint(d))
	}
	return goerr.New("tool call denied by policy",
		goerr.Value("tool", tool),
		goerr.Value("stage", stage),
		goerr.Value("reasons", reasons),
	)
}
