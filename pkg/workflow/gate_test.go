package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/workflow"
)

func TestGateDeniesByPolicy(t *testing.T) {
	ctx := context.Background()

	tmpDir := t.TempDir()
	policy := `package tool_gate

deny contains "literature search is disabled during validation" if {
	input.stage == "validating"
	input.tool == "search_pubmed"
}

deny contains "queries must name a gene" if {
	input.tool == "search_gwas"
	input.args.gene == ""
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(tmpDir, "gate.rego"), []byte(policy), 0644))

	gate, err := workflow.New(ctx, tmpDir)
	gt.NoError(t, err)

	// allowed: different stage
	gt.NoError(t, gate.Allow(ctx, model.StateResearching, "search_pubmed", map[string]any{"term": "obesity"}))

	// denied: matching stage + tool
	err = gate.Allow(ctx, model.StateValidating, "search_pubmed", map[string]any{"term": "obesity"})
	gt.Error(t, err)

	// denied: bad argument
	err = gate.Allow(ctx, model.StateResearching, "search_gwas", map[string]any{"gene": ""})
	gt.Error(t, err)
}

func TestGateAllowsAllWithoutPolicies(t *testing.T) {
	ctx := context.Background()

	gate, err := workflow.New(ctx, "")
	gt.NoError(t, err)
	gt.NoError(t, gate.Allow(ctx, model.StateResearching, "anything", nil))

	// an empty directory behaves the same
	gate, err = workflow.New(ctx, t.TempDir())
	gt.NoError(t, err)
	gt.NoError(t, gate.Allow(ctx, model.StateValidating, "anything", map[string]any{"x": 1}))
}

func TestGateNilIsAllowAll(t *testing.T) {
	var gate *workflow.Gate
	gt.NoError(t, gate.Allow(context.Background(), model.StateResearching, "search_pubmed", nil))
}
