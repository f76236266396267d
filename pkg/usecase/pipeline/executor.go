package pipeline

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/m-mizutani/mandrake/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

// toolCall is one planned adapter invocation within a stage.
type toolCall struct {
	name string
	args map[string]any
}

// callOutcome pairs a planned call with its result. A failed call keeps its
// error; the stage records and skips it instead of failing.
type callOutcome struct {
	call   toolCall
	result *tool.Result
	record *model.ToolCallRecord
	err    error
}

// dispatch runs a batch of tool calls concurrently, bounded by the worker
// budget, and folds every successful result into the run. Outcomes come back
// in input order. The batch as a whole errors only when the run was
// cancelled; individual failures are recorded and skipped.
func (o *Orchestrator) dispatch(ctx context.Context, r *run, stage model.PipelineState, calls []toolCall) ([]*callOutcome, error) {
	outcomes := make([]*callOutcome, len(calls))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.budgets.Workers)
	for i, c := range calls {
		g.Go(func() error {
			result, record, err := r.invoker.Invoke(groupCtx, stage, c.name, c.args)
			outcomes[i] = &callOutcome{call: c, result: result, record: record, err: err}
			if err != nil {
				logging.From(ctx).Warn("tool call failed",
					"stage", stage, "tool", c.name, "error", err)
				return nil
			}
			o.ingest(groupCtx, r, result, record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	if ctx.Err() != nil {
		return outcomes, goerr.Wrap(model.ErrBudgetExceeded, "run budget expired mid-stage")
	}
	return outcomes, nil
}

// functionResponses converts outcomes into the parts fed back to the model.
// Successes carry the findings as JSON; failures carry the error message so
// the model can route around a dead source.
func functionResponses(outcomes []*callOutcome) []*genai.Part {
	parts := make([]*genai.Part, 0, len(outcomes))
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		resp := &genai.FunctionResponse{Name: out.call.name}
		if out.err != nil {
			resp.Response = map[string]any{"error": out.err.Error()}
		} else {
			resp.Response = map[string]any{"result": findingsJSON(out.result)}
		}
		parts = append(parts, &genai.Part{FunctionResponse: resp})
	}
	return parts
}

func findingsJSON(result *tool.Result) string {
	if result == nil || len(result.Findings) == 0 {
		return "[]"
	}
	data, err := json.Marshal(result.Findings)
	if err != nil {
		return "[]"
	}
	return string(data)
}
