package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"google.golang.org/genai"
)

//go:embed prompt/research.md
var researchPromptRaw string

var researchPromptTmpl = template.Must(template.New("research").Parse(researchPromptRaw))

// research runs the exploratory stage: a small fixed budget of data-source
// calls driven by the model's function calling, including dynamic in-stage
// follow-ups (e.g. expanding to orthologs of an early hit). No entity
// scoring happens here; findings flow into the aggregator as they arrive.
func (o *Orchestrator) research(ctx context.Context, r *run) error {
	var buf bytes.Buffer
	if err := researchPromptTmpl.Execute(&buf, map[string]any{
		"Query":       r.query,
		"ToolPrompts": o.registry.Prompts(ctx),
		"CallBudget":  r.budgets.ResearchCalls,
	}); err != nil {
		return goerr.Wrap(err, "failed to render research prompt")
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buf.String(), ""),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
		Tools: o.registry.Specs(),
	}

	contents := []*genai.Content{
		genai.NewContentFromText(r.query, genai.RoleUser),
	}

	var notes strings.Builder
	callsMade, succeeded := 0, 0

	for callsMade < r.budgets.ResearchCalls {
		resp, err := o.gemini.GenerateContent(ctx, contents, config)
		if err != nil {
			if ctx.Err() != nil {
				return goerr.Wrap(model.ErrBudgetExceeded, "research interrupted by budget")
			}
			return goerr.Wrap(err, "research generation failed")
		}

		var calls []toolCall
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			contents = append(contents, candidate.Content)
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					notes.WriteString(part.Text)
					notes.WriteString("\n")
				}
				if part.FunctionCall != nil {
					calls = append(calls, toolCall{
						name: part.FunctionCall.Name,
						args: part.FunctionCall.Args,
					})
				}
			}
		}

		if len(calls) == 0 {
			break
		}
		if remaining := r.budgets.ResearchCalls - callsMade; len(calls) > remaining {
			calls = calls[:remaining]
		}

		outcomes, err := o.dispatch(ctx, r, model.StateResearching, calls)
		if err != nil {
			return err
		}
		callsMade += len(outcomes)
		for _, out := range outcomes {
			if out != nil && out.err == nil {
				succeeded++
			}
		}

		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: functionResponses(outcomes),
		})
	}

	if callsMade > 0 && succeeded == 0 {
		return goerr.Wrap(model.ErrStageExhausted, "every research call failed",
			goerr.V("calls", callsMade))
	}

	r.mu.Lock()
	r.summary = notes.String()
	r.mu.Unlock()
	return nil
}
