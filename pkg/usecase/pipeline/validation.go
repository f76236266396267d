package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/validate.md
var validatePromptRaw string

var validatePromptTmpl = template.Must(template.New("validate").Parse(validatePromptRaw))

// validate corroborates or refutes each open hypothesis with further tool
// calls, bounded per hypothesis. A hypothesis is validated only when at
// least two distinct evidence categories support it; a single category
// leaves it open. A failed hypothesis check never fails the stage.
func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	for _, h := range r.hypothesesView() {
		if h.Status != model.HypothesisOpen {
			continue
		}
		if ctx.Err() != nil {
			return goerr.Wrap(model.ErrBudgetExceeded, "validation interrupted by budget")
		}
		if err := o.validateOne(ctx, r, h); err != nil {
			if model.IsBudgetExceeded(err) {
				return err
			}
			logging.From(ctx).Warn("hypothesis validation failed, leaving open",
				"hypothesis", h.ID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) validateOne(ctx context.Context, r *run, h *model.Hypothesis) error {
	entity := entityLabel(r, h.EntityID)
	var buf bytes.Buffer
	if err := validatePromptTmpl.Execute(&buf, map[string]any{
		"Query":       r.query,
		"Entity":      entity,
		"Rationale":   h.Rationale,
		"ToolPrompts": o.registry.Prompts(ctx),
		"CallBudget":  r.budgets.ValidationCallsPerHypothesis,
	}); err != nil {
		return goerr.Wrap(err, "failed to render validation prompt")
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
		genai.NewContentFromText("Corroborate or refute: "+h.Rationale, genai.RoleUser),
	}

	callsMade := 0
	for callsMade < r.budgets.ValidationCallsPerHypothesis {
		resp, err := o.gemini.GenerateContent(ctx, contents, config)
		if err != nil {
			if ctx.Err() != nil {
				return goerr.Wrap(model.ErrBudgetExceeded, "validation interrupted by budget")
			}
			return goerr.Wrap(err, "validation generation failed")
		}

		var calls []toolCall
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			contents = append(contents, candidate.Content)
			for _, part := range candidate.Content.Parts {
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
		if remaining := r.budgets.ValidationCallsPerHypothesis - callsMade; len(calls) > remaining {
			calls = calls[:remaining]
		}

		outcomes, err := o.dispatch(ctx, r, model.StateValidating, calls)
		if err != nil {
			return err
		}
		callsMade += len(outcomes)

		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: functionResponses(outcomes),
		})
	}

	verdict, err := o.verdict(ctx, contents)
	if err != nil {
		return err
	}

	// corroboration is judged over all evidence categories recorded for the
	// entity, including what validation itself just gathered
	supporting := evidenceCategories(r.agg, h.EntityID)

	// h is a view copy; the verdict lands on the stored hypothesis
	now := time.Now()
	return r.updateHypothesis(h.ID, func(stored *model.Hypothesis) error {
		switch {
		case verdict == "refuted":
			return stored.Resolve(model.HypothesisRefuted, now)
		case verdict == "supported" && len(supporting) >= 2:
			stored.SupportingCategories = supporting
			return stored.Resolve(model.HypothesisValidated, now)
		default:
			// single-category support keeps the hypothesis open
			return nil
		}
	})
}

// verdict asks the model for its final judgement over the validation
// transcript.
func (o *Orchestrator) verdict(ctx context.Context, contents []*genai.Content) (string, error) {
	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"verdict": {
					Type: genai.TypeString,
					Enum: []string{"supported", "refuted", "inconclusive"},
				},
				"reason": {
					Type: genai.TypeString,
				},
			},
			Required: []string{"verdict"},
		},
	}

	contents = append(contents, genai.NewContentFromText(
		"Give your final verdict on the hypothesis based on the evidence above.", genai.RoleUser))

	resp, err := o.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		if ctx.Err() != nil {
			return "", goerr.Wrap(model.ErrBudgetExceeded, "verdict interrupted by budget")
		}
		return "", goerr.Wrap(err, "verdict generation failed")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("invalid response structure from gemini")
	}

	var parsed struct {
		Verdict string `json:"verdict"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(resp.Candidates[0].Content.Parts[0].Text), &parsed); err != nil {
		return "", goerr.Wrap(err, "failed to unmarshal verdict")
	}
	return parsed.Verdict, nil
}

func entityLabel(r *run, id model.EntityID) string {
	for _, e := range r.agg.Entities() {
		if e.ID == id {
			if e.Symbol != "" {
				return e.Symbol
			}
			return string(e.ID)
		}
	}
	return string(id)
}
