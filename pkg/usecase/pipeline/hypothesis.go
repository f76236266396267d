package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"google.golang.org/genai"
)

//go:embed prompt/hypothesize.md
var hypothesizePromptRaw string

var hypothesizePromptTmpl = template.Must(template.New("hypothesize").Parse(hypothesizePromptRaw))

// hypothesize turns the research output into candidate hypotheses with a
// rationale and an initial confidence. No external calls; one structured
// generation bounded by the output token budget.
func (o *Orchestrator) hypothesize(ctx context.Context, r *run) error {
	r.mu.Lock()
	summary := r.summary
	r.mu.Unlock()

	entityLines := make([]string, 0)
	for _, e := range r.agg.Entities() {
		line := "- " + string(e.ID)
		if e.Symbol != "" {
			line += " (" + e.Symbol + ")"
		}
		categories := evidenceCategories(r.agg, e.ID)
		if len(categories) > 0 {
			parts := make([]string, len(categories))
			for i, c := range categories {
				parts[i] = string(c)
			}
			line += ": evidence " + strings.Join(parts, ", ")
		}
		entityLines = append(entityLines, line)
	}

	var buf bytes.Buffer
	if err := hypothesizePromptTmpl.Execute(&buf, map[string]any{
		"Query":    r.query,
		"Summary":  summary,
		"Entities": entityLines,
	}); err != nil {
		return goerr.Wrap(err, "failed to render hypothesis prompt")
	}

	thinkingBudget := int32(0)
	maxTokens := int32(r.budgets.MaxOutputTokens)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		MaxOutputTokens:  maxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"hypotheses": {
					Type:        genai.TypeArray,
					Description: "Candidate explanations linking an entity to the question",
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"entity": {
								Type:        genai.TypeString,
								Description: "Gene symbol or identifier from the entity list",
							},
							"rationale": {
								Type:        genai.TypeString,
								Description: "Why this entity may answer the question",
							},
							"confidence": {
								Type: genai.TypeString,
								Enum: []string{"high", "medium", "low"},
							},
							"supporting_refs": {
								Type:        genai.TypeArray,
								Description: "PMIDs or study accessions backing the rationale",
								Items:       &genai.Schema{Type: genai.TypeString},
							},
						},
						Required: []string{"entity", "rationale", "confidence"},
					},
				},
			},
			Required: []string{"hypotheses"},
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}
	resp, err := o.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		if ctx.Err() != nil {
			return goerr.Wrap(model.ErrBudgetExceeded, "hypothesis stage interrupted by budget")
		}
		return goerr.Wrap(err, "hypothesis generation failed")
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return goerr.New("invalid response structure from gemini")
	}
	rawJSON := resp.Candidates[0].Content.Parts[0].Text

	var parsed struct {
		Hypotheses []struct {
			Entity         string   `json:"entity"`
			Rationale      string   `json:"rationale"`
			Confidence     string   `json:"confidence"`
			SupportingRefs []string `json:"supporting_refs"`
		} `json:"hypotheses"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &parsed); err != nil {
		return goerr.Wrap(err, "failed to unmarshal hypotheses", goerr.V("json", rawJSON))
	}

	now := time.Now()
	hypotheses := make([]*model.Hypothesis, 0, len(parsed.Hypotheses))
	for _, h := range parsed.Hypotheses {
		confidence := model.Confidence(h.Confidence)
		if err := confidence.Validate(); err != nil {
			confidence = model.ConfidenceLow
		}

		ref := tool.EntityRef{ID: h.Entity, Symbol: h.Entity}
		entityID, ok := r.agg.Resolve(ref)
		if !ok {
			// a hypothesis may name an entity research never sighted;
			// register it so validation evidence has somewhere to land
			if _, err := r.agg.Ingest(&tool.Finding{Entity: ref}, "hypothesis", ""); err != nil {
				continue
			}
			entityID, _ = r.agg.Resolve(ref)
		}

		hypotheses = append(hypotheses, &model.Hypothesis{
			ID:             model.NewHypothesisID(),
			EntityID:       entityID,
			Rationale:      h.Rationale,
			Confidence:     confidence,
			Status:         model.HypothesisOpen,
			SupportingRefs: h.SupportingRefs,
			CreatedAt:      now,
		})
	}

	if len(hypotheses) == 0 {
		return goerr.New("hypothesis stage produced no candidates")
	}
	r.addHypotheses(hypotheses)
	return nil
}
