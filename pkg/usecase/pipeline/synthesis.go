package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/adapter"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/synthesize.md
var synthesizePromptRaw string

var synthesizePromptTmpl = template.Must(template.New("synthesize").Parse(synthesizePromptRaw))

const topHitLimit = 10

// synthesize produces the final narrative report over whatever evidence has
// accumulated. It must never hard-fail for lack of narrative capability: a
// generation error falls back to a mechanical summary, because even a
// degraded or failing run owes the caller its partial results.
func (o *Orchestrator) synthesize(ctx context.Context, r *run) error {
	hypotheses := r.hypothesesView()
	ranking := r.agg.Rank(hypotheses)

	topHits := make([]string, 0, topHitLimit)
	rankedLines := make([]string, 0, topHitLimit)
	for _, ranked := range ranking {
		if len(topHits) >= topHitLimit {
			break
		}
		label := ranked.Symbol
		if label == "" {
			label = string(ranked.EntityID)
		}
		topHits = append(topHits, label)
		rankedLines = append(rankedLines, fmt.Sprintf("%d. %s (score %.1f, confidence %s, %d evidence categories)",
			ranked.Rank, label, ranked.Score, ranked.Confidence, ranked.CategoryCount()))
	}

	openQuestions := make([]string, 0)
	for _, h := range hypotheses {
		if h.Status == model.HypothesisOpen {
			openQuestions = append(openQuestions, h.Rationale)
		}
	}

	conflicts := make([]string, 0)
	for _, e := range r.agg.Entities() {
		for _, note := range e.MergeNotes {
			conflicts = append(conflicts, string(e.ID)+" "+note)
		}
	}

	r.mu.Lock()
	incomplete := r.incomplete
	r.mu.Unlock()

	summary, err := o.narrative(ctx, r, rankedLines, openQuestions, conflicts, incomplete)
	if err != nil {
		logging.From(ctx).Warn("narrative generation failed, using fallback summary", "error", err)
		summary = fallbackSummary(r.query, rankedLines, incomplete)
	}

	report := &model.Report{
		Query:         r.query,
		Summary:       summary,
		TopHits:       topHits,
		OpenQuestions: openQuestions,
		Incomplete:    incomplete,
		Cost:          model.SummarizeCalls(r.invoker.Records()),
		ExecutionTime: time.Since(r.startedAt),
		GeneratedAt:   time.Now(),
	}

	r.mu.Lock()
	r.report = report
	r.mu.Unlock()
	return nil
}

func (o *Orchestrator) narrative(ctx context.Context, r *run, rankedLines, openQuestions, conflicts []string, incomplete bool) (string, error) {
	var buf bytes.Buffer
	if err := synthesizePromptTmpl.Execute(&buf, map[string]any{
		"Query":         r.query,
		"Ranking":       rankedLines,
		"OpenQuestions": openQuestions,
		"Conflicts":     conflicts,
		"Incomplete":    incomplete,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render synthesis prompt")
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(r.budgets.MaxOutputTokens),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	resp, err := o.gemini.GenerateContent(ctx, []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}, config)
	if err != nil {
		return "", err
	}
	return adapter.TextFromResponse(resp)
}

func fallbackSummary(query string, rankedLines []string, incomplete bool) string {
	var b strings.Builder
	b.WriteString("Ranked candidates for: " + query + "\n")
	if incomplete {
		b.WriteString("(partial results: the run ended before completing all stages)\n")
	}
	if len(rankedLines) == 0 {
		b.WriteString("No evidence-backed candidates were found.\n")
		return b.String()
	}
	for _, line := range rankedLines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
