package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
)

func newTestRun(budgets model.Budgets) *run {
	return newRun("which genes drive obesity?", budgets,
		tool.NewInvoker(tool.New(), tool.NewCache(time.Minute), nil, budgets))
}

// Concurrent workers feeding the same entity must not reorder its evidence
// stream: subscribers see records in the order the aggregator stored them.
func TestIngestPublishesInAggregatorOrder(t *testing.T) {
	budgets := model.DefaultBudgets()
	o := New(nil, tool.New(), WithBudgets(budgets))
	r := newTestRun(budgets)
	gt.NoError(t, o.broadcaster.Open(r.id, r.snapshot))
	o.runs.put(r)

	ch, err := o.Subscribe(context.Background(), r.id)
	gt.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record := &model.ToolCallRecord{ID: model.NewCallID(), Tool: "mock_source"}
			result := &tool.Result{Findings: []*tool.Finding{{
				Entity:   tool.EntityRef{ID: "fto", Symbol: "FTO", Kind: model.EntityKindGene},
				Category: model.CategoryNarrative,
				Payload:  model.EvidencePayload{Narrative: "FTO sighting"},
			}}}
			o.ingest(context.Background(), r, result, record)
		}()
	}
	wg.Wait()
	o.broadcaster.Close(r.id)

	var published []model.EvidenceID
	for ev := range ch {
		if ev.Type == model.EventEvidenceAdded {
			published = append(published, ev.Evidence.ID)
		}
	}

	id, ok := r.agg.Resolve(tool.EntityRef{ID: "fto"})
	gt.True(t, ok)
	stored := r.agg.EvidenceFor(id)
	gt.A(t, published).Length(len(stored))
	for i, rec := range stored {
		gt.Equal(t, published[i], rec.ID)
	}
}

// Snapshots and views hand out value copies, so resolving a hypothesis
// mid-run cannot be observed through an earlier snapshot.
func TestSnapshotDetachedFromLiveHypotheses(t *testing.T) {
	r := newTestRun(model.DefaultBudgets())
	h := &model.Hypothesis{
		ID:         model.NewHypothesisID(),
		EntityID:   "fto",
		Rationale:  "FTO variants alter IRX3 expression",
		Confidence: model.ConfidenceMedium,
		Status:     model.HypothesisOpen,
		CreatedAt:  time.Now(),
	}
	r.addHypotheses([]*model.Hypothesis{h})

	view := r.hypothesesView()
	before := r.snapshot()

	gt.NoError(t, r.updateHypothesis(h.ID, func(stored *model.Hypothesis) error {
		stored.SupportingCategories = []model.EvidenceCategory{
			model.CategoryStatistical, model.CategoryFunctional,
		}
		return stored.Resolve(model.HypothesisValidated, time.Now())
	}))

	gt.Equal(t, view[0].Status, model.HypothesisOpen)
	gt.Equal(t, before.Hypotheses[0].Status, model.HypothesisOpen)
	gt.Nil(t, before.Hypotheses[0].ResolvedAt)
	gt.A(t, before.Hypotheses[0].SupportingCategories).Length(0)

	after := r.snapshot()
	gt.Equal(t, after.Hypotheses[0].Status, model.HypothesisValidated)
	gt.V(t, after.Hypotheses[0].ResolvedAt).NotNil()
}

func TestUpdateHypothesisUnknownID(t *testing.T) {
	r := newTestRun(model.DefaultBudgets())
	err := r.updateHypothesis(model.NewHypothesisID(), func(*model.Hypothesis) error {
		return nil
	})
	gt.Error(t, err)
}
