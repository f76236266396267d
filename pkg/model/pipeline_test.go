package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/model"
)

func TestStateTransitions(t *testing.T) {
	// forward moves, including skips, are legal
	gt.True(t, model.StatePending.CanTransition(model.StateResearching))
	gt.True(t, model.StateResearching.CanTransition(model.StateHypothesizing))
	gt.True(t, model.StateResearching.CanTransition(model.StateSynthesizing))
	gt.True(t, model.StateValidating.CanTransition(model.StateFailed))

	// backward moves and repeats are not
	gt.False(t, model.StateValidating.CanTransition(model.StateResearching))
	gt.False(t, model.StateHypothesizing.CanTransition(model.StateHypothesizing))

	// terminal states never transition
	gt.False(t, model.StateDone.CanTransition(model.StateFailed))
	gt.False(t, model.StateFailed.CanTransition(model.StateSynthesizing))
}

func TestSnapshotValidate(t *testing.T) {
	snapshot := &model.Snapshot{
		PipelineID: model.NewPipelineID(),
		Query:      "q",
		State:      model.StateDone,
		Evidence: map[model.EntityID][]*model.EvidenceRecord{
			"fto": {{EntityID: "fto", Source: "pubmed", Category: model.CategoryLiterature}},
		},
		TakenAt: time.Now(),
	}
	gt.NoError(t, snapshot.Validate())

	// evidence filed under the wrong entity is rejected
	snapshot.Evidence["lep"] = []*model.EvidenceRecord{{EntityID: "fto"}}
	gt.Error(t, snapshot.Validate())
}

func TestSummarizeCalls(t *testing.T) {
	records := []*model.ToolCallRecord{
		{ID: model.NewCallID(), Latency: 100 * time.Millisecond},
		{ID: model.NewCallID(), Latency: 50 * time.Millisecond, CacheHit: true},
		{ID: model.NewCallID(), Latency: 30 * time.Millisecond, Error: "upstream down"},
	}

	s := model.SummarizeCalls(records)
	gt.Equal(t, s.TotalCalls, 3)
	gt.Equal(t, s.FailedCalls, 1)
	gt.Equal(t, s.CacheHits, 1)
	gt.Equal(t, s.TotalLatency, 180*time.Millisecond)
}
