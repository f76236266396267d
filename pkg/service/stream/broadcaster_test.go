package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/service/stream"
)

func testSnapshot(id model.PipelineID, state model.PipelineState) stream.SnapshotFunc {
	return func() *model.Snapshot {
		return &model.Snapshot{
			PipelineID: id,
			State:      state,
			TakenAt:    time.Now(),
		}
	}
}

func TestSubscribeStartsWithSnapshot(t *testing.T) {
	b := stream.New()
	id := model.NewPipelineID()
	gt.NoError(t, b.Open(id, testSnapshot(id, model.StateResearching)))

	ch, err := b.Subscribe(context.Background(), id)
	gt.NoError(t, err)

	ev := <-ch
	gt.Equal(t, ev.Type, model.EventSnapshot)
	gt.V(t, ev.Snapshot).NotNil()
	gt.Equal(t, ev.Snapshot.State, model.StateResearching)
}

func TestSubscribeUnknownPipeline(t *testing.T) {
	b := stream.New()
	_, err := b.Subscribe(context.Background(), model.NewPipelineID())
	gt.Error(t, err)
	gt.True(t, model.IsPipelineNotFound(err))
}

func TestPublishPreservesOrder(t *testing.T) {
	b := stream.New()
	id := model.NewPipelineID()
	gt.NoError(t, b.Open(id, testSnapshot(id, model.StateResearching)))

	ch, err := b.Subscribe(context.Background(), id)
	gt.NoError(t, err)

	entity := model.EntityID("mc4r")
	records := make([]*model.EvidenceRecord, 5)
	for i := range records {
		records[i] = &model.EvidenceRecord{
			ID:       model.NewEvidenceID(),
			EntityID: entity,
			Category: model.CategoryStatistical,
		}
		b.Publish(&model.PipelineEvent{
			Type:       model.EventEvidenceAdded,
			PipelineID: id,
			EntityID:   entity,
			Evidence:   records[i],
		})
	}
	b.Close(id)

	ev := <-ch
	gt.Equal(t, ev.Type, model.EventSnapshot)

	got := make([]*model.PipelineEvent, 0, 5)
	for ev := range ch {
		got = append(got, ev)
	}
	gt.A(t, got).Length(5)
	for i, ev := range got {
		gt.Equal(t, ev.Type, model.EventEvidenceAdded)
		gt.Equal(t, ev.Evidence.ID, records[i].ID)
	}
}

func TestCloseDrainsBeforeChannelCloses(t *testing.T) {
	b := stream.New()
	id := model.NewPipelineID()
	gt.NoError(t, b.Open(id, testSnapshot(id, model.StateSynthesizing)))

	ch, err := b.Subscribe(context.Background(), id)
	gt.NoError(t, err)

	b.Publish(&model.PipelineEvent{Type: model.EventStageCompleted, PipelineID: id, Stage: model.StateSynthesizing})
	b.Publish(&model.PipelineEvent{Type: model.EventPipelineDone, PipelineID: id})
	b.Close(id)

	var types []model.EventType
	for ev := range ch {
		types = append(types, ev.Type)
	}
	gt.A(t, types).Length(3)
	gt.Equal(t, types[2], model.EventPipelineDone)
}

func TestLateSubscriberGetsFinalSnapshot(t *testing.T) {
	b := stream.New()
	id := model.NewPipelineID()
	gt.NoError(t, b.Open(id, testSnapshot(id, model.StateDone)))
	b.Close(id)

	ch, err := b.Subscribe(context.Background(), id)
	gt.NoError(t, err)

	ev := <-ch
	gt.Equal(t, ev.Type, model.EventSnapshot)
	gt.Equal(t, ev.Snapshot.State, model.StateDone)

	_, open := <-ch
	gt.False(t, open)
}

func TestCancelledSubscriberStops(t *testing.T) {
	b := stream.New()
	id := model.NewPipelineID()
	gt.NoError(t, b.Open(id, testSnapshot(id, model.StateResearching)))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, id)
	gt.NoError(t, err)

	<-ch // snapshot
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("channel did not close after cancel")
		}
	}
}
