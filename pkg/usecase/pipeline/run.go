package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/m-mizutani/mandrake/pkg/usecase/evidence"
	"github.com/m-mizutani/mandrake/pkg/utils/logging"
)

// run is the in-memory state of one active pipeline.
type run struct {
	id      model.PipelineID
	query   string
	budgets model.Budgets
	agg     *evidence.Aggregator
	invoker *tool.Invoker

	// ingestMu orders event publication with aggregator updates: findings
	// are folded in and published inside one critical section, so
	// subscribers see per-entity records in aggregation order.
	ingestMu sync.Mutex

	mu         sync.Mutex
	state      model.PipelineState
	hypotheses []*model.Hypothesis
	summary    string // research stage notes handed to the hypothesis stage
	report     *model.Report
	incomplete bool
	failReason string
	startedAt  time.Time
}

func newRun(query string, budgets model.Budgets, invoker *tool.Invoker) *run {
	return &run{
		id:        model.NewPipelineID(),
		query:     query,
		budgets:   budgets,
		agg:       evidence.New(),
		invoker:   invoker,
		state:     model.StatePending,
		startedAt: time.Now(),
	}
}

func (r *run) currentState() model.PipelineState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *run) transition(next model.PipelineState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.CanTransition(next) {
		return goerr.New("illegal state transition",
			goerr.V("from", r.state), goerr.V("to", next))
	}
	r.state = next
	return nil
}

// hypothesesView returns value copies; the stored hypotheses are mutated
// by validation while other goroutines build snapshots and rankings.
func (r *run) hypothesesView() []*model.Hypothesis {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cloneHypothesesLocked()
}

func (r *run) cloneHypothesesLocked() []*model.Hypothesis {
	out := make([]*model.Hypothesis, len(r.hypotheses))
	for i, h := range r.hypotheses {
		out[i] = h.Clone()
	}
	return out
}

// updateHypothesis applies fn to the stored hypothesis under the run lock.
func (r *run) updateHypothesis(id model.HypothesisID, fn func(*model.Hypothesis) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.hypotheses {
		if h.ID == id {
			return fn(h)
		}
	}
	return goerr.New("unknown hypothesis", goerr.V("id", id))
}

func (r *run) addHypotheses(hs []*model.Hypothesis) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hypotheses = append(r.hypotheses, hs...)
}

func (r *run) markIncomplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incomplete = true
}

// snapshot builds an idempotent point-in-time view. Safe to call from any
// goroutine at any stage of the run.
func (r *run) snapshot() *model.Snapshot {
	r.mu.Lock()
	state := r.state
	hypotheses := r.cloneHypothesesLocked()
	report := r.report
	incomplete := r.incomplete
	r.mu.Unlock()

	return &model.Snapshot{
		PipelineID: r.id,
		Query:      r.query,
		State:      state,
		Entities:   r.agg.Entities(),
		Evidence:   r.agg.EvidenceMap(),
		Hypotheses: hypotheses,
		Ranking:    r.agg.Rank(hypotheses),
		Calls:      r.invoker.Records(),
		Report:     report,
		Incomplete: incomplete,
		TakenAt:    time.Now(),
	}
}

// runTable tracks active runs; terminal runs move to the repository.
type runTable struct {
	mu   sync.Mutex
	runs map[model.PipelineID]*run
}

func newRunTable() *runTable {
	return &runTable{runs: make(map[model.PipelineID]*run)}
}

func (t *runTable) put(r *run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[r.id] = r
}

func (t *runTable) get(id model.PipelineID) (*run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[id]
	return r, ok
}

func (t *runTable) remove(id model.PipelineID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, id)
}

// execute drives one run through the stage sequence. A stage that fails
// completely ends the run as Failed; an exceeded wall-clock budget skips
// forward to synthesis with whatever evidence has accumulated.
func (o *Orchestrator) execute(ctx context.Context, r *run) {
	ctx, cancel := context.WithTimeout(ctx, r.budgets.PipelineTimeout)
	defer cancel()

	if err := o.runStage(ctx, r, model.StateResearching, o.research); err != nil {
		if !o.degradeOnBudget(ctx, r, err) {
			o.fail(ctx, r, err)
			return
		}
		o.synthesizeAndFinish(ctx, r)
		return
	}

	if err := o.runStage(ctx, r, model.StateHypothesizing, o.hypothesize); err != nil {
		if !o.degradeOnBudget(ctx, r, err) {
			o.fail(ctx, r, err)
			return
		}
		o.synthesizeAndFinish(ctx, r)
		return
	}

	if err := o.runStage(ctx, r, model.StateValidating, o.validate); err != nil {
		if !o.degradeOnBudget(ctx, r, err) {
			o.fail(ctx, r, err)
			return
		}
	}

	o.synthesizeAndFinish(ctx, r)
}

type stageFunc func(ctx context.Context, r *run) error

func (o *Orchestrator) runStage(ctx context.Context, r *run, stage model.PipelineState, fn stageFunc) error {
	if err := r.transition(stage); err != nil {
		return err
	}
	o.broadcaster.Publish(&model.PipelineEvent{
		Type:       model.EventStageStarted,
		PipelineID: r.id,
		Stage:      stage,
	})

	err := fn(ctx, r)
	if err == nil {
		o.broadcaster.Publish(&model.PipelineEvent{
			Type:       model.EventStageCompleted,
			PipelineID: r.id,
			Stage:      stage,
		})
	}
	return err
}

// degradeOnBudget reports whether the error is a budget exhaustion that
// should degrade to synthesis instead of failing the run.
func (o *Orchestrator) degradeOnBudget(ctx context.Context, r *run, err error) bool {
	if !model.IsBudgetExceeded(err) && ctx.Err() == nil {
		return false
	}
	logging.From(ctx).Warn("budget exceeded, degrading to synthesis", "error", err)
	r.markIncomplete()
	return true
}

func (o *Orchestrator) synthesizeAndFinish(ctx context.Context, r *run) {
	// synthesis must run even after the wall-clock budget expired; give it
	// a bounded grace period of its own
	synthCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*r.budgets.CallTimeout)
	defer cancel()

	if err := o.runStage(synthCtx, r, model.StateSynthesizing, o.synthesize); err != nil {
		o.fail(synthCtx, r, err)
		return
	}

	if err := r.transition(model.StateDone); err != nil {
		o.fail(synthCtx, r, err)
		return
	}

	r.mu.Lock()
	report := r.report
	r.mu.Unlock()
	o.broadcaster.Publish(&model.PipelineEvent{
		Type:       model.EventPipelineDone,
		PipelineID: r.id,
		Report:     report,
	})
	o.finish(synthCtx, r)
}

// fail moves the run to Failed. The snapshot keeps whatever partial ranked
// list and evidence exist, marked incomplete.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) {
	logging.From(ctx).Error("pipeline failed", "error", cause)
	r.markIncomplete()
	r.mu.Lock()
	r.failReason = cause.Error()
	if r.state.CanTransition(model.StateFailed) {
		r.state = model.StateFailed
	}
	r.mu.Unlock()

	o.broadcaster.Publish(&model.PipelineEvent{
		Type:       model.EventPipelineFailed,
		PipelineID: r.id,
		Reason:     cause.Error(),
	})
	o.finish(ctx, r)
}

// finish archives the terminal run and closes its event stream.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	snapshot := r.snapshot()
	if err := o.repo.PutRun(ctx, snapshot); err != nil {
		logging.From(ctx).Warn("failed to archive run", "pipeline", r.id, "error", err)
	}
	o.broadcaster.Close(r.id)
	o.runs.remove(r.id)
}
