package pipeline

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/adapter"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/repository"
	"github.com/m-mizutani/mandrake/pkg/service/stream"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/m-mizutani/mandrake/pkg/usecase/evidence"
	"github.com/m-mizutani/mandrake/pkg/utils/logging"
)

// Orchestrator runs evidence pipelines: it owns the active runs, their
// budgets and the event stream. One orchestrator serves many concurrent
// runs; the tool cache behind the registry is shared across them.
type Orchestrator struct {
	gemini      adapter.Gemini
	registry    *tool.Registry
	cache       *tool.Cache
	gate        tool.Gate
	repo        repository.Repository
	storage     adapter.Storage
	broadcaster *stream.Broadcaster
	budgets     model.Budgets

	runs *runTable
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBudgets overrides the default pipeline budgets.
func WithBudgets(b model.Budgets) Option {
	return func(o *Orchestrator) {
		o.budgets = b
	}
}

// WithGate installs a policy gate consulted before every tool call.
func WithGate(g tool.Gate) Option {
	return func(o *Orchestrator) {
		o.gate = g
	}
}

// WithRepository sets where terminal-state runs are archived.
func WithRepository(r repository.Repository) Option {
	return func(o *Orchestrator) {
		o.repo = r
	}
}

// WithStorage enables raw tool payload archival for provenance.
func WithStorage(s adapter.Storage) Option {
	return func(o *Orchestrator) {
		o.storage = s
	}
}

// WithCache shares an existing tool result cache.
func WithCache(c *tool.Cache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// New creates an orchestrator over the given text generator and tool set.
func New(gemini adapter.Gemini, registry *tool.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gemini:      gemini,
		registry:    registry,
		repo:        repository.NewMemory(),
		broadcaster: stream.New(),
		budgets:     model.DefaultBudgets(),
		runs:        newRunTable(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = tool.NewCache(o.budgets.CacheTTL)
	}
	return o
}

// StartPipeline begins orchestration asynchronously and returns the run ID.
// The run detaches from the caller's cancellation; its lifetime is bounded
// by the pipeline wall-clock budget.
func (o *Orchestrator) StartPipeline(ctx context.Context, query string) (model.PipelineID, error) {
	if query == "" {
		return "", goerr.New("query is required")
	}

	r := newRun(query, o.budgets, tool.NewInvoker(o.registry, o.cache, o.gate, o.budgets))
	if err := o.broadcaster.Open(r.id, r.snapshot); err != nil {
		return "", err
	}
	o.runs.put(r)

	runCtx := logging.With(context.WithoutCancel(ctx), logging.From(ctx).With("pipeline", r.id))
	go o.execute(runCtx, r)

	return r.id, nil
}

// Subscribe streams events of a run, beginning with a snapshot.
func (o *Orchestrator) Subscribe(ctx context.Context, id model.PipelineID) (<-chan *model.PipelineEvent, error) {
	return o.broadcaster.Subscribe(ctx, id)
}

// GetSnapshot returns a point-in-time view of a run. Live runs are served
// from memory, finished ones from the archive.
func (o *Orchestrator) GetSnapshot(ctx context.Context, id model.PipelineID) (*model.Snapshot, error) {
	if r, ok := o.runs.get(id); ok {
		return r.snapshot(), nil
	}
	return o.repo.GetRun(ctx, id)
}

// evidence aggregation helpers shared by the stages

// ingest folds one tool result into the run and publishes the incremental
// evidence and ranking events.
func (o *Orchestrator) ingest(ctx context.Context, r *run, result *tool.Result, record *model.ToolCallRecord) {
	if result == nil {
		return
	}
	o.archiveRaw(ctx, r, record, result)

	// ingestMu keeps the published event order identical to the order the
	// aggregator recorded the evidence in
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	added := false
	for _, f := range result.Findings {
		ev, err := r.agg.Ingest(f, record.Tool, record.ID)
		if err != nil {
			logging.From(ctx).Warn("failed to ingest finding", "tool", record.Tool, "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		added = true
		o.broadcaster.Publish(&model.PipelineEvent{
			Type:       model.EventEvidenceAdded,
			PipelineID: r.id,
			EntityID:   ev.EntityID,
			Evidence:   ev,
		})
	}
	if added {
		o.broadcaster.Publish(&model.PipelineEvent{
			Type:       model.EventRankingUpdated,
			PipelineID: r.id,
			Ranking:    r.agg.Rank(r.hypothesesView()),
		})
	}
}

func (o *Orchestrator) archiveRaw(ctx context.Context, r *run, record *model.ToolCallRecord, result *tool.Result) {
	if o.storage == nil || len(result.Raw) == 0 || record.CacheHit {
		return
	}
	key := "runs/" + string(r.id) + "/calls/" + string(record.ID) + ".json"
	w, err := o.storage.Put(ctx, key)
	if err != nil {
		logging.From(ctx).Warn("failed to archive raw payload", "key", key, "error", err)
		return
	}
	if _, err := w.Write(result.Raw); err != nil {
		logging.From(ctx).Warn("failed to write raw payload", "key", key, "error", err)
	}
	if err := w.Close(); err != nil {
		logging.From(ctx).Warn("failed to finish raw payload archive", "key", key, "error", err)
	}
}

// evidenceCategories lists the distinct categories currently recorded for an
// entity.
func evidenceCategories(agg *evidence.Aggregator, id model.EntityID) []model.EvidenceCategory {
	seen := make(map[model.EvidenceCategory]struct{})
	var out []model.EvidenceCategory
	for _, rec := range agg.EvidenceFor(id) {
		if _, ok := seen[rec.Category]; ok {
			continue
		}
		seen[rec.Category] = struct{}{}
		out = append(out, rec.Category)
	}
	return out
}
