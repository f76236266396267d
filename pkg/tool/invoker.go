package tool

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/utils/logging"
)

// Gate can veto a tool call before it is dispatched. The workflow package
// provides a Rego-backed implementation; a nil gate allows everything.
type Gate interface {
	Allow(ctx context.Context, stage model.PipelineState, tool string, args map[string]any) error
}

// Invoker is the uniform call contract over the registered tools. It
// normalizes arguments, enforces the per-call timeout, retries transient
// failures with bounded exponential backoff, consults the shared cache, and
// emits exactly one ToolCallRecord per invocation regardless of outcome.
//
// One Invoker is created per pipeline run; the Cache behind it is shared
// across runs.
type Invoker struct {
	registry *Registry
	cache    *Cache
	gate     Gate
	budgets  model.Budgets

	mu      sync.Mutex
	records []*model.ToolCallRecord
}

// NewInvoker creates a run-scoped invoker.
func NewInvoker(registry *Registry, cache *Cache, gate Gate, budgets model.Budgets) *Invoker {
	return &Invoker{
		registry: registry,
		cache:    cache,
		gate:     gate,
		budgets:  budgets,
	}
}

// Invoke runs one tool call for the given stage. The returned record is
// already appended to the invoker's provenance log.
func (v *Invoker) Invoke(ctx context.Context, stage model.PipelineState, name string, args map[string]any) (*Result, *model.ToolCallRecord, error) {
	normalized := NormalizeArgs(args)

	record := &model.ToolCallRecord{
		ID:        model.NewCallID(),
		Tool:      name,
		Arguments: normalized,
		StartedAt: time.Now(),
	}
	defer func() {
		record.Latency = time.Since(record.StartedAt)
		v.mu.Lock()
		v.records = append(v.records, record)
		v.mu.Unlock()
	}()

	if v.gate != nil {
		if err := v.gate.Allow(ctx, stage, name, normalized); err != nil {
			err = goerr.Wrap(model.ErrPermanentTool, "tool call denied by policy",
				goerr.V("tool", name), goerr.V("stage", stage))
			record.Error = err.Error()
			return nil, record, err
		}
	}

	key := CacheKey(name, normalized)
	result, hit, err := v.cache.Get(ctx, key, func(ctx context.Context) (*Result, error) {
		return v.callWithRetry(ctx, name, normalized)
	})
	if err != nil {
		record.Error = err.Error()
		return nil, record, err
	}

	record.CacheHit = hit
	record.Result = result.Raw
	return result, record, nil
}

// callWithRetry dispatches to the registry with the per-call timeout,
// retrying transient failures with doubling backoff.
func (v *Invoker) callWithRetry(ctx context.Context, name string, args map[string]any) (*Result, error) {
	logger := logging.From(ctx)
	backoff := v.budgets.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= v.budgets.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("retrying tool call", "tool", name, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, model.ClassifyToolError(ctx.Err())
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, v.budgets.CallTimeout)
		result, err := v.registry.Execute(callCtx, name, args)
		cancel()

		if err == nil {
			return result, nil
		}

		lastErr = model.ClassifyToolError(err)
		if model.IsPermanent(lastErr) {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			// The run was cancelled; stop retrying.
			return nil, lastErr
		}
	}

	return nil, goerr.Wrap(lastErr, "tool call failed after retries",
		goerr.V("tool", name), goerr.V("retries", v.budgets.MaxRetries))
}

// Records returns the provenance log of every invocation so far, in emission
// order.
func (v *Invoker) Records() []*model.ToolCallRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*model.ToolCallRecord, len(v.records))
	copy(out, v.records)
	return out
}
