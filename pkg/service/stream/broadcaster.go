package stream

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
)

// SnapshotFunc returns the current point-in-time state of a pipeline run.
// It is called under the broadcaster lock, so it must not call back into
// the broadcaster.
type SnapshotFunc func() *model.Snapshot

// Broadcaster fans out pipeline events to subscribers of each run.
// Delivery is at-least-once: events queue without bound per subscriber, and
// a closed run drains every queued event before the channel closes.
// Subscribers always receive one snapshot event first, so reconnecting
// clients recover from the snapshot instead of replayed deltas.
type Broadcaster struct {
	mu   sync.Mutex
	runs map[model.PipelineID]*run
}

type run struct {
	snapshot SnapshotFunc
	subs     map[*subscriber]struct{}
	closed   bool
}

type subscriber struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []*model.PipelineEvent
	done    bool
	out     chan *model.PipelineEvent
}

func newSubscriber() *subscriber {
	s := &subscriber{
		out: make(chan *model.PipelineEvent),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// New creates an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		runs: make(map[model.PipelineID]*run),
	}
}

// Open registers a pipeline run. The snapshot function is invoked on every
// subsequent Subscribe for that run.
func (b *Broadcaster) Open(id model.PipelineID, snapshot SnapshotFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runs[id]; exists {
		return goerr.New("pipeline already open", goerr.V("pipeline", id))
	}
	b.runs[id] = &run{
		snapshot: snapshot,
		subs:     make(map[*subscriber]struct{}),
	}
	return nil
}

// Subscribe returns a channel of events for the run. The first event is
// always a snapshot of the current state. The channel closes once the run
// is closed and all queued events have been delivered, or when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, id model.PipelineID) (<-chan *model.PipelineEvent, error) {
	b.mu.Lock()
	r, exists := b.runs[id]
	if !exists {
		b.mu.Unlock()
		return nil, goerr.Wrap(model.ErrPipelineNotFound, "cannot subscribe", goerr.V("pipeline", id))
	}

	sub := newSubscriber()
	sub.push(&model.PipelineEvent{
		Type:       model.EventSnapshot,
		PipelineID: id,
		Snapshot:   r.snapshot(),
		EmittedAt:  time.Now(),
	})
	if r.closed {
		sub.close()
	} else {
		r.subs[sub] = struct{}{}
	}
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		b.drop(id, sub)
	})
	go func() {
		sub.loop(ctx)
		stop()
	}()

	return sub.out, nil
}

// Publish delivers the event to all current subscribers of its run.
// Events for a closed or unknown run are dropped.
func (b *Broadcaster) Publish(ev *model.PipelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, exists := b.runs[ev.PipelineID]
	if !exists || r.closed {
		return
	}
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now()
	}
	for sub := range r.subs {
		sub.push(ev)
	}
}

// Close marks the run finished. Subscribers receive everything published
// before the close, then their channels close. The run stays registered so
// late subscribers still get a final snapshot.
func (b *Broadcaster) Close(id model.PipelineID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, exists := b.runs[id]
	if !exists || r.closed {
		return
	}
	r.closed = true
	for sub := range r.subs {
		sub.close()
	}
	r.subs = make(map[*subscriber]struct{})
}

func (b *Broadcaster) drop(id model.PipelineID, sub *subscriber) {
	b.mu.Lock()
	if r, exists := b.runs[id]; exists {
		delete(r.subs, sub)
	}
	b.mu.Unlock()
	sub.close()
}

func (s *subscriber) push(ev *model.PipelineEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) loop(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.done {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
