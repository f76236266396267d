package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
)

// memoryRepo keeps runs and sessions in process memory. Used when no
// Firestore project is configured, and in tests. Runs are stored encoded
// and decoded fresh on every read, like the Firestore implementation, so
// callers never share state with the archive.
type memoryRepo struct {
	mu       sync.Mutex
	runs     map[model.PipelineID]*storedRun
	sessions map[model.SessionID]*model.ConversationSession
}

type storedRun struct {
	takenAt time.Time
	data    []byte
}

// NewMemory creates an in-memory repository.
func NewMemory() Repository {
	return &memoryRepo{
		runs:     make(map[model.PipelineID]*storedRun),
		sessions: make(map[model.SessionID]*model.ConversationSession),
	}
}

func (r *memoryRepo) PutRun(ctx context.Context, snapshot *model.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return goerr.Wrap(err, "failed to encode snapshot", goerr.V("id", snapshot.PipelineID))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[snapshot.PipelineID] = &storedRun{takenAt: snapshot.TakenAt, data: data}
	return nil
}

func (r *memoryRepo) GetRun(ctx context.Context, id model.PipelineID) (*model.Snapshot, error) {
	r.mu.Lock()
	stored, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return nil, goerr.Wrap(model.ErrPipelineNotFound, "run not archived", goerr.V("id", id))
	}
	return stored.decode()
}

func (r *memoryRepo) ListRuns(ctx context.Context, offset, limit int) ([]*model.Snapshot, error) {
	r.mu.Lock()
	all := make([]*storedRun, 0, len(r.runs))
	for _, s := range r.runs {
		all = append(all, s)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].takenAt.After(all[j].takenAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]*model.Snapshot, 0, len(all))
	for _, s := range all {
		snapshot, err := s.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

func (s *storedRun) decode() (*model.Snapshot, error) {
	var out model.Snapshot
	if err := json.Unmarshal(s.data, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode archived run")
	}
	return &out, nil
}

func (r *memoryRepo) PutSession(ctx context.Context, session *model.ConversationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

func (r *memoryRepo) GetSession(ctx context.Context, id model.SessionID) (*model.ConversationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrSessionNotFound, "session not found", goerr.V("id", id))
	}
	return session, nil
}
