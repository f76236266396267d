package repository

import (
	"context"

	"github.com/m-mizutani/mandrake/pkg/model"
)

// Repository persists finished pipeline runs and conversation sessions.
// Runs are archived as snapshots once they reach a terminal state; live runs
// are served from memory by the orchestrator.
type Repository interface {
	// PutRun archives a run snapshot, overwriting any previous version
	PutRun(ctx context.Context, snapshot *model.Snapshot) error

	// GetRun retrieves an archived run by pipeline ID
	GetRun(ctx context.Context, id model.PipelineID) (*model.Snapshot, error)

	// ListRuns retrieves archived runs, newest first
	ListRuns(ctx context.Context, offset, limit int) ([]*model.Snapshot, error)

	// PutSession saves a conversation session
	PutSession(ctx context.Context, session *model.ConversationSession) error

	// GetSession retrieves a conversation session by ID
	GetSession(ctx context.Context, id model.SessionID) (*model.ConversationSession, error)
}
