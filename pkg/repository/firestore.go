package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	runCollection     = "runs"
	sessionCollection = "sessions"
)

// Firestore archives runs and sessions in Cloud Firestore. Documents hold
// the record as a JSON blob plus a few queryable fields, so the Go structs
// stay the single source of schema truth.
type Firestore struct {
	client *firestore.Client
}

type runDoc struct {
	PipelineID string    `firestore:"pipeline_id"`
	Query      string    `firestore:"query"`
	State      string    `firestore:"state"`
	TakenAt    time.Time `firestore:"taken_at"`
	Data       []byte    `firestore:"data"`
}

type sessionDoc struct {
	SessionID string    `firestore:"session_id"`
	UpdatedAt time.Time `firestore:"updated_at"`
	Data      []byte    `firestore:"data"`
}

// NewFirestore creates a Firestore-backed repository.
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	return &Firestore{client: client}, nil
}

// Close releases the underlying client.
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) PutRun(ctx context.Context, snapshot *model.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return goerr.Wrap(err, "failed to encode snapshot")
	}

	doc := runDoc{
		PipelineID: string(snapshot.PipelineID),
		Query:      snapshot.Query,
		State:      string(snapshot.State),
		TakenAt:    snapshot.TakenAt,
		Data:       data,
	}
	if _, err := r.client.Collection(runCollection).Doc(doc.PipelineID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to save run", goerr.V("id", snapshot.PipelineID))
	}
	return nil
}

func (r *Firestore) GetRun(ctx context.Context, id model.PipelineID) (*model.Snapshot, error) {
	snap, err := r.client.Collection(runCollection).Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrPipelineNotFound, "run not archived", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get run", goerr.V("id", id))
	}

	var doc runDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode run document", goerr.V("id", id))
	}
	var snapshot model.Snapshot
	if err := json.Unmarshal(doc.Data, &snapshot); err != nil {
		return nil, goerr.Wrap(err, "failed to decode snapshot", goerr.V("id", id))
	}
	return &snapshot, nil
}

func (r *Firestore) ListRuns(ctx context.Context, offset, limit int) ([]*model.Snapshot, error) {
	query := r.client.Collection(runCollection).
		OrderBy("taken_at", firestore.Desc).
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []*model.Snapshot
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate runs")
		}

		var doc runDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode run document")
		}
		var snapshot model.Snapshot
		if err := json.Unmarshal(doc.Data, &snapshot); err != nil {
			return nil, goerr.Wrap(err, "failed to decode snapshot", goerr.V("id", doc.PipelineID))
		}
		out = append(out, &snapshot)
	}
	return out, nil
}

func (r *Firestore) PutSession(ctx context.Context, session *model.ConversationSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return goerr.Wrap(err, "failed to encode session")
	}

	doc := sessionDoc{
		SessionID: string(session.ID),
		UpdatedAt: session.UpdatedAt,
		Data:      data,
	}
	if _, err := r.client.Collection(sessionCollection).Doc(doc.SessionID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to save session", goerr.V("id", session.ID))
	}
	return nil
}

func (r *Firestore) GetSession(ctx context.Context, id model.SessionID) (*model.ConversationSession, error) {
	snap, err := r.client.Collection(sessionCollection).Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrSessionNotFound, "session not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("id", id))
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session document", goerr.V("id", id))
	}
	var session model.ConversationSession
	if err := json.Unmarshal(doc.Data, &session); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("id", id))
	}
	return &session, nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
