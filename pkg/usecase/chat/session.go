package chat

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/adapter"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/repository"
	"google.golang.org/genai"
)

//go:embed prompt/followup.md
var followupPromptRaw string

var followupPromptTmpl = template.Must(template.New("followup").Parse(followupPromptRaw))

// SnapshotSource resolves a pipeline run to its current snapshot. Both the
// live orchestrator and the archive repository satisfy it, so follow-up chat
// works on running, finished, and failed runs alike.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, id model.PipelineID) (*model.Snapshot, error)
}

// Session manages an interactive follow-up conversation over one run. The
// rolling window of prior turns is bounded; older turns are evicted, not
// archived. Appends are serialized internally.
type Session struct {
	gemini    adapter.Gemini
	repo      repository.Repository
	snapshots SnapshotSource

	mu       sync.Mutex
	snapshot *model.Snapshot
	session  *model.ConversationSession
}

// NewInput contains parameters for opening a chat session.
type NewInput struct {
	Gemini     adapter.Gemini
	Repo       repository.Repository
	Snapshots  SnapshotSource // optional: live orchestrator; defaults to the archive
	PipelineID model.PipelineID
	SessionID  model.SessionID // optional: continue an existing conversation
}

func New(ctx context.Context, input NewInput) (*Session, error) {
	var snapshot *model.Snapshot
	var err error
	if input.Snapshots != nil {
		snapshot, err = input.Snapshots.GetSnapshot(ctx, input.PipelineID)
	} else {
		snapshot, err = input.Repo.GetRun(ctx, input.PipelineID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load run for chat")
	}

	session := &model.ConversationSession{
		ID:         model.NewSessionID(),
		PipelineID: input.PipelineID,
		CreatedAt:  time.Now(),
	}
	if input.SessionID != "" {
		restored, err := input.Repo.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to restore session")
		}
		session = restored
	}

	return &Session{
		gemini:    input.Gemini,
		repo:      input.Repo,
		snapshots: input.Snapshots,
		snapshot:  snapshot,
		session:   session,
	}, nil
}

// ID returns the conversation session id.
func (s *Session) ID() model.SessionID {
	return s.session.ID
}

// SendFollowUp answers one follow-up message against the run data, appends
// both turns to the rolling window, and returns the reply together with the
// updated window.
func (s *Session) SendFollowUp(ctx context.Context, message string) (string, []model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	systemPrompt, err := s.systemPrompt()
	if err != nil {
		return "", nil, err
	}

	s.session.Append(model.Message{
		Role:      model.RoleUser,
		Text:      message,
		Timestamp: time.Now(),
	})

	contents := make([]*genai.Content, 0, len(s.session.Messages))
	for _, msg := range s.session.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, ""),
	}
	resp, err := s.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", nil, goerr.Wrap(err, "failed to generate follow-up response")
	}

	reply, err := adapter.TextFromResponse(resp)
	if err != nil {
		return "", nil, goerr.Wrap(err, "empty follow-up response")
	}

	s.session.Append(model.Message{
		Role:      model.RoleAssistant,
		Text:      reply,
		Timestamp: time.Now(),
	})

	if err := s.repo.PutSession(ctx, s.session); err != nil {
		return "", nil, goerr.Wrap(err, "failed to save session")
	}

	window := make([]model.Message, len(s.session.Messages))
	copy(window, s.session.Messages)
	return reply, window, nil
}

func (s *Session) systemPrompt() (string, error) {
	ranking := make([]string, 0, len(s.snapshot.Ranking))
	for _, r := range s.snapshot.Ranking {
		ranking = append(ranking, fmt.Sprintf("%d. %s (score %.1f, confidence %s)",
			r.Rank, rankedLabel(s.snapshot, r), r.Score, r.Confidence))
	}

	hypotheses := make([]string, 0, len(s.snapshot.Hypotheses))
	for _, h := range s.snapshot.Hypotheses {
		hypotheses = append(hypotheses, fmt.Sprintf("[%s] %s", h.Status, h.Rationale))
	}

	summary := ""
	if s.snapshot.Report != nil {
		summary = s.snapshot.Report.Summary
	}

	var buf bytes.Buffer
	if err := followupPromptTmpl.Execute(&buf, map[string]any{
		"Query":      s.snapshot.Query,
		"Ranking":    ranking,
		"Hypotheses": hypotheses,
		"Summary":    summary,
		"Incomplete": s.snapshot.Incomplete,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render follow-up prompt")
	}
	return buf.String(), nil
}

func rankedLabel(snapshot *model.Snapshot, r *model.RankedEntity) string {
	for _, e := range snapshot.Entities {
		if e.ID == r.EntityID && e.Symbol != "" {
			return e.Symbol
		}
	}
	return string(r.EntityID)
}
