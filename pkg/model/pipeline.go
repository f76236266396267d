package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type PipelineID string

// NewPipelineID generates a new unique PipelineID
func NewPipelineID() PipelineID {
	return PipelineID(uuid.New().String())
}

// PipelineState is the orchestrator state machine. Transitions are
// one-directional and no stage repeats within one run.
type PipelineState string

const (
	StatePending       PipelineState = "pending"
	StateResearching   PipelineState = "researching"
	StateHypothesizing PipelineState = "hypothesizing"
	StateValidating    PipelineState = "validating"
	StateSynthesizing  PipelineState = "synthesizing"
	StateDone          PipelineState = "done"
	StateFailed        PipelineState = "failed"
)

// Terminal reports whether the state ends the run.
func (s PipelineState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// order gives each state its position in the one-directional machine.
func (s PipelineState) order() int {
	switch s {
	case StatePending:
		return 0
	case StateResearching:
		return 1
	case StateHypothesizing:
		return 2
	case StateValidating:
		return 3
	case StateSynthesizing:
		return 4
	case StateDone, StateFailed:
		return 5
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Skipping stages forward is allowed (budget exhaustion jumps
// straight to Synthesizing); moving backward or out of a terminal state is
// not.
func (s PipelineState) CanTransition(next PipelineState) bool {
	if s.Terminal() {
		return false
	}
	return next.order() > s.order()
}

// EventType identifies a PipelineEvent variant.
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventEvidenceAdded  EventType = "evidence_added"
	EventRankingUpdated EventType = "ranking_updated"
	EventStageCompleted EventType = "stage_completed"
	EventSnapshot       EventType = "snapshot"
	EventPipelineDone   EventType = "pipeline_done"
	EventPipelineFailed EventType = "pipeline_failed"
)

// PipelineEvent is one incremental update pushed to subscribers. Exactly the
// fields relevant to Type are set.
type PipelineEvent struct {
	Type       EventType     `json:"type"`
	PipelineID PipelineID    `json:"pipeline_id"`
	Stage      PipelineState `json:"stage,omitempty"`

	EntityID EntityID        `json:"entity_id,omitempty"`
	Evidence *EvidenceRecord `json:"evidence,omitempty"`
	Ranking  []*RankedEntity `json:"ranking,omitempty"`
	Snapshot *Snapshot       `json:"snapshot,omitempty"`
	Report   *Report         `json:"report,omitempty"`
	Reason   string          `json:"reason,omitempty"`

	EmittedAt time.Time `json:"emitted_at"`
}

// Report is the final synthesis of a pipeline run.
type Report struct {
	Query         string        `json:"query"`
	Summary       string        `json:"summary"`
	TopHits       []string      `json:"top_hits"`
	OpenQuestions []string      `json:"open_questions"`
	Incomplete    bool          `json:"incomplete"`
	Cost          CostSummary   `json:"cost"`
	ExecutionTime time.Duration `json:"execution_time"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

// Snapshot is an idempotent point-in-time read of a pipeline run, used for
// subscriber reconnects and follow-up chat on finished or failed runs.
type Snapshot struct {
	PipelineID PipelineID    `json:"pipeline_id"`
	Query      string        `json:"query"`
	State      PipelineState `json:"state"`

	Entities   []*CanonicalEntity            `json:"entities"`
	Evidence   map[EntityID][]*EvidenceRecord `json:"evidence"`
	Hypotheses []*Hypothesis                 `json:"hypotheses"`
	Ranking    []*RankedEntity               `json:"ranking"`
	Calls      []*ToolCallRecord             `json:"calls"`
	Report     *Report                       `json:"report,omitempty"`

	// Incomplete marks snapshots of failed or budget-degraded runs so the
	// caller can label partial results.
	Incomplete bool      `json:"incomplete"`
	TakenAt    time.Time `json:"taken_at"`
}

// Validate checks basic snapshot consistency.
func (s *Snapshot) Validate() error {
	if s.PipelineID == "" {
		return goerr.New("snapshot has no pipeline ID")
	}
	for id, records := range s.Evidence {
		for _, r := range records {
			if r.EntityID != id {
				return goerr.New("evidence filed under wrong entity",
					goerr.V("entity_id", id), goerr.V("record_entity_id", r.EntityID))
			}
		}
	}
	return nil
}
