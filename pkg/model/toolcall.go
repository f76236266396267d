package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CallID string

// NewCallID generates a new unique CallID
func NewCallID() CallID {
	return CallID(uuid.New().String())
}

// ToolCallRecord captures one tool adapter invocation. One record is emitted
// per call regardless of outcome and never mutated afterwards; ranked results
// trace back to these records via EvidenceRecord.CallID.
type ToolCallRecord struct {
	ID        CallID          `json:"id"`
	Tool      string          `json:"tool"`
	Arguments map[string]any  `json:"arguments"` // normalized form, same as cache key
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Latency   time.Duration   `json:"latency"`
	CacheHit  bool            `json:"cache_hit"`
	StartedAt time.Time       `json:"started_at"`
}

// Succeeded reports whether the call produced a usable result.
func (r *ToolCallRecord) Succeeded() bool {
	return r.Error == ""
}

// CostSummary aggregates per-call telemetry across a pipeline run.
type CostSummary struct {
	TotalCalls   int           `json:"total_calls"`
	FailedCalls  int           `json:"failed_calls"`
	CacheHits    int           `json:"cache_hits"`
	TotalLatency time.Duration `json:"total_latency"`
}

// SummarizeCalls folds a set of ToolCallRecords into a CostSummary.
func SummarizeCalls(records []*ToolCallRecord) CostSummary {
	var s CostSummary
	for _, r := range records {
		s.TotalCalls++
		if !r.Succeeded() {
			s.FailedCalls++
		}
		if r.CacheHit {
			s.CacheHits++
		}
		s.TotalLatency += r.Latency
	}
	return s
}
