package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type HypothesisID string

// NewHypothesisID generates a new unique HypothesisID
func NewHypothesisID() HypothesisID {
	return HypothesisID(uuid.New().String())
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Validate checks if the confidence is valid
func (c Confidence) Validate() error {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return nil
	default:
		return goerr.New("invalid confidence", goerr.V("confidence", c))
	}
}

// rank orders confidence bands for monotonicity comparison.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	default:
		return 1
	}
}

// AtLeast reports whether c is the same band as other or a higher one.
func (c Confidence) AtLeast(other Confidence) bool {
	return c.rank() >= other.rank()
}

type HypothesisStatus string

const (
	HypothesisOpen      HypothesisStatus = "open"
	HypothesisValidated HypothesisStatus = "validated"
	HypothesisRefuted   HypothesisStatus = "refuted"
)

// Hypothesis links a canonical entity to the queried trait. Produced by the
// hypothesis stage, its status is transitioned exactly once by the validation
// stage; hypotheses are never deleted.
type Hypothesis struct {
	ID         HypothesisID     `json:"id"`
	EntityID   EntityID         `json:"entity_id"`
	Rationale  string           `json:"rationale"`
	Confidence Confidence       `json:"confidence"`
	Status     HypothesisStatus `json:"status"`

	// SupportingRefs are source references (PMIDs, study accessions) cited
	// by the hypothesis stage.
	SupportingRefs []string `json:"supporting_refs,omitempty"`

	// SupportingCategories lists the distinct evidence categories that
	// corroborated the hypothesis during validation.
	SupportingCategories []EvidenceCategory `json:"supporting_categories,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a value copy that stays unchanged when the original is
// resolved later.
func (h *Hypothesis) Clone() *Hypothesis {
	c := *h
	c.SupportingRefs = append([]string(nil), h.SupportingRefs...)
	c.SupportingCategories = append([]EvidenceCategory(nil), h.SupportingCategories...)
	if h.ResolvedAt != nil {
		at := *h.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}

// Resolve transitions an open hypothesis to validated or refuted. Resolving a
// non-open hypothesis is an error: the validation stage runs at most once per
// hypothesis within a pipeline run.
func (h *Hypothesis) Resolve(status HypothesisStatus, at time.Time) error {
	if h.Status != HypothesisOpen {
		return goerr.New("hypothesis already resolved",
			goerr.V("id", h.ID), goerr.V("status", h.Status))
	}
	if status != HypothesisValidated && status != HypothesisRefuted {
		return goerr.New("invalid resolution status", goerr.V("status", status))
	}
	h.Status = status
	h.ResolvedAt = &at
	return nil
}
