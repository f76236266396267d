package model

import (
	"sort"
	"strings"
	"time"
)

// EntityID is the stable cross-source key of a canonical entity. For genes it
// is the normalized primary identifier of the first source that reported the
// entity (e.g. an Ensembl stable ID), lower-cased and trimmed.
type EntityID string

// NormalizeEntityID converts a source-local identifier into the canonical key
// form used for exact-match resolution.
func NormalizeEntityID(raw string) EntityID {
	return EntityID(strings.ToLower(strings.TrimSpace(raw)))
}

type EntityKind string

const (
	EntityKindGene      EntityKind = "gene"
	EntityKindPathway   EntityKind = "pathway"
	EntityKindMechanism EntityKind = "mechanism"
	EntityKindOther     EntityKind = "other"
)

// CanonicalEntity is the deduplicated cross-source identity of a gene,
// pathway or mechanism. Entities are created on first sighting and never
// destroyed within a pipeline run; later sightings may only add aliases or
// merge another entity into this one.
type CanonicalEntity struct {
	ID          EntityID   `json:"id"`
	Kind        EntityKind `json:"kind"`
	Symbol      string     `json:"symbol,omitempty"`
	Description string     `json:"description,omitempty"`
	Species     string     `json:"species,omitempty"`

	// Aliases holds every source-local identifier seen for this entity,
	// including its own ID. Sorted, unique, grows monotonically.
	Aliases []string `json:"aliases"`

	// MergeNotes records unresolved identity conflicts (two entities that
	// claim incompatible canonical identifiers). They are surfaced in the
	// final synthesis instead of silently dropping evidence.
	MergeNotes []string `json:"merge_notes,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
}

// AddAlias records a source-local identifier for the entity. Returns true if
// the alias was not known before.
func (e *CanonicalEntity) AddAlias(alias string) bool {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return false
	}
	if e.HasAlias(alias) {
		return false
	}
	e.Aliases = append(e.Aliases, alias)
	sort.Strings(e.Aliases)
	return true
}

// HasAlias reports whether the given identifier is already associated with
// the entity. Comparison is case-insensitive.
func (e *CanonicalEntity) HasAlias(alias string) bool {
	for _, a := range e.Aliases {
		if strings.EqualFold(a, alias) {
			return true
		}
	}
	return false
}
