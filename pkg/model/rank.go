package model

// Hyperlink points a ranked result at the upstream database page that backs
// it.
type Hyperlink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// RankedEntity is a derived, recomputed view over a CanonicalEntity and its
// evidence set. The evidence map stays authoritative; ranked entities are
// rebuilt from it on every aggregator update and carry no state of their own.
type RankedEntity struct {
	EntityID EntityID   `json:"entity_id"`
	Symbol   string     `json:"symbol,omitempty"`
	Kind     EntityKind `json:"kind"`

	// Rank is 1-based and dense over all entities with at least one
	// evidence record.
	Rank  int     `json:"rank"`
	Score float64 `json:"score"`

	Confidence       Confidence               `json:"confidence"`
	CountsByCategory map[EvidenceCategory]int `json:"counts_by_category"`
	ValidatedCount   int                      `json:"validated_count"`

	Summary    string      `json:"summary,omitempty"`
	Hyperlinks []Hyperlink `json:"hyperlinks,omitempty"`
}

// CategoryCount returns the number of distinct evidence categories present.
func (r *RankedEntity) CategoryCount() int {
	n := 0
	for _, c := range r.CountsByCategory {
		if c > 0 {
			n++
		}
	}
	return n
}
