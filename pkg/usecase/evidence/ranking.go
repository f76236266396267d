package evidence

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/m-mizutani/mandrake/pkg/model"
)

// Scoring weights. Statistical associations and validated hypotheses weigh
// highest; narrative mentions barely count on their own.
const (
	weightStatistical   = 3.0
	weightLiterature    = 1.5
	weightFunctional    = 1.0
	weightPathway       = 1.0
	weightNarrative     = 0.5
	bonusSignificant    = 1.0
	bonusValidatedHypot = 5.0
)

func categoryWeight(c model.EvidenceCategory) float64 {
	switch c {
	case model.CategoryStatistical:
		return weightStatistical
	case model.CategoryLiterature:
		return weightLiterature
	case model.CategoryFunctional:
		return weightFunctional
	case model.CategoryPathway:
		return weightPathway
	case model.CategoryNarrative:
		return weightNarrative
	default:
		return 0
	}
}

// Rank recomputes the full priority list from the current entities, evidence
// and hypotheses. Only entities with at least one evidence record appear.
// The ordering is total and deterministic: descending score, then more
// distinct categories, then earlier first sighting, then lexicographic ID.
// Identical input always yields the identical list.
func (a *Aggregator) Rank(hypotheses []*model.Hypothesis) []*model.RankedEntity {
	a.mu.Lock()
	states := a.sortedLocked()
	type scored struct {
		st     *entityState
		ranked *model.RankedEntity
	}
	validated := make(map[model.EntityID]int)
	for _, h := range hypotheses {
		if h.Status == model.HypothesisValidated {
			validated[a.followLocked(h.EntityID)]++
		}
	}

	list := make([]*scored, 0, len(states))
	for _, st := range states {
		if len(st.records) == 0 {
			continue
		}
		list = append(list, &scored{
			st:     st,
			ranked: scoreEntity(st.entity, st.records, validated[st.entity.ID]),
		})
	}
	a.mu.Unlock()

	sort.SliceStable(list, func(i, j int) bool {
		ri, rj := list[i].ranked, list[j].ranked
		if ri.Score != rj.Score {
			return ri.Score > rj.Score
		}
		if ci, cj := ri.CategoryCount(), rj.CategoryCount(); ci != cj {
			return ci > cj
		}
		if list[i].st.seq != list[j].st.seq {
			return list[i].st.seq < list[j].st.seq
		}
		return ri.EntityID < rj.EntityID
	})

	out := make([]*model.RankedEntity, len(list))
	for i, s := range list {
		s.ranked.Rank = i + 1
		out[i] = s.ranked
	}
	return out
}

func scoreEntity(entity *model.CanonicalEntity, records []*model.EvidenceRecord, validatedCount int) *model.RankedEntity {
	counts := make(map[model.EvidenceCategory]int)
	score := 0.0
	for _, r := range records {
		counts[r.Category]++
		score += categoryWeight(r.Category)
		if a := r.Payload.Association; a != nil && a.Significant() {
			score += bonusSignificant
		}
	}
	score += bonusValidatedHypot * float64(validatedCount)

	ranked := &model.RankedEntity{
		EntityID:         entity.ID,
		Symbol:           entity.Symbol,
		Kind:             entity.Kind,
		Score:            score,
		CountsByCategory: counts,
		ValidatedCount:   validatedCount,
		Hyperlinks:       buildHyperlinks(entity),
	}
	ranked.Confidence = confidenceBand(ranked)
	ranked.Summary = summarizeEvidence(ranked, len(records))
	return ranked
}

// summarizeEvidence renders a one-line evidence digest for display, e.g.
// "5 records across 3 categories, 1 validated hypothesis".
func summarizeEvidence(r *model.RankedEntity, total int) string {
	s := fmt.Sprintf("%d records across %d categories", total, r.CategoryCount())
	switch r.ValidatedCount {
	case 0:
	case 1:
		s += ", 1 validated hypothesis"
	default:
		s += fmt.Sprintf(", %d validated hypotheses", r.ValidatedCount)
	}
	return s
}

// confidenceBand applies the banding rule: two distinct evidence categories
// plus a validated hypothesis earns High, two categories alone Medium,
// anything less Low.
func confidenceBand(r *model.RankedEntity) model.Confidence {
	switch {
	case r.CategoryCount() >= 2 && r.ValidatedCount >= 1:
		return model.ConfidenceHigh
	case r.CategoryCount() >= 2:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func buildHyperlinks(entity *model.CanonicalEntity) []model.Hyperlink {
	var links []model.Hyperlink
	switch entity.Kind {
	case model.EntityKindGene:
		if entity.Symbol != "" {
			links = append(links, model.Hyperlink{
				Label: "GeneCards",
				URL:   "https://www.genecards.org/cgi-bin/carddisp.pl?gene=" + url.QueryEscape(entity.Symbol),
			})
		}
		for _, alias := range entity.Aliases {
			if strings.HasPrefix(strings.ToLower(alias), "ensg") {
				links = append(links, model.Hyperlink{
					Label: "Ensembl",
					URL:   "https://www.ensembl.org/id/" + url.PathEscape(strings.ToUpper(alias)),
				})
				break
			}
		}
	case model.EntityKindPathway:
		if strings.HasPrefix(string(entity.ID), "hsa") {
			links = append(links, model.Hyperlink{
				Label: "KEGG",
				URL:   "https://www.kegg.jp/pathway/" + url.PathEscape(string(entity.ID)),
			})
		}
	}
	return links
}
