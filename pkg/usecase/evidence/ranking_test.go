package evidence_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/m-mizutani/mandrake/pkg/usecase/evidence"
)

func geneRef(id string) tool.EntityRef {
	return tool.EntityRef{ID: id, Symbol: id, Kind: model.EntityKindGene}
}

func funcFinding(ref tool.EntityRef, goID string) *tool.Finding {
	return &tool.Finding{
		Entity:   ref,
		Category: model.CategoryFunctional,
		Payload: model.EvidencePayload{
			Annotation: &model.GOAnnotation{GOID: goID, Term: "term"},
		},
	}
}

func validatedHypothesis(t *testing.T, entityID model.EntityID) *model.Hypothesis {
	t.Helper()
	h := &model.Hypothesis{
		ID:        model.NewHypothesisID(),
		EntityID:  entityID,
		Status:    model.HypothesisOpen,
		CreatedAt: time.Now(),
	}
	gt.NoError(t, h.Resolve(model.HypothesisValidated, time.Now()))
	return h
}

func TestRankDeterministic(t *testing.T) {
	a := evidence.New()
	for _, id := range []string{"fto", "mc4r", "lep", "irx3"} {
		_, err := a.Ingest(statFinding(geneRef(id), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
		gt.NoError(t, err)
		_, err = a.Ingest(litFinding(geneRef(id), "pm-"+id), "pubmed", model.NewCallID())
		gt.NoError(t, err)
	}

	first := a.Rank(nil)
	for range 10 {
		again := a.Rank(nil)
		gt.Equal(t, again, first)
	}
}

func TestRankTieBreaks(t *testing.T) {
	a := evidence.New()

	// identical evidence for both genes: scores tie, the earlier sighting
	// wins
	_, err := a.Ingest(statFinding(geneRef("mc4r"), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	_, err = a.Ingest(statFinding(geneRef("fto"), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)

	ranked := a.Rank(nil)
	gt.A(t, ranked).Length(2)
	gt.Equal(t, ranked[0].EntityID, model.EntityID("mc4r"))
	gt.Equal(t, ranked[0].Rank, 1)
	gt.Equal(t, ranked[1].Rank, 2)
}

func TestRankOnlyEvidencedEntities(t *testing.T) {
	a := evidence.New()

	_, err := a.Ingest(statFinding(geneRef("mc4r"), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	// sighting only, no evidence record
	_, err = a.Ingest(&tool.Finding{Entity: geneRef("fto")}, "ensembl", model.NewCallID())
	gt.NoError(t, err)

	ranked := a.Rank(nil)
	gt.A(t, ranked).Length(1)
	gt.Equal(t, ranked[0].EntityID, model.EntityID("mc4r"))
}

func TestConfidenceBands(t *testing.T) {
	a := evidence.New()

	// one category only
	_, err := a.Ingest(statFinding(geneRef("lep"), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)

	// two categories, no validated hypothesis
	_, err = a.Ingest(statFinding(geneRef("mc4r"), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	_, err = a.Ingest(litFinding(geneRef("mc4r"), "111"), "pubmed", model.NewCallID())
	gt.NoError(t, err)

	// two categories plus a validated hypothesis
	_, err = a.Ingest(statFinding(geneRef("fto"), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	_, err = a.Ingest(funcFinding(geneRef("fto"), "GO:0040011"), "quickgo", model.NewCallID())
	gt.NoError(t, err)

	ranked := a.Rank([]*model.Hypothesis{validatedHypothesis(t, "fto")})

	bands := make(map[model.EntityID]model.Confidence)
	for _, r := range ranked {
		bands[r.EntityID] = r.Confidence
	}
	gt.Equal(t, bands["lep"], model.ConfidenceLow)
	gt.Equal(t, bands["mc4r"], model.ConfidenceMedium)
	gt.Equal(t, bands["fto"], model.ConfidenceHigh)
}

func TestConfidenceMonotonic(t *testing.T) {
	a := evidence.New()

	_, err := a.Ingest(statFinding(geneRef("mc4r"), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	before := a.Rank(nil)[0]

	// more evidence never lowers the band
	_, err = a.Ingest(litFinding(geneRef("mc4r"), "222"), "pubmed", model.NewCallID())
	gt.NoError(t, err)
	mid := a.Rank(nil)[0]
	gt.True(t, mid.Confidence.AtLeast(before.Confidence))

	after := a.Rank([]*model.Hypothesis{validatedHypothesis(t, "mc4r")})[0]
	gt.True(t, after.Confidence.AtLeast(mid.Confidence))
	gt.Equal(t, after.Confidence, model.ConfidenceHigh)
}

func TestValidatedHypothesisOutweighsVolume(t *testing.T) {
	a := evidence.New()

	// many low-weight narrative mentions
	for range 8 {
		_, err := a.Ingest(&tool.Finding{
			Entity:   geneRef("lep"),
			Category: model.CategoryNarrative,
			Payload:  model.EvidencePayload{Narrative: "mentioned"},
		}, "mcp", model.NewCallID())
		gt.NoError(t, err)
	}

	// one strong association plus a validated hypothesis
	_, err := a.Ingest(statFinding(geneRef("mc4r"), "obesity", 1e-12), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	_, err = a.Ingest(litFinding(geneRef("mc4r"), "333"), "pubmed", model.NewCallID())
	gt.NoError(t, err)

	ranked := a.Rank([]*model.Hypothesis{validatedHypothesis(t, "mc4r")})
	gt.Equal(t, ranked[0].EntityID, model.EntityID("mc4r"))
}

func TestRankFollowsMerge(t *testing.T) {
	a := evidence.New()

	_, err := a.Ingest(statFinding(geneRef("mc4r"), "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	_, err = a.Ingest(litFinding(tool.EntityRef{ID: "ensg00000166603", Kind: model.EntityKindGene}, "444"), "pubmed", model.NewCallID())
	gt.NoError(t, err)

	_, err = a.Merge("mc4r", "ensg00000166603")
	gt.NoError(t, err)

	// a hypothesis filed under the merged-away ID still counts
	ranked := a.Rank([]*model.Hypothesis{validatedHypothesis(t, "ensg00000166603")})
	gt.A(t, ranked).Length(1)
	gt.Equal(t, ranked[0].EntityID, model.EntityID("mc4r"))
	gt.Equal(t, ranked[0].ValidatedCount, 1)
	gt.Equal(t, ranked[0].Confidence, model.ConfidenceHigh)
}

func TestHyperlinks(t *testing.T) {
	a := evidence.New()

	_, err := a.Ingest(statFinding(tool.EntityRef{
		ID:      "mc4r",
		Symbol:  "MC4R",
		Kind:    model.EntityKindGene,
		Aliases: []string{"ENSG00000166603"},
	}, "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)

	ranked := a.Rank(nil)
	gt.A(t, ranked).Length(1)
	gt.A(t, ranked[0].Hyperlinks).Longer(1)

	labels := make(map[string]string)
	for _, l := range ranked[0].Hyperlinks {
		labels[l.Label] = l.URL
	}
	gt.S(t, labels["GeneCards"]).Contains("MC4R")
	gt.S(t, labels["Ensembl"]).Contains("ENSG00000166603")
}
