package evidence_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/m-mizutani/mandrake/pkg/usecase/evidence"
)

func statFinding(ref tool.EntityRef, trait string, pvalue float64) *tool.Finding {
	return &tool.Finding{
		Entity:   ref,
		Category: model.CategoryStatistical,
		Payload: model.EvidencePayload{
			Association: &model.Association{Trait: trait, PValue: pvalue},
		},
	}
}

func litFinding(ref tool.EntityRef, pmid string) *tool.Finding {
	return &tool.Finding{
		Entity:   ref,
		Category: model.CategoryLiterature,
		Payload: model.EvidencePayload{
			Publication: &model.Publication{PMID: pmid, Title: "title " + pmid},
		},
	}
}

func TestIngestCreatesEntity(t *testing.T) {
	a := evidence.New()

	record, err := a.Ingest(statFinding(tool.EntityRef{
		ID:     "MC4R",
		Symbol: "MC4R",
		Kind:   model.EntityKindGene,
	}, "obesity", 2e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	gt.V(t, record).NotNil()
	gt.Equal(t, record.EntityID, model.EntityID("mc4r"))

	entities := a.Entities()
	gt.A(t, entities).Length(1)
	gt.Equal(t, entities[0].Symbol, "MC4R")
	gt.A(t, a.EvidenceFor("mc4r")).Length(1)
}

func TestIngestSightingOnly(t *testing.T) {
	a := evidence.New()

	record, err := a.Ingest(&tool.Finding{
		Entity: tool.EntityRef{ID: "ENSG00000166603", Symbol: "MC4R", Kind: model.EntityKindGene},
	}, "ensembl", model.NewCallID())
	gt.NoError(t, err)
	gt.Nil(t, record)

	gt.A(t, a.Entities()).Length(1)
	gt.A(t, a.EvidenceFor("ensg00000166603")).Length(0)
}

func TestIngestWithoutEntityIsSkipped(t *testing.T) {
	a := evidence.New()

	record, err := a.Ingest(&tool.Finding{
		Category: model.CategoryNarrative,
		Payload:  model.EvidencePayload{Narrative: "something vague"},
	}, "mcp", model.NewCallID())
	gt.NoError(t, err)
	gt.Nil(t, record)
	gt.A(t, a.Entities()).Length(0)
}

func TestResolutionOrder(t *testing.T) {
	a := evidence.New()

	_, err := a.Ingest(statFinding(tool.EntityRef{
		ID:      "ENSG00000166603",
		Symbol:  "MC4R",
		Kind:    model.EntityKindGene,
		Aliases: []string{"hsa:4160"},
	}, "obesity", 1e-10), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)

	// exact identifier
	id, ok := a.Resolve(tool.EntityRef{ID: "ensg00000166603"})
	gt.True(t, ok)
	gt.Equal(t, id, model.EntityID("ensg00000166603"))

	// known alias
	id, ok = a.Resolve(tool.EntityRef{ID: "HSA:4160"})
	gt.True(t, ok)
	gt.Equal(t, id, model.EntityID("ensg00000166603"))

	// case-insensitive symbol
	id, ok = a.Resolve(tool.EntityRef{ID: "something-else", Symbol: "mc4r"})
	gt.True(t, ok)
	gt.Equal(t, id, model.EntityID("ensg00000166603"))

	_, ok = a.Resolve(tool.EntityRef{ID: "fto"})
	gt.False(t, ok)
}

func TestAliasOverlapTriggersMerge(t *testing.T) {
	a := evidence.New()

	_, err := a.Ingest(statFinding(tool.EntityRef{
		ID: "mc4r", Symbol: "MC4R", Kind: model.EntityKindGene,
	}, "obesity", 3e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)

	_, err = a.Ingest(litFinding(tool.EntityRef{
		ID: "ensg00000166603", Kind: model.EntityKindGene,
	}, "12345"), "pubmed", model.NewCallID())
	gt.NoError(t, err)
	gt.A(t, a.Entities()).Length(2)

	// a cross-reference sighting carrying both identifiers proves identity
	_, err = a.Ingest(&tool.Finding{
		Entity: tool.EntityRef{
			ID:      "ensg00000166603",
			Symbol:  "MC4R",
			Kind:    model.EntityKindGene,
			Aliases: []string{"mc4r"},
		},
	}, "ensembl", model.NewCallID())
	gt.NoError(t, err)

	entities := a.Entities()
	gt.A(t, entities).Length(1)
	// earlier-created entity survives
	gt.Equal(t, entities[0].ID, model.EntityID("mc4r"))
	gt.True(t, entities[0].HasAlias("ensg00000166603"))

	// no record dropped, all reattributed to the survivor
	records := a.EvidenceFor("mc4r")
	gt.A(t, records).Length(2)
	for _, r := range records {
		gt.Equal(t, r.EntityID, model.EntityID("mc4r"))
	}

	// stale ID still resolves through the redirect
	gt.A(t, a.EvidenceFor("ensg00000166603")).Length(2)
}

func TestMergeIdempotent(t *testing.T) {
	a := evidence.New()

	_, err := a.Ingest(statFinding(tool.EntityRef{ID: "fto", Symbol: "FTO", Kind: model.EntityKindGene}, "bmi", 1e-20), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	_, err = a.Ingest(litFinding(tool.EntityRef{ID: "ensg00000140718", Kind: model.EntityKindGene}, "999"), "pubmed", model.NewCallID())
	gt.NoError(t, err)

	survivor, err := a.Merge("fto", "ensg00000140718")
	gt.NoError(t, err)
	gt.Equal(t, survivor, model.EntityID("fto"))

	aliasesOnce := append([]string{}, a.Entities()[0].Aliases...)
	recordsOnce := len(a.EvidenceFor("fto"))

	// merging again, in either direction, changes nothing
	survivor, err = a.Merge("fto", "ensg00000140718")
	gt.NoError(t, err)
	gt.Equal(t, survivor, model.EntityID("fto"))
	survivor, err = a.Merge("ensg00000140718", "fto")
	gt.NoError(t, err)
	gt.Equal(t, survivor, model.EntityID("fto"))

	gt.A(t, a.Entities()).Length(1)
	gt.Equal(t, a.Entities()[0].Aliases, aliasesOnce)
	gt.Equal(t, len(a.EvidenceFor("fto")), recordsOnce)
}

func TestMergeConflictKeepsBoth(t *testing.T) {
	a := evidence.New()

	_, err := a.Ingest(statFinding(tool.EntityRef{
		ID: "lep", Symbol: "LEP", Kind: model.EntityKindGene, Species: "homo_sapiens",
	}, "obesity", 4e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	_, err = a.Ingest(litFinding(tool.EntityRef{
		ID: "mgi:104663", Kind: model.EntityKindGene, Species: "mus_musculus",
	}, "777"), "pubmed", model.NewCallID())
	gt.NoError(t, err)

	_, err = a.Merge("lep", "mgi:104663")
	gt.Error(t, err)
	gt.True(t, model.IsMergeConflict(err))

	// both survive, flagged, and no evidence was dropped
	entities := a.Entities()
	gt.A(t, entities).Length(2)
	for _, e := range entities {
		gt.A(t, e.MergeNotes).Longer(0)
	}
	gt.A(t, a.EvidenceFor("lep")).Length(1)
	gt.A(t, a.EvidenceFor("mgi:104663")).Length(1)
}

func TestClockOption(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := evidence.New(evidence.WithClock(func() time.Time { return fixed }))

	record, err := a.Ingest(statFinding(tool.EntityRef{ID: "mc4r", Kind: model.EntityKindGene}, "obesity", 1e-9), "gwas_catalog", model.NewCallID())
	gt.NoError(t, err)
	gt.Equal(t, record.ObservedAt, fixed)
	gt.Equal(t, a.Entities()[0].FirstSeenAt, fixed)
}
