package model

import (
	"time"

	"github.com/google/uuid"
)

type EvidenceID string

// NewEvidenceID generates a new unique EvidenceID
func NewEvidenceID() EvidenceID {
	return EvidenceID(uuid.New().String())
}

// EvidenceCategory discriminates the payload of an EvidenceRecord.
type EvidenceCategory string

const (
	CategoryStatistical EvidenceCategory = "statistical-association"
	CategoryLiterature  EvidenceCategory = "literature"
	CategoryFunctional  EvidenceCategory = "functional-annotation"
	CategoryPathway     EvidenceCategory = "pathway"
	CategoryNarrative   EvidenceCategory = "narrative"
)

// Categories lists all evidence categories in scoring order.
var Categories = []EvidenceCategory{
	CategoryStatistical,
	CategoryLiterature,
	CategoryFunctional,
	CategoryPathway,
	CategoryNarrative,
}

// EvidenceRecord is one immutable fact attributed to one source and tied to
// one canonical entity. Records are append-only; a merge reassigns the
// EntityID but never alters or drops the payload.
type EvidenceRecord struct {
	ID       EvidenceID       `json:"id"`
	EntityID EntityID         `json:"entity_id"`
	Source   string           `json:"source"`
	Category EvidenceCategory `json:"category"`

	// Payload holds exactly one of the typed payloads below, selected by
	// Category.
	Payload EvidencePayload `json:"payload"`

	// CallID links the record back to the exact tool invocation that
	// produced it, for provenance.
	CallID     CallID    `json:"call_id"`
	ObservedAt time.Time `json:"observed_at"`
}

// EvidencePayload is the tagged union of per-category payloads.
type EvidencePayload struct {
	Association *Association  `json:"association,omitempty"`
	Publication *Publication  `json:"publication,omitempty"`
	Annotation  *GOAnnotation `json:"annotation,omitempty"`
	Pathway     *PathwayRef   `json:"pathway,omitempty"`
	Narrative   string        `json:"narrative,omitempty"`
}

// Association is a statistical gene-trait association, typically a GWAS hit
// or an expression statistic.
type Association struct {
	Trait          string  `json:"trait"`
	PValue         float64 `json:"p_value,omitempty"`
	Beta           float64 `json:"beta,omitempty"` // effect size, or expression level for expression stats
	VariantID      string  `json:"variant_id,omitempty"`
	EffectAllele   string  `json:"effect_allele,omitempty"`
	SampleSize     int     `json:"sample_size,omitempty"`
	StudyAccession string  `json:"study_accession,omitempty"`
	PubMedID       string  `json:"pubmed_id,omitempty"`
}

// Significant reports whether the association passes the conventional
// genome-wide threshold.
func (a *Association) Significant() bool {
	return a.PValue > 0 && a.PValue < 5e-8
}

// Publication is a literature reference.
type Publication struct {
	PMID     string `json:"pmid"`
	Title    string `json:"title"`
	Abstract string `json:"abstract,omitempty"`
	Journal  string `json:"journal,omitempty"`
	PubDate  string `json:"pubdate,omitempty"`
	DOI      string `json:"doi,omitempty"`
}

// GOAnnotation is a Gene Ontology functional annotation.
type GOAnnotation struct {
	GOID         string `json:"go_id"`
	Term         string `json:"term"`
	Aspect       string `json:"aspect,omitempty"` // P, F or C
	EvidenceCode string `json:"evidence_code,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

// PathwayRef is a membership in a biological pathway.
type PathwayRef struct {
	PathwayID   string `json:"pathway_id"`
	Name        string `json:"name,omitempty"`
	Database    string `json:"database,omitempty"` // e.g. KEGG, Reactome
	Description string `json:"description,omitempty"`
}
