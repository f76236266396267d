package ensembl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mandrake/pkg/model"
)

func TestLookupGeneMapsEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/lookup/symbol/homo_sapiens/FTO")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "ENSG00000140718",
			"display_name": "FTO",
			"description": "FTO alpha-ketoglutarate dependent dioxygenase",
			"species": "homo_sapiens",
			"biotype": "protein_coding"
		}`))
	}))
	defer srv.Close()

	x := New()
	x.baseURL = srv.URL

	result, err := x.Execute(context.Background(), "lookup_gene", map[string]any{"symbol": "FTO"})
	gt.NoError(t, err)
	gt.A(t, result.Findings).Length(2)

	sighting := result.Findings[0]
	gt.Equal(t, sighting.Entity.ID, "ENSG00000140718")
	gt.Equal(t, sighting.Entity.Kind, model.EntityKindGene)
	gt.Equal(t, string(sighting.Category), "")

	gt.Equal(t, result.Findings[1].Category, model.CategoryFunctional)
}

func TestPathSegmentsAreEscaped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a raw "/" or space in the symbol would split the path here
		gt.Equal(t, r.URL.EscapedPath(), "/lookup/symbol/homo_sapiens/IL-6%20R%2FA")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ENSG00000160712","display_name":"IL6R","species":"homo_sapiens"}`))
	}))
	defer srv.Close()

	x := New()
	x.baseURL = srv.URL

	_, err := x.Execute(context.Background(), "lookup_gene", map[string]any{"symbol": "IL-6 R/A"})
	gt.NoError(t, err)
}

func TestFindOrthologsEscapesGeneID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.EscapedPath(), "/homology/id/homo_sapiens/ENSG00000140718%3FX")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"homologies":[{"target":{"id":"ENSMUSG00000055932","species":"mus_musculus"},"type":"ortholog_one2one"}]}]}`))
	}))
	defer srv.Close()

	x := New()
	x.baseURL = srv.URL

	result, err := x.Execute(context.Background(), "find_orthologs", map[string]any{"gene_id": "ENSG00000140718?X"})
	gt.NoError(t, err)
	gt.A(t, result.Findings).Length(1)
	gt.Equal(t, result.Findings[0].Entity.ID, "ENSMUSG00000055932")
}
