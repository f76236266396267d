package ensembl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const defaultBaseURL = "https://rest.ensembl.org"

type ensembl struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Ensembl gene lookup tool
func New() *ensembl {
	return &ensembl{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Flags returns CLI flags for this tool
func (x *ensembl) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "ensembl-base-url",
			Sources:     cli.EnvVars("MANDRAKE_ENSEMBL_BASE_URL"),
			Usage:       "Ensembl REST API base URL",
			Value:       defaultBaseURL,
			Destination: &x.baseURL,
		},
	}
}

// Prompt returns additional information to be added to the system prompt
func (x *ensembl) Prompt(ctx context.Context) string {
	return `Use lookup_gene to resolve a gene symbol to its Ensembl stable ID and description, and find_orthologs to expand a gene to its orthologs in other species. Ortholog identifiers are cross-references of the same underlying gene family.`
}

// Spec returns the tool specification for Gemini function calling
func (x *ensembl) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "lookup_gene",
				Description: "Resolve a gene symbol to Ensembl stable IDs with description and location",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"symbol": {
							Type:        genai.TypeString,
							Description: "Gene symbol, e.g. FTO",
						},
						"species": {
							Type:        genai.TypeString,
							Description: "Species name (default homo_sapiens)",
						},
					},
					Required: []string{"symbol"},
				},
			},
			{
				Name:        "find_orthologs",
				Description: "Find orthologs of a gene in other species by Ensembl stable ID",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"gene_id": {
							Type:        genai.TypeString,
							Description: "Ensembl stable gene ID, e.g. ENSG00000140718",
						},
						"species": {
							Type:        genai.TypeString,
							Description: "Species of the source gene (default homo_sapiens)",
						},
					},
					Required: []string{"gene_id"},
				},
			},
		},
	}
}

// Execute runs the named function with normalized arguments
func (x *ensembl) Execute(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	species, _ := args["species"].(string)
	if species == "" {
		species = "homo_sapiens"
	}

	switch name {
	case "lookup_gene":
		symbol, _ := args["symbol"].(string)
		if symbol == "" {
			return nil, goerr.Wrap(model.ErrPermanentTool, "symbol is required")
		}
		return x.lookupGene(ctx, symbol, species)
	case "find_orthologs":
		geneID, _ := args["gene_id"].(string)
		if geneID == "" {
			return nil, goerr.Wrap(model.ErrPermanentTool, "gene_id is required")
		}
		return x.findOrthologs(ctx, geneID, species)
	default:
		return nil, goerr.Wrap(model.ErrPermanentTool, "unknown function", goerr.V("name", name))
	}
}

func (x *ensembl) lookupGene(ctx context.Context, symbol, species string) (*tool.Result, error) {
	var entry struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
		Species     string `json:"species"`
		Biotype     string `json:"biotype"`
	}
	// symbols come from the model and may carry characters that break the path
	raw, err := x.getJSON(ctx, "/lookup/symbol/"+url.PathEscape(species)+"/"+url.PathEscape(symbol)+"?content-type=application/json", &entry)
	if err != nil {
		return nil, err
	}

	entity := tool.EntityRef{
		ID:          entry.ID,
		Symbol:      entry.DisplayName,
		Species:     species,
		Kind:        model.EntityKindGene,
		Aliases:     []string{symbol, entry.DisplayName},
		Description: entry.Description,
	}

	result := &tool.Result{Raw: raw}
	// A sighting finding registers the entity and its aliases.
	result.Findings = append(result.Findings, &tool.Finding{Entity: entity})
	if entry.Description != "" {
		result.Findings = append(result.Findings, &tool.Finding{
			Entity:   entity,
			Category: model.CategoryFunctional,
			Payload: model.EvidencePayload{
				Annotation: &model.GOAnnotation{
					Term:      entry.Description,
					Reference: "ensembl:" + entry.ID,
				},
			},
		})
	}

	return result, nil
}

func (x *ensembl) findOrthologs(ctx context.Context, geneID, species string) (*tool.Result, error) {
	var body struct {
		Data []struct {
			Homologies []struct {
				Target struct {
					ID      string `json:"id"`
					Species string `json:"species"`
				} `json:"target"`
				Type string `json:"type"`
			} `json:"homologies"`
		} `json:"data"`
	}
	raw, err := x.getJSON(ctx, "/homology/id/"+url.PathEscape(species)+"/"+url.PathEscape(strings.ToUpper(geneID))+"?type=orthologues&format=condensed&content-type=application/json", &body)
	if err != nil {
		return nil, err
	}

	result := &tool.Result{Raw: raw}
	for _, d := range body.Data {
		for _, hom := range d.Homologies {
			if hom.Target.ID == "" {
				continue
			}
			result.Findings = append(result.Findings, &tool.Finding{
				Entity: tool.EntityRef{
					ID:      hom.Target.ID,
					Species: hom.Target.Species,
					Kind:    model.EntityKindGene,
					// Orthologs are distinct entities but share the
					// source gene as a cross-reference for grouping.
					Aliases: []string{hom.Target.ID},
				},
			})
		}
	}

	return result, nil
}

func (x *ensembl) getJSON(ctx context.Context, path string, out any) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.baseURL+path, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTransientTool, "ensembl request failed", goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTransientTool, "failed to read ensembl response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return nil, goerr.Wrap(model.ErrPermanentTool, "gene not found", goerr.V("status", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, goerr.Wrap(model.ErrTransientTool, "ensembl unavailable", goerr.V("status", resp.StatusCode))
	default:
		return nil, goerr.Wrap(model.ErrPermanentTool, "ensembl rejected request", goerr.V("status", resp.StatusCode))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unexpected ensembl response shape")
	}
	return data, nil
}
