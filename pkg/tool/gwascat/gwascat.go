package gwascat

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

const defaultBaseURL = "https://www.ebi.ac.uk/gwas/rest/api"

type gwascat struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new GWAS Catalog association tool
func New() *gwascat {
	return &gwascat{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Flags returns CLI flags for this tool
func (x *gwascat) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gwas-base-url",
			Sources:     cli.EnvVars("MANDRAKE_GWAS_BASE_URL"),
			Usage:       "GWAS Catalog REST API base URL",
			Value:       defaultBaseURL,
			Destination: &x.baseURL,
		},
	}
}

// Prompt returns additional information to be added to the system prompt
func (x *gwascat) Prompt(ctx context.Context) string {
	return `Use search_gwas_associations to find statistical gene-trait associations from the GWAS Catalog. Associations with p-values below 5e-8 are genome-wide significant.`
}

// Spec returns the tool specification for Gemini function calling
func (x *gwascat) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "search_gwas_associations",
				Description: "Search the GWAS Catalog for trait associations of a gene",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"gene": {
							Type:        genai.TypeString,
							Description: "Gene symbol to look up associations for",
						},
						"limit": {
							Type:        genai.TypeInteger,
							Description: "Maximum number of associations (default 10)",
						},
					},
					Required: []string{"gene"},
				},
			},
		},
	}
}

// Execute runs the named function with normalized arguments
func (x *gwascat) Execute(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	if name != "search_gwas_associations" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unknown function", goerr.V("name", name))
	}

	gene, _ := args["gene"].(string)
	if gene == "" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "gene is required")
	}
	limit := 10
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	params := url.Values{
		"geneName": {strings.ToUpper(gene)},
		"size":     {"50"},
	}

	var body struct {
		Embedded struct {
			Associations []struct {
				PValue float64 `json:"pvalue"`
				Loci   []struct {
					AuthorReportedGenes []struct {
						GeneName string `json:"geneName"`
					} `json:"authorReportedGenes"`
					StrongestRiskAlleles []struct {
						RiskAlleleName string `json:"riskAlleleName"`
					} `json:"strongestRiskAlleles"`
				} `json:"loci"`
				Study struct {
					AccessionID   string `json:"accessionId"`
					PublicationID struct {
						PubmedID string `json:"pubmedId"`
					} `json:"publicationInfo"`
					DiseaseTrait struct {
						Trait string `json:"trait"`
					} `json:"diseaseTrait"`
				} `json:"study"`
			} `json:"associations"`
		} `json:"_embedded"`
	}

	raw, err := x.getJSON(ctx, "/associations/search/findByGeneName?"+params.Encode(), &body)
	if err != nil {
		return nil, err
	}

	entity := tool.EntityRef{
		ID:     gene,
		Symbol: strings.ToUpper(gene),
		Kind:   model.EntityKindGene,
	}

	result := &tool.Result{Raw: raw}
	for _, assoc := range body.Embedded.Associations {
		if len(result.Findings) >= limit {
			break
		}

		a := &model.Association{
			Trait:          assoc.Study.DiseaseTrait.Trait,
			PValue:         assoc.PValue,
			StudyAccession: assoc.Study.AccessionID,
			PubMedID:       assoc.Study.PublicationID.PubmedID,
		}
		for _, locus := range assoc.Loci {
			if len(locus.StrongestRiskAlleles) > 0 {
				a.VariantID = locus.StrongestRiskAlleles[0].RiskAlleleName
				break
			}
		}

		result.Findings = append(result.Findings, &tool.Finding{
			Entity:   entity,
			Category: model.CategoryStatistical,
			Payload:  model.EvidencePayload{Association: a},
		})
	}

	return result, nil
}

func (x *gwascat) getJSON(ctx context.Context, path string, out any) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.baseURL+path, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTransientTool, "gwas catalog request failed", goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTransientTool, "failed to read gwas catalog response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, goerr.Wrap(model.ErrPermanentTool, "no associations found", goerr.V("status", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, goerr.Wrap(model.ErrTransientTool, "gwas catalog unavailable", goerr.V("status", resp.StatusCode))
	default:
		return nil, goerr.Wrap(model.ErrPermanentTool, "gwas catalog rejected request", goerr.V("status", resp.StatusCode))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unexpected gwas catalog response shape")
	}
	return data, nil
}
