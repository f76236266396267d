package quickgo

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

const quickgoBaseURL = "https://www.ebi.ac.uk/QuickGO/services"

type quickgo struct {
	httpClient *http.Client
}

// New creates a new QuickGO annotation tool
func New() *quickgo {
	return &quickgo{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Flags returns CLI flags for this tool
func (x *quickgo) Flags() []cli.Flag {
	return nil
}

// Prompt returns additional information to be added to the system prompt
func (x *quickgo) Prompt(ctx context.Context) string {
	return `Use get_go_annotations to fetch Gene Ontology functional annotations for a gene. Annotations describe what the gene product does and where it acts.`
}

// Spec returns the tool specification for Gemini function calling
func (x *quickgo) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "get_go_annotations",
				Description: "Fetch Gene Ontology functional annotations for a gene symbol",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"gene": {
							Type:        genai.TypeString,
							Description: "Gene symbol, e.g. IRX3",
						},
						"aspect": {
							Type:        genai.TypeString,
							Description: "Restrict to one GO aspect",
							Enum:        []string{"biological_process", "molecular_function", "cellular_component"},
						},
					},
					Required: []string{"gene"},
				},
			},
		},
	}
}

// Execute runs the named function with normalized arguments
func (x *quickgo) Execute(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	if name != "get_go_annotations" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unknown function", goerr.V("name", name))
	}

	gene, _ := args["gene"].(string)
	if gene == "" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "gene is required")
	}

	params := url.Values{
		"geneProductId": {strings.ToUpper(gene)},
		"limit":         {"25"},
	}
	if aspect, ok := args["aspect"].(string); ok && aspect != "" {
		params.Set("aspect", aspect)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		quickgoBaseURL+"/annotation/search?"+params.Encode(), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTransientTool, "quickgo request failed", goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTransientTool, "failed to read quickgo response")
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, goerr.Wrap(model.ErrTransientTool, "quickgo unavailable", goerr.V("status", resp.StatusCode))
		}
		return nil, goerr.Wrap(model.ErrPermanentTool, "quickgo rejected request", goerr.V("status", resp.StatusCode))
	}

	var body struct {
		Results []struct {
			GoID       string `json:"goId"`
			GoName     string `json:"goName"`
			GoAspect   string `json:"goAspect"`
			Evidence   string `json:"goEvidence"`
			Reference  string `json:"reference"`
			Qualifier  string `json:"qualifier"`
			AssignedBy string `json:"assignedBy"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unexpected quickgo response shape")
	}

	entity := tool.EntityRef{
		ID:     gene,
		Symbol: strings.ToUpper(gene),
		Kind:   model.EntityKindGene,
	}

	result := &tool.Result{Raw: data}
	for _, r := range body.Results {
		result.Findings = append(result.Findings, &tool.Finding{
			Entity:   entity,
			Category: model.CategoryFunctional,
			Payload: model.EvidencePayload{
				Annotation: &model.GOAnnotation{
					GOID:         r.GoID,
					Term:         r.GoName,
					Aspect:       r.GoAspect,
					EvidenceCode: r.Evidence,
					Reference:    r.Reference,
				},
			},
		})
	}

	return result, nil
}
