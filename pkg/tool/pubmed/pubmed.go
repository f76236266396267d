package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
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

const eutilsBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

type pubmed struct {
	apiKey     string
	httpClient *http.Client
}

// New creates a new PubMed literature tool
func New() *pubmed {
	return &pubmed{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Flags returns CLI flags for this tool
func (x *pubmed) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "pubmed-api-key",
			Sources:     cli.EnvVars("MANDRAKE_PUBMED_API_KEY"),
			Usage:       "NCBI E-utilities API key (raises rate limits)",
			Destination: &x.apiKey,
		},
	}
}

// Prompt returns additional information to be added to the system prompt
func (x *pubmed) Prompt(ctx context.Context) string {
	return `Use search_pubmed to find literature linking a gene to a trait. Pass the gene symbol in the "gene" argument so the publications are attributed to that gene as evidence.`
}

// Spec returns the tool specification for Gemini function calling
func (x *pubmed) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "search_pubmed",
				Description: "Search PubMed for publications matching a query and fetch their summaries",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {
							Type:        genai.TypeString,
							Description: "Search terms, e.g. a trait name optionally combined with a gene symbol",
						},
						"gene": {
							Type:        genai.TypeString,
							Description: "Gene symbol the publications relate to. Optional for exploratory searches",
						},
						"limit": {
							Type:        genai.TypeInteger,
							Description: "Maximum number of publications to return (default 5, max 20)",
						},
					},
					Required: []string{"query"},
				},
			},
		},
	}
}

// Execute runs the named function with normalized arguments
func (x *pubmed) Execute(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	if name != "search_pubmed" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unknown function", goerr.V("name", name))
	}

	query, _ := args["query"].(string)
	if query == "" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "query is required")
	}
	gene, _ := args["gene"].(string)
	limit := intArg(args, "limit", 5)
	if limit > 20 {
		limit = 20
	}

	pmids, err := x.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(pmids) == 0 {
		return &tool.Result{Raw: json.RawMessage(`{"pmids":[]}`)}, nil
	}

	summaries, raw, err := x.summaries(ctx, pmids)
	if err != nil {
		return nil, err
	}

	result := &tool.Result{Raw: raw}
	for _, pub := range summaries {
		finding := &tool.Finding{
			Category: model.CategoryLiterature,
			Payload:  model.EvidencePayload{Publication: pub},
		}
		if gene != "" {
			finding.Entity = tool.EntityRef{
				ID:     gene,
				Symbol: strings.ToUpper(gene),
				Kind:   model.EntityKindGene,
			}
		}
		result.Findings = append(result.Findings, finding)
	}

	return result, nil
}

// search runs esearch and returns PMIDs.
func (x *pubmed) search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmax":  {fmt.Sprintf("%d", limit)},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}
	var body struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if _, err := x.getJSON(ctx, "/esearch.fcgi", params, &body); err != nil {
		return nil, err
	}
	return body.ESearchResult.IDList, nil
}

// summaries runs esummary for the given PMIDs.
func (x *pubmed) summaries(ctx context.Context, pmids []string) ([]*model.Publication, json.RawMessage, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"json"},
	}
	var body struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	raw, err := x.getJSON(ctx, "/esummary.fcgi", params, &body)
	if err != nil {
		return nil, nil, err
	}

	var pubs []*model.Publication
	for _, pmid := range pmids {
		entry, ok := body.Result[pmid]
		if !ok {
			continue
		}
		var doc struct {
			Title       string `json:"title"`
			FullJournal string `json:"fulljournalname"`
			PubDate     string `json:"pubdate"`
			ELocationID string `json:"elocationid"`
		}
		if err := json.Unmarshal(entry, &doc); err != nil {
			continue
		}
		pubs = append(pubs, &model.Publication{
			PMID:    pmid,
			Title:   doc.Title,
			Journal: doc.FullJournal,
			PubDate: doc.PubDate,
			DOI:     strings.TrimPrefix(doc.ELocationID, "doi: "),
		})
	}

	return pubs, raw, nil
}

func (x *pubmed) getJSON(ctx context.Context, path string, params url.Values, out any) (json.RawMessage, error) {
	if x.apiKey != "" {
		params.Set("api_key", x.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, eutilsBaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTransientTool, "pubmed request failed", goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTransientTool, "failed to read pubmed response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, goerr.Wrap(model.ErrTransientTool, "pubmed unavailable", goerr.V("status", resp.StatusCode))
	default:
		return nil, goerr.Wrap(model.ErrPermanentTool, "pubmed rejected request", goerr.V("status", resp.StatusCode))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unexpected pubmed response shape")
	}
	return data, nil
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
