package kegg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const keggBaseURL = "https://rest.kegg.jp"

type kegg struct {
	httpClient *http.Client
}

// New creates a new KEGG pathway tool
func New() *kegg {
	return &kegg{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Flags returns CLI flags for this tool
func (x *kegg) Flags() []cli.Flag {
	return nil
}

// Prompt returns additional information to be added to the system prompt
func (x *kegg) Prompt(ctx context.Context) string {
	return `Use get_pathways to list the KEGG pathways a gene participates in. Pathway membership is evidence that the gene acts in a relevant biological process.`
}

// Spec returns the tool specification for Gemini function calling
func (x *kegg) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "get_pathways",
				Description: "List KEGG pathways for a gene symbol",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"gene": {
							Type:        genai.TypeString,
							Description: "Gene symbol, e.g. MC4R",
						},
						"organism": {
							Type:        genai.TypeString,
							Description: "KEGG organism code (default hsa for human)",
						},
					},
					Required: []string{"gene"},
				},
			},
		},
	}
}

// Execute runs the named function with normalized arguments
func (x *kegg) Execute(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	if name != "get_pathways" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unknown function", goerr.V("name", name))
	}

	gene, _ := args["gene"].(string)
	if gene == "" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "gene is required")
	}
	organism, _ := args["organism"].(string)
	if organism == "" {
		organism = "hsa"
	}

	// KEGG is a flat-text API: first resolve the symbol to a KEGG gene
	// entry, then list its pathways.
	keggID, err := x.resolveGene(ctx, organism, gene)
	if err != nil {
		return nil, err
	}

	lines, raw, err := x.getLines(ctx, "/link/pathway/"+keggID)
	if err != nil {
		return nil, err
	}

	entity := tool.EntityRef{
		ID:      gene,
		Symbol:  strings.ToUpper(gene),
		Kind:    model.EntityKindGene,
		Aliases: []string{keggID},
	}

	result := &tool.Result{Raw: raw}
	for _, line := range lines {
		// Format: "hsa:4160\tpath:hsa04080"
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			continue
		}
		pathwayID := strings.TrimPrefix(fields[1], "path:")
		result.Findings = append(result.Findings, &tool.Finding{
			Entity:   entity,
			Category: model.CategoryPathway,
			Payload: model.EvidencePayload{
				Pathway: &model.PathwayRef{
					PathwayID: pathwayID,
					Database:  "KEGG",
				},
			},
		})
	}

	return result, nil
}

// resolveGene finds the KEGG gene identifier for a symbol.
func (x *kegg) resolveGene(ctx context.Context, organism, gene string) (string, error) {
	lines, _, err := x.getLines(ctx, "/find/genes/"+organism+"+"+strings.ToLower(gene))
	if err != nil {
		return "", err
	}

	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		// The description lists symbols: "MC4R; melanocortin 4 receptor".
		symbols := strings.Split(fields[1], ";")[0]
		for _, s := range strings.Split(symbols, ",") {
			if strings.EqualFold(strings.TrimSpace(s), gene) {
				return fields[0], nil
			}
		}
	}

	return "", goerr.Wrap(model.ErrPermanentTool, "gene not found in KEGG",
		goerr.V("gene", gene), goerr.V("organism", organism))
}

func (x *kegg) getLines(ctx context.Context, path string) ([]string, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keggBaseURL+path, nil)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create request")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, nil, goerr.Wrap(model.ErrTransientTool, "kegg request failed", goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, goerr.Wrap(model.ErrTransientTool, "failed to read kegg response")
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, nil, goerr.Wrap(model.ErrTransientTool, "kegg unavailable", goerr.V("status", resp.StatusCode))
		}
		return nil, nil, goerr.Wrap(model.ErrPermanentTool, "kegg rejected request", goerr.V("status", resp.StatusCode))
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	raw, err := json.Marshal(map[string]any{"lines": lines})
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to encode kegg response")
	}
	return lines, raw, nil
}
