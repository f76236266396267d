package expression

import (
	"context"
	"encoding/json"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/adapter"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// defaultTable is the GTEx v8 public dataset with median expression per
// tissue.
const defaultTable = "bigquery-public-data.gtex_v8.gene_median_tpm"

type expression struct {
	bq    adapter.BigQuery
	table string
}

// New creates a new expression statistics tool backed by BigQuery public
// genomics datasets. Pass a nil client to disable the tool.
func New(bq adapter.BigQuery) *expression {
	return &expression{
		bq:    bq,
		table: defaultTable,
	}
}

// Flags returns CLI flags for this tool
func (x *expression) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "expression-table",
			Sources:     cli.EnvVars("MANDRAKE_EXPRESSION_TABLE"),
			Usage:       "BigQuery table with per-tissue median expression",
			Value:       defaultTable,
			Destination: &x.table,
		},
	}
}

// Prompt returns additional information to be added to the system prompt
func (x *expression) Prompt(ctx context.Context) string {
	if x.bq == nil {
		return ""
	}
	return `Use get_expression_stats to check in which tissues a gene is expressed. High expression in a trait-relevant tissue supports a mechanistic link.`
}

// Spec returns the tool specification for Gemini function calling
func (x *expression) Spec() *genai.Tool {
	if x.bq == nil {
		return nil
	}
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "get_expression_stats",
				Description: "Fetch median per-tissue expression levels (TPM) for a gene from GTEx",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"gene": {
							Type:        genai.TypeString,
							Description: "Gene symbol, e.g. FTO",
						},
						"min_tpm": {
							Type:        genai.TypeNumber,
							Description: "Only return tissues with median TPM above this threshold (default 1.0)",
						},
					},
					Required: []string{"gene"},
				},
			},
		},
	}
}

// Execute runs the named function with normalized arguments
func (x *expression) Execute(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	if name != "get_expression_stats" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "unknown function", goerr.V("name", name))
	}
	if x.bq == nil {
		return nil, goerr.Wrap(model.ErrPermanentTool, "expression tool is not configured")
	}

	gene, _ := args["gene"].(string)
	if gene == "" {
		return nil, goerr.Wrap(model.ErrPermanentTool, "gene is required")
	}
	minTPM := 1.0
	if v, ok := args["min_tpm"].(float64); ok && v > 0 {
		minTPM = v
	}

	query := `SELECT tissue_type, median_tpm FROM ` + "`" + x.table + "`" +
		` WHERE UPPER(gene_description) = @gene AND median_tpm >= @min_tpm ORDER BY median_tpm DESC LIMIT 20`
	rows, err := x.bq.Query(ctx, query, []bigquery.QueryParameter{
		{Name: "gene", Value: strings.ToUpper(gene)},
		{Name: "min_tpm", Value: minTPM},
	})
	if err != nil {
		return nil, model.ClassifyToolError(err)
	}

	entity := tool.EntityRef{
		ID:     gene,
		Symbol: strings.ToUpper(gene),
		Kind:   model.EntityKindGene,
	}

	result := &tool.Result{}
	for _, row := range rows {
		tissue, _ := row["tissue_type"].(string)
		tpm, _ := row["median_tpm"].(float64)
		result.Findings = append(result.Findings, &tool.Finding{
			Entity:   entity,
			Category: model.CategoryStatistical,
			Payload: model.EvidencePayload{
				Association: &model.Association{
					Trait: "expression:" + tissue,
					Beta:  tpm,
				},
			},
		})
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode expression rows")
	}
	result.Raw = raw

	return result, nil
}
