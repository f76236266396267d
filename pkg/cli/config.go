package cli

import (
	"context"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/adapter"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/repository"
	"github.com/m-mizutani/mandrake/pkg/service/mcp"
	"github.com/m-mizutani/mandrake/pkg/tool"
	"github.com/m-mizutani/mandrake/pkg/tool/ensembl"
	"github.com/m-mizutani/mandrake/pkg/tool/expression"
	"github.com/m-mizutani/mandrake/pkg/tool/gwascat"
	"github.com/m-mizutani/mandrake/pkg/tool/kegg"
	"github.com/m-mizutani/mandrake/pkg/tool/pubmed"
	"github.com/m-mizutani/mandrake/pkg/tool/quickgo"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	// Repository
	project  string
	database string

	// Adapters
	geminiProject  string
	geminiLocation string
	geminiModel    string
	bucket         string

	// Pipeline
	policyDir   string
	mcpConfig   string
	budgetsPath string

	logLevel string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MANDRAKE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model for generation",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

// pipelineFlags returns flags for pipeline-specific configuration
func pipelineFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "GCS bucket for raw tool result archives",
			Sources:     cli.EnvVars("MANDRAKE_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory with Rego policies gating tool calls",
			Sources:     cli.EnvVars("MANDRAKE_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "Path to MCP server configuration (YAML)",
			Sources:     cli.EnvVars("MANDRAKE_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
		&cli.StringFlag{
			Name:        "budgets",
			Usage:       "Path to YAML file overriding pipeline budgets",
			Sources:     cli.EnvVars("MANDRAKE_BUDGETS"),
			Destination: &cfg.budgetsPath,
		},
	}
}

// newRepository creates the run archive. Without a project it falls back to
// the in-memory store, which only lives for the process.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	if cfg.project == "" {
		return repository.NewMemory(), nil
	}
	repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel))
}

// newStorage creates a new Storage adapter instance, or nil when no bucket
// is configured.
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, nil
	}
	storage, err := adapter.NewStorage(ctx, cfg.bucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// defaultTools builds the built-in data-source tools. The expression tool
// initializes its BigQuery client lazily so the flag values are available.
func (cfg *config) defaultTools() []tool.Tool {
	return []tool.Tool{
		gwascat.New(),
		pubmed.New(),
		ensembl.New(),
		quickgo.New(),
		kegg.New(),
		expression.New(&lazyBigQuery{cfg: cfg}),
	}
}

// newRegistry assembles the tool registry, appending MCP-provided tools when
// an MCP configuration is given.
func (cfg *config) newRegistry(ctx context.Context, tools []tool.Tool) (*tool.Registry, error) {
	if cfg.mcpConfig != "" {
		mcpTool, err := mcp.LoadAndConnect(ctx, cfg.mcpConfig)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load MCP tools")
		}
		tools = append(tools, mcpTool)
	}
	return tool.New(tools...), nil
}

// loadBudgets applies YAML overrides on top of the defaults.
func (cfg *config) loadBudgets() (model.Budgets, error) {
	budgets := model.DefaultBudgets()
	if cfg.budgetsPath == "" {
		return budgets, nil
	}

	data, err := os.ReadFile(cfg.budgetsPath)
	if err != nil {
		return budgets, goerr.Wrap(err, "failed to read budgets file", goerr.Value("path", cfg.budgetsPath))
	}

	var overrides struct {
		PipelineTimeout              *duration `yaml:"pipeline_timeout"`
		CallTimeout                  *duration `yaml:"call_timeout"`
		MaxRetries                   *int      `yaml:"max_retries"`
		RetryBackoff                 *duration `yaml:"retry_backoff"`
		ResearchCalls                *int      `yaml:"research_calls"`
		ValidationCallsPerHypothesis *int      `yaml:"validation_calls_per_hypothesis"`
		Workers                      *int      `yaml:"workers"`
		CacheTTL                     *duration `yaml:"cache_ttl"`
		MaxOutputTokens              *int      `yaml:"max_output_tokens"`
	}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return budgets, goerr.Wrap(err, "failed to parse budgets file")
	}

	if overrides.PipelineTimeout != nil {
		budgets.PipelineTimeout = time.Duration(*overrides.PipelineTimeout)
	}
	if overrides.CallTimeout != nil {
		budgets.CallTimeout = time.Duration(*overrides.CallTimeout)
	}
	if overrides.MaxRetries != nil {
		budgets.MaxRetries = *overrides.MaxRetries
	}
	if overrides.RetryBackoff != nil {
		budgets.RetryBackoff = time.Duration(*overrides.RetryBackoff)
	}
	if overrides.ResearchCalls != nil {
		budgets.ResearchCalls = *overrides.ResearchCalls
	}
	if overrides.ValidationCallsPerHypothesis != nil {
		budgets.ValidationCallsPerHypothesis = *overrides.ValidationCallsPerHypothesis
	}
	if overrides.Workers != nil {
		budgets.Workers = *overrides.Workers
	}
	if overrides.CacheTTL != nil {
		budgets.CacheTTL = time.Duration(*overrides.CacheTTL)
	}
	if overrides.MaxOutputTokens != nil {
		budgets.MaxOutputTokens = *overrides.MaxOutputTokens
	}
	return budgets, nil
}

// duration parses Go duration strings in YAML, e.g. "10m" or "500ms".
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return goerr.Wrap(err, "invalid duration", goerr.Value("value", node.Value))
	}
	*d = duration(parsed)
	return nil
}

// lazyBigQuery defers client creation until the first query so the project
// flag is bound by then. Without a project the expression tool reports a
// permanent error instead of breaking startup.
type lazyBigQuery struct {
	cfg  *config
	once sync.Once
	bq   adapter.BigQuery
	err  error
}

func (l *lazyBigQuery) Query(ctx context.Context, query string, params []bigquery.QueryParameter) ([]map[string]any, error) {
	l.once.Do(func() {
		if l.cfg.project == "" {
			l.err = goerr.Wrap(model.ErrPermanentTool, "expression tool requires a Google Cloud project")
			return
		}
		l.bq, l.err = adapter.NewBigQuery(ctx, l.cfg.project)
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.bq.Query(ctx, query, params)
}
