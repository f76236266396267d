package model

import "time"

// Budgets bounds pipeline cost and latency. All values are configurable; the
// defaults are deliberately conservative.
type Budgets struct {
	// PipelineTimeout is the overall wall-clock budget. When exceeded
	// mid-stage the orchestrator degrades to synthesis with whatever
	// evidence has accumulated.
	PipelineTimeout time.Duration `yaml:"pipeline_timeout"`

	// CallTimeout is the hard per-call timeout for a tool adapter
	// invocation. A timeout classifies as transient.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxRetries bounds retries of transient tool failures.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per retry.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// ResearchCalls caps the number of tool calls in the research stage.
	ResearchCalls int `yaml:"research_calls"`

	// ValidationCallsPerHypothesis caps tool calls issued while validating
	// one hypothesis.
	ValidationCallsPerHypothesis int `yaml:"validation_calls_per_hypothesis"`

	// Workers bounds concurrent tool calls within a stage.
	Workers int `yaml:"workers"`

	// CacheTTL is the tool result cache time-to-live.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// MaxOutputTokens bounds each narrative generation call.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// DefaultBudgets returns the conservative defaults.
func DefaultBudgets() Budgets {
	return Budgets{
		PipelineTimeout:              10 * time.Minute,
		CallTimeout:                  30 * time.Second,
		MaxRetries:                   2,
		RetryBackoff:                 500 * time.Millisecond,
		ResearchCalls:                12,
		ValidationCallsPerHypothesis: 30,
		Workers:                      8,
		CacheTTL:                     24 * time.Hour,
		MaxOutputTokens:              1200,
	}
}
