package tool

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Tool represents one external data source that research stages can call.
// A single Tool may expose several function declarations (e.g. search and
// detail lookup against the same API).
type Tool interface {
	// Spec returns the tool specification for Gemini function calling
	Spec() *genai.Tool

	// Execute runs the named function with normalized arguments and
	// returns structured findings
	Execute(ctx context.Context, name string, args map[string]any) (*Result, error)

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string

	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag
}

// EntityRef identifies the entity a finding belongs to, before canonical
// resolution. Aliases carry every identifier the source reported for the
// same entity; the aggregator uses them to resolve and merge.
type EntityRef struct {
	ID      string           `json:"id"`
	Symbol  string           `json:"symbol,omitempty"`
	Species string           `json:"species,omitempty"`
	Kind    model.EntityKind `json:"kind"`
	Aliases []string         `json:"aliases,omitempty"`

	Description string `json:"description,omitempty"`
}

// Finding is one evidence-bearing observation extracted from a tool result.
type Finding struct {
	Entity   EntityRef              `json:"entity"`
	Category model.EvidenceCategory `json:"category"`
	Payload  model.EvidencePayload  `json:"payload"`
}

// Result is the structured output of one tool invocation. Raw retains the
// source payload for provenance archival.
type Result struct {
	Findings []*Finding      `json:"findings"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}
