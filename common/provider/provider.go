// Package provider adapts LLM vendors behind a single research contract.
// Each client takes a prompt pair, asks its vendor for structured output,
// and returns validated candidate artifacts plus token usage. Malformed
// output is reported through Result.Warnings, never as an error.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Provider name constants. These double as budget ledger keys.
const (
	NameOpenAI    = "openai"
	NameAnthropic = "anthropic"
)

// Client runs one research request against an LLM vendor.
type Client interface {
	Research(ctx context.Context, req Request) (*Result, error)
	Name() string
	Model() string
}

// Config holds provider client configuration.
type Config struct {
	Provider           string // "openai" or "anthropic"
	APIKey             string // Required: API key for the vendor
	BaseURL            string // Optional: custom API endpoint
	Model              string // Model name (e.g., "gpt-4o-mini", "claude-sonnet-4-5")
	MaxTokens          int
	ReasoningEffort    string // Optional: "low", "medium", "high" for reasoning models (gpt-5.1, o1, o3)
	InputPricePerMTok  float64
	OutputPricePerMTok float64
}

// Request contains the prompts for one research run.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
}

// Result is the outcome of a research run. A run that produced unusable
// output still succeeds: Artifacts is empty and Warnings says why.
type Result struct {
	Artifacts []Artifact
	Warnings  []string
	Usage     Usage
}

// Artifact is one research candidate as produced by the vendor,
// validated and score-clamped but not yet deduplicated or scored overall.
type Artifact struct {
	Category   string
	Symbols    []string
	Thesis     string
	EntryRules []string
	ExitRules  []string
	Scores     SubScores
}

// SubScores are the per-dimension quality scores, each in [0, 1].
type SubScores struct {
	Structure  float64
	Validation float64
	Robustness float64
	Freshness  float64
}

// Usage reports token consumption and the dollar cost of one run.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// New creates a Client for the configured vendor.
// Defaults to Anthropic if no provider is specified.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	name := cfg.Provider
	if name == "" {
		name = NameAnthropic
	}

	switch name {
	case NameAnthropic:
		return newAnthropicProvider(cfg)
	case NameOpenAI:
		return newOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", name)
	}
}

// Registry maps scheduling roles ("scan", "deep") to the client serving them.
type Registry struct {
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(role string, c Client) {
	r.clients[role] = c
}

func (r *Registry) ForRole(role string) (Client, error) {
	c, ok := r.clients[role]
	if !ok {
		return nil, fmt.Errorf("no provider registered for role %q", role)
	}
	return c, nil
}

func (c Config) cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)*c.InputPricePerMTok/1e6 +
		float64(outputTokens)*c.OutputPricePerMTok/1e6
}

type researchPayload struct {
	Candidates []candidatePayload `json:"candidates" jsonschema_description:"Research candidates produced by this run"`
}

type candidatePayload struct {
	Category        string   `json:"category" jsonschema_description:"Strategy family, lowercase snake_case (e.g. momentum, mean_reversion, event_driven)"`
	Symbols         []string `json:"symbols" jsonschema_description:"Tickers or instruments the idea trades"`
	Thesis          string   `json:"thesis" jsonschema_description:"Why the idea should work, 2-4 sentences"`
	EntryRules      []string `json:"entry_rules" jsonschema_description:"Concrete conditions that open a position"`
	ExitRules       []string `json:"exit_rules" jsonschema_description:"Concrete conditions that close a position"`
	StructureScore  float64  `json:"structure_score" jsonschema_description:"Structural quality of the idea, 0.0-1.0"`
	ValidationScore float64  `json:"validation_score" jsonschema_description:"Strength of supporting evidence, 0.0-1.0"`
	RobustnessScore float64  `json:"robustness_score" jsonschema_description:"Expected resilience across market regimes, 0.0-1.0"`
	FreshnessScore  float64  `json:"freshness_score" jsonschema_description:"How current the supporting signal is, 0.0-1.0"`
}

var researchSchema = generateSchema[researchPayload]()

func generateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// convertPayload validates vendor output candidate by candidate. Entries
// missing a category or thesis are dropped with a warning rather than
// failing the run.
func convertPayload(p researchPayload) ([]Artifact, []string) {
	var artifacts []Artifact
	var warnings []string

	for i, c := range p.Candidates {
		category := strings.TrimSpace(c.Category)
		thesis := strings.TrimSpace(c.Thesis)
		if category == "" || thesis == "" {
			warnings = append(warnings, fmt.Sprintf("candidate %d missing category or thesis, dropped", i))
			continue
		}

		artifacts = append(artifacts, Artifact{
			Category:   category,
			Symbols:    c.Symbols,
			Thesis:     thesis,
			EntryRules: c.EntryRules,
			ExitRules:  c.ExitRules,
			Scores: SubScores{
				Structure:  clamp01(c.StructureScore),
				Validation: clamp01(c.ValidationScore),
				Robustness: clamp01(c.RobustnessScore),
				Freshness:  clamp01(c.FreshnessScore),
			},
		})
	}

	return artifacts, warnings
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
